package jbus

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerPairsDataAndClockConnectionsInOrder(t *testing.T) {
	l, err := newListenerOn("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Stop()

	dataAddr := l.dataListener.Addr()
	clockAddr := l.clockListener.Addr()

	dataConn, err := net.Dial("tcp", dataAddr)
	require.NoError(t, err)
	defer dataConn.Close()

	clockConn, err := net.Dial("tcp", clockAddr)
	require.NoError(t, err)
	defer clockConn.Close()

	select {
	case ep := <-waitAccept(l):
		require.NotNil(t, ep)
		assert.EqualValues(t, 0, ep.Chan())
		ep.Stop()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never paired the connections")
	}
}

func TestListenerAssignsIncrementingChannelsUpToThree(t *testing.T) {
	l, err := newListenerOn("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Stop()

	dataAddr := l.dataListener.Addr()
	clockAddr := l.clockListener.Addr()

	var gotChans []byte
	for i := 0; i < 5; i++ {
		dc, err := net.Dial("tcp", dataAddr)
		require.NoError(t, err)
		defer dc.Close()
		cc, err := net.Dial("tcp", clockAddr)
		require.NoError(t, err)
		defer cc.Close()

		select {
		case ep := <-waitAccept(l):
			require.NotNil(t, ep)
			gotChans = append(gotChans, ep.Chan())
			defer ep.Stop()
		case <-time.After(2 * time.Second):
			t.Fatalf("pairing %d timed out", i)
		}
	}

	assert.Equal(t, []byte{0, 1, 2, 3, 3}, gotChans)
}

// waitAccept wraps Listener.Accept in a channel so callers can select
// against it with a timeout.
func waitAccept(l *Listener) <-chan *Endpoint {
	ch := make(chan *Endpoint, 1)
	go func() { ch <- l.Accept() }()
	return ch
}
