package netsock

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.ln.Addr().String()

	dialed := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		dialed <- c
	}()

	var accepted *Socket
	for accepted == nil {
		s, res := ln.Accept()
		if res == OK {
			accepted = s
		}
	}
	client := <-dialed
	defer client.Close()

	n, res := accepted.Send([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, OK, res)
	assert.Equal(t, 3, n)

	buf := make([]byte, 3)
	nr, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, nr)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf)
}

func TestAcceptBusyOnTimeout(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	start := time.Now()
	_, res := ln.Accept()
	assert.Equal(t, Busy, res)
	assert.GreaterOrEqual(t, time.Since(start), pollTimeout)
}

func TestRecvOnClosedSocketIsError(t *testing.T) {
	s := &Socket{}
	n, res := s.Recv(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, Error, res)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := &Socket{}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
}
