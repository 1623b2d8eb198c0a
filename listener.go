package jbus

import (
	"fmt"
	"log"

	"github.com/AxioDL/jbus/internal/netsock"
)

// Listener binds the data and clock loopback ports and pairs each data
// connection with the clock connection that follows it into a new
// Endpoint, handed out one at a time through Accept.
type Listener struct {
	dataListener  *netsock.ListenSocket
	clockListener *netsock.ListenSocket

	nextChan byte

	endpoints chan *Endpoint
	stopCh    chan struct{}
	doneCh    chan struct{}

	logger *log.Logger
}

// NewListener binds both ports and starts the pairing goroutine. logger
// may be nil, in which case listener events are discarded.
func NewListener(logger *log.Logger) (*Listener, error) {
	return newListenerOn(fmt.Sprintf("127.0.0.1:%d", DataPort), fmt.Sprintf("127.0.0.1:%d", ClockPort), logger)
}

// newListenerOn is NewListener parameterized over both addresses, so tests
// can bind ephemeral ports instead of the fixed production ones.
func newListenerOn(dataAddr, clockAddr string, logger *log.Logger) (*Listener, error) {
	dl, err := netsock.Listen(dataAddr)
	if err != nil {
		return nil, fmt.Errorf("jbus: listen data port: %w", err)
	}
	cl, err := netsock.Listen(clockAddr)
	if err != nil {
		dl.Close()
		return nil, fmt.Errorf("jbus: listen clock port: %w", err)
	}
	if logger == nil {
		logger = log.New(logDiscard{}, "", 0)
	}
	l := &Listener{
		dataListener:  dl,
		clockListener: cl,
		endpoints:     make(chan *Endpoint),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        logger,
	}
	go l.acceptLoop()
	return l, nil
}

// Accept blocks until the next paired Endpoint is ready, or returns nil if
// the Listener has been stopped.
func (l *Listener) Accept() *Endpoint {
	ep, ok := <-l.endpoints
	if !ok {
		return nil
	}
	return ep
}

// Stop closes both listening sockets and stops accepting new pairs.
func (l *Listener) Stop() {
	close(l.stopCh)
	l.dataListener.Close()
	l.clockListener.Close()
	<-l.doneCh
}

func (l *Listener) acceptLoop() {
	defer close(l.doneCh)
	defer close(l.endpoints)

	for {
		data := l.pollAccept(l.dataListener)
		if data == nil {
			return
		}
		clock := l.pollAccept(l.clockListener)
		if clock == nil {
			data.Close()
			return
		}

		chanID := l.nextChan
		if l.nextChan < 3 {
			l.nextChan++
		}

		ep := NewEndpoint(data, clock, chanID)
		l.logger.Printf("jbus: endpoint paired on channel %d", chanID)

		select {
		case l.endpoints <- ep:
		case <-l.stopCh:
			ep.Stop()
			return
		}
	}
}

// pollAccept retries Accept on ln until it succeeds, the listener stops
// from underneath it, or is asked to stop.
func (l *Listener) pollAccept(ln *netsock.ListenSocket) *netsock.Socket {
	for {
		select {
		case <-l.stopCh:
			return nil
		default:
		}
		s, res := ln.Accept()
		switch res {
		case netsock.OK:
			return s
		case netsock.Busy:
			continue
		default:
			return nil
		}
	}
}

// logDiscard is an io.Writer that throws everything away, used as the
// default destination when NewListener is given no logger.
type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }
