// Package acceptor listens for incoming peer connections and hands each
// raw net.Conn off to a channel, so accept() never blocks the caller.
package acceptor

import (
	"net"

	"github.com/cenkalti/rain/internal/logger"
)

// Acceptor runs a TCP listener and forwards accepted connections.
type Acceptor struct {
	listener net.Listener
	log      logger.Logger
	connC    chan net.Conn
	closeC   chan struct{}
}

// New starts listening on laddr (host:port, port 0 picks a free one).
func New(laddr string, connC chan net.Conn, l logger.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		listener: ln,
		log:      l,
		connC:    connC,
		closeC:   make(chan struct{}),
	}, nil
}

// Port returns the port being listened on.
func (a *Acceptor) Port() int {
	return a.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	close(a.closeC)
	return a.listener.Close()
}

// Run accepts connections until Close is called.
func (a *Acceptor) Run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
				return
			default:
				a.log.Debugln("cannot accept connection:", err)
				continue
			}
		}
		select {
		case a.connC <- conn:
		case <-a.closeC:
			conn.Close()
			return
		}
	}
}
