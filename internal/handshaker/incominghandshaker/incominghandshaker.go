// Package incominghandshaker runs the server side of a peer handshake
// (optionally preceded by MSE negotiation) for one accepted connection,
// reporting the result on a channel so the caller's event loop never
// blocks on network I/O.
package incominghandshaker

import (
	"net"
	"time"

	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/btconn"
)

// IncomingHandshaker runs one accepted connection's handshake.
type IncomingHandshaker struct {
	Conn       net.Conn
	PeerID     [20]byte
	Extensions *bitfield.Bitfield
	Error      error

	resultC chan *IncomingHandshaker
	closeC  chan struct{}
}

// New wraps an accepted connection, not yet started.
func New(conn net.Conn) *IncomingHandshaker {
	return &IncomingHandshaker{
		Conn:   conn,
		closeC: make(chan struct{}),
	}
}

// Close aborts the in-progress handshake by closing the underlying conn.
func (h *IncomingHandshaker) Close() {
	close(h.closeC)
	h.Conn.Close()
}

// Run performs the handshake and sends h on resultC when done.
func (h *IncomingHandshaker) Run(
	ourID [20]byte,
	getSKey func([20]byte) []byte,
	checkInfoHash func([20]byte) bool,
	resultC chan *IncomingHandshaker,
	timeout time.Duration,
	ourExtensions *bitfield.Bitfield,
	forceEncryption bool,
) {
	h.resultC = resultC
	conn, _, exts, peerID, err := btconn.Accept(h.Conn, timeout, getSKey, checkInfoHash, ourExtensions, forceEncryption, ourID)
	h.Error = err
	if err == nil {
		h.Conn = conn
		h.Extensions = exts
		h.PeerID = peerID
	}
	select {
	case resultC <- h:
	case <-h.closeC:
	}
}
