// Package outgoinghandshaker runs the client side of a peer handshake for
// one dialed address, reporting the result on a channel.
package outgoinghandshaker

import (
	"net"
	"time"

	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/btconn"
)

// OutgoingHandshaker runs one outgoing dial + handshake.
type OutgoingHandshaker struct {
	Addr       *net.TCPAddr
	Conn       net.Conn
	PeerID     [20]byte
	Extensions *bitfield.Bitfield
	Error      error

	closeC chan struct{}
}

// New wraps a destination address, not yet started.
func New(addr *net.TCPAddr) *OutgoingHandshaker {
	return &OutgoingHandshaker{
		Addr:   addr,
		closeC: make(chan struct{}),
	}
}

// Close makes Run drop its result instead of sending it, and closes Conn if
// the handshake has already set it. A dial or handshake still in progress
// is not interrupted; it ends at its own timeout.
func (h *OutgoingHandshaker) Close() {
	close(h.closeC)
	if h.Conn != nil {
		h.Conn.Close()
	}
}

// Run dials, optionally negotiates MSE, performs the plain handshake and
// sends h on resultC when done.
func (h *OutgoingHandshaker) Run(
	connectTimeout, handshakeTimeout time.Duration,
	ourID, infoHash [20]byte,
	resultC chan *OutgoingHandshaker,
	ourExtensions *bitfield.Bitfield,
	disableEncryption, forceEncryption bool,
) {
	conn, _, exts, peerID, err := btconn.Dial(
		h.Addr, connectTimeout, handshakeTimeout,
		disableEncryption, forceEncryption,
		ourExtensions, ourID, infoHash,
	)
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
