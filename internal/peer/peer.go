// Package peer tracks per-connection protocol state (choke/interest,
// extension handshake, snubbing) on top of a peerconn.Conn, and forwards
// decoded messages to the torrent's single-threaded event loop.
package peer

import (
	"time"

	"github.com/cenkalti/rain/internal/peerconn"
	"github.com/cenkalti/rain/internal/peerconn/peerreader"
	"github.com/cenkalti/rain/internal/peerprotocol"
)

// Message is a non-piece message received from a peer, tagged with its sender.
type Message struct {
	Peer    *Peer
	Message interface{}
}

// PieceMessage is a received block of piece data, tagged with its sender.
type PieceMessage struct {
	Peer  *Peer
	Piece peerreader.Piece
}

// PEXer is the subset of the peer-exchange state a connected peer carries,
// implemented by internal/pex.
type PEXer interface {
	Add(interface{})
	Drop(interface{})
}

// Peer is the session-level state for one connected, handshaked peer.
type Peer struct {
	*peerconn.Conn

	// Choke/interest state, per BEP 3.
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	// True if kept unchoked regardless of upload rate, see tickOptimisticUnchoke.
	OptimisticUnchoked bool

	// True when we've decided this peer is too slow and stopped requesting from it.
	Snubbed bool

	// True while a piece download is in progress with this peer.
	Downloading bool

	// Accumulated since the last unchoke tick, reset every 10s.
	BytesDownlaodedInChokePeriod int64
	BytesUploadedInChokePeriod   int64

	// Set after the peer's extension handshake (message id 20, extended id 0) arrives.
	ExtensionHandshake *peerprotocol.ExtensionHandshakeMessage

	// Non-nil when peer exchange (BEP 11) is enabled and the peer supports it.
	PEX PEXer

	// Messages received before metadata was available are buffered here and
	// replayed once info is known.
	Messages []interface{}

	requestTimeout time.Duration
}

// New wraps an already-handshaked connection, not yet started.
func New(conn *peerconn.Conn, requestTimeout time.Duration) *Peer {
	return &Peer{
		Conn:           conn,
		requestTimeout: requestTimeout,
	}
}

// Run reads decoded messages off the connection and forwards them to the
// torrent's event loop, until the connection closes.
func (p *Peer) Run(messages chan Message, pieceMessages chan PieceMessage, snubbedC chan *Peer, disconnectedC chan *Peer) {
	connDone := make(chan struct{})
	go func() {
		p.Conn.Run()
		close(connDone)
	}()

	var snubTimerC <-chan time.Time
	var snubTimer *time.Timer
	resetSnubTimer := func() {
		if p.requestTimeout <= 0 {
			return
		}
		if snubTimer == nil {
			snubTimer = time.NewTimer(p.requestTimeout)
		} else {
			if !snubTimer.Stop() {
				select {
				case <-snubTimer.C:
				default:
				}
			}
			snubTimer.Reset(p.requestTimeout)
		}
		snubTimerC = snubTimer.C
	}

	for {
		select {
		case msg, ok := <-p.Conn.Messages():
			if !ok {
				goto done
			}
			switch m := msg.(type) {
			case *peerreader.Piece:
				resetSnubTimer()
				select {
				case pieceMessages <- PieceMessage{Peer: p, Piece: *m}:
				case <-connDone:
					goto done
				}
			default:
				select {
				case messages <- Message{Peer: p, Message: msg}:
				case <-connDone:
					goto done
				}
			}
		case <-snubTimerC:
			if p.Downloading {
				select {
				case snubbedC <- p:
				case <-connDone:
					goto done
				}
			}
		case <-connDone:
			goto done
		}
	}
done:
	if snubTimer != nil {
		snubTimer.Stop()
	}
	select {
	case disconnectedC <- p:
	case <-connDone:
	}
}
