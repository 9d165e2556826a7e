// Package peerwriter serializes outgoing peer wire messages onto a
// net.Conn from a queue, running in its own goroutine, and sends
// keep-alives when the connection has been otherwise idle.
package peerwriter

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/rain/internal/logger"
	"github.com/cenkalti/rain/internal/peerprotocol"
	"github.com/cenkalti/rain/internal/ratelimit"
)

// PeerWriter serializes queued messages to conn.
type PeerWriter struct {
	conn     net.Conn
	log      logger.Logger
	queue    chan peerprotocol.Message
	lastSent time.Time
	limiter  *ratelimit.Limiter
}

// New returns a PeerWriter over conn. limiter may be nil for no cap.
func New(conn net.Conn, l logger.Logger, limiter *ratelimit.Limiter) *PeerWriter {
	return &PeerWriter{
		conn:    conn,
		log:     l,
		queue:   make(chan peerprotocol.Message, 256),
		limiter: limiter,
	}
}

// SendMessage enqueues msg for writing. It never blocks the caller for
// long: the queue is large and Run drains it as fast as the socket allows.
func (w *PeerWriter) SendMessage(msg peerprotocol.Message) {
	w.queue <- msg
}

// LastSentAt returns the time of the most recent successful write.
func (w *PeerWriter) LastSentAt() time.Time { return w.lastSent }

// Run writes queued messages until closeC closes.
func (w *PeerWriter) Run(closeC chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-closeC:
			cancel()
		case <-ctx.Done():
		}
	}()

	keepAlive := time.NewTicker(60 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case msg := <-w.queue:
			if msg.ID() == peerprotocol.Piece && w.limiter != nil {
				if err := w.limiter.WaitN(ctx, len(msg.Payload())); err != nil {
					return
				}
			}
			if err := peerprotocol.WriteMessage(w.conn, msg); err != nil {
				return
			}
			w.lastSent = time.Now()
		case <-keepAlive.C:
			if time.Since(w.lastSent) > 90*time.Second {
				if err := peerprotocol.WriteKeepAlive(w.conn); err != nil {
					return
				}
				w.lastSent = time.Now()
			}
		case <-closeC:
			return
		}
	}
}
