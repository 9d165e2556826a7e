// Package ratelimit provides hierarchical token-bucket limiters for peer
// upload/download bandwidth: a session-wide limiter composed with a
// per-torrent limiter, so both caps are enforced on every transfer.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Unlimited disables a limiter's cap.
const Unlimited = rate.Inf

// Limiter enforces a session-wide cap and, optionally, a narrower
// per-torrent cap on top of it.
type Limiter struct {
	session *rate.Limiter
	torrent *rate.Limiter
}

// New returns a Limiter. A zero or negative bytesPerSec means unlimited.
func New(bytesPerSec int) *Limiter {
	return &Limiter{session: newBucket(bytesPerSec)}
}

// WithTorrentLimit returns a copy of l with an additional per-torrent cap.
func (l *Limiter) WithTorrentLimit(bytesPerSec int) *Limiter {
	return &Limiter{session: l.session, torrent: newBucket(bytesPerSec)}
}

func newBucket(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

// SetLimit changes the session-wide cap at runtime.
func (l *Limiter) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		l.session.SetLimit(rate.Inf)
		return
	}
	l.session.SetLimit(rate.Limit(bytesPerSec))
	l.session.SetBurst(bytesPerSec)
}

// WaitN blocks until n bytes may be transferred under both the session and
// (if set) torrent caps.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l.torrent != nil {
		if err := l.torrent.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return l.session.WaitN(ctx, n)
}

// AllowN reports whether n bytes may be transferred right now, under both
// caps, consuming tokens if so.
func (l *Limiter) AllowN(n int) bool {
	if l.torrent != nil && !l.torrent.AllowN(time.Now(), n) {
		return false
	}
	return l.session.AllowN(time.Now(), n)
}
