// Package verifier hashes each piece of a torrent's on-disk data against
// its expected SHA-1, in the background, yielding briefly so a large
// torrent's verification doesn't starve other disk users.
package verifier

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"time"

	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/piece"
)

var errClosed = errors.New("verifier closed")

// Progress reports how many pieces have been checked so far.
type Progress struct {
	Checked uint32
}

// Verifier hash-checks every piece of a torrent against the files opened by
// the allocator.
type Verifier struct {
	Bitfield *bitfield.Bitfield
	Error    error

	closeC chan struct{}
}

// New returns a Verifier, not yet started.
func New() *Verifier {
	return &Verifier{closeC: make(chan struct{})}
}

// Close aborts an in-progress verification.
func (v *Verifier) Close() { close(v.closeC) }

// ReaderAt reads piece data from the torrent's opened files, given a piece's
// absolute byte offset and length.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Run hashes every piece in pieces, reading each from r at its absolute
// byte offset, and sets the corresponding bit in the resulting bitfield on
// a match. Progress and the final result are reported asynchronously.
func (v *Verifier) Run(pieces []piece.Piece, pieceLength int64, r ReaderAt, progressC chan Progress, resultC chan *Verifier) {
	bf := bitfield.New(uint32(len(pieces)))
	buf := make([]byte, 0)
	lastSleep := time.Now()
loop:
	for i, p := range pieces {
		if cap(buf) < int(p.Length) {
			buf = make([]byte, p.Length)
		}
		b := buf[:p.Length]
		off := int64(i) * pieceLength
		if _, err := r.ReadAt(b, off); err != nil {
			// Missing or short files simply mean the piece isn't there yet.
		} else if sha1.Sum(b) == p.Hash { // nolint: gosec
			bf.Set(uint32(i))
		}
		select {
		case progressC <- Progress{Checked: uint32(i) + 1}:
		case <-v.closeC:
			v.Error = errClosed
			break loop
		}
		if time.Since(lastSleep) >= time.Second {
			time.Sleep(100 * time.Millisecond)
			lastSleep = time.Now()
		}
	}
	v.Bitfield = bf
	select {
	case resultC <- v:
	case <-v.closeC:
	}
}
