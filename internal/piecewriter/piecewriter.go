// Package piecewriter flushes a completed piece's assembled bytes to
// storage in the background, so the torrent event loop is never blocked
// on disk I/O.
package piecewriter

import (
	"github.com/cenkalti/rain/internal/piece"
)

// WriterAt writes piece data to the torrent's opened files.
type WriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// PieceWriter flushes one piece's buffer to disk.
type PieceWriter struct {
	Piece  *piece.Piece
	Buffer []byte
	Error  error
}

// New returns a PieceWriter for pi, holding buf (the assembled piece bytes)
// until Run completes.
func New(pi *piece.Piece, buf []byte) *PieceWriter {
	return &PieceWriter{Piece: pi, Buffer: buf}
}

// Run writes the buffer to w at the piece's absolute byte offset
// (index * pieceLength) and sends itself on resultC when done. If sync is
// true and w supports it, the write is flushed to stable storage before
// reporting completion.
func (w *PieceWriter) Run(pieceLength int64, wr WriterAt, sync bool, resultC chan *PieceWriter) {
	off := int64(w.Piece.Index) * pieceLength
	_, err := wr.WriteAt(w.Buffer, off)
	if err == nil && sync {
		if s, ok := wr.(interface{ Sync() error }); ok {
			err = s.Sync()
		}
	}
	w.Error = err
	resultC <- w
}
