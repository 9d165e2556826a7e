// Package allocator opens and, for newly created files, pre-allocates the
// on-disk files of a torrent in the background so the torrent event loop
// is never blocked on filesystem calls.
package allocator

import (
	"errors"

	"github.com/cenkalti/rain/internal/storage"
)

var errClosed = errors.New("allocator closed")

// Progress reports incremental allocation progress.
type Progress struct {
	AllocatedSize int64
}

// FileSpec is one file to be opened/created by the allocator.
type FileSpec struct {
	Path   string
	Length int64
}

// Allocator opens every file of a torrent, reporting progress and the
// final result asynchronously.
type Allocator struct {
	Files []storage.File
	Error error

	closeC chan struct{}
}

// New returns an Allocator, not yet started.
func New() *Allocator {
	return &Allocator{closeC: make(chan struct{})}
}

// Close aborts an in-progress allocation.
func (a *Allocator) Close() { close(a.closeC) }

// Run opens each file in files under sto, in order, sending incremental
// progress to progressC and finally itself to resultC.
func (a *Allocator) Run(sto storage.Storage, files []FileSpec, progressC chan Progress, resultC chan *Allocator) {
	var allocated int64
	out := make([]storage.File, 0, len(files))
loop:
	for _, fs := range files {
		f, err := sto.Open(fs.Path, fs.Length)
		if err != nil {
			a.Error = err
			break
		}
		out = append(out, f)
		allocated += fs.Length
		select {
		case progressC <- Progress{AllocatedSize: allocated}:
		case <-a.closeC:
			a.Error = errClosed
			break loop
		}
	}
	a.Files = out
	select {
	case resultC <- a:
	case <-a.closeC:
	}
}
