// Package filestorage implements storage.Storage on top of the local
// filesystem, one file per torrent file rooted under a destination directory.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/cenkalti/rain/internal/storage"
)

// FileStorage opens torrent files under a root destination directory.
type FileStorage struct {
	dest string
}

// New returns a FileStorage rooted at dest, creating the directory if needed.
func New(dest string) (*FileStorage, error) {
	if err := os.MkdirAll(dest, 0750); err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

// Dest returns the root directory this storage was created with.
func (s *FileStorage) Dest() string { return s.dest }

// Open returns the file at the given relative path, creating parent
// directories and truncating/extending it to length if necessary.
func (s *FileStorage) Open(path string, length int64) (storage.File, error) {
	abs := filepath.Join(s.dest, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != length {
		if err = f.Truncate(length); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &File{f: f, name: path, size: length}, nil
}

// File is one torrent file backed by an *os.File.
type File struct {
	f    *os.File
	name string
	size int64
}

func (fl *File) ReadAt(b []byte, off int64) (int, error)  { return fl.f.ReadAt(b, off) }
func (fl *File) WriteAt(b []byte, off int64) (int, error) { return fl.f.WriteAt(b, off) }
func (fl *File) Close() error                             { return fl.f.Close() }
func (fl *File) Name() string                             { return fl.name }
func (fl *File) Size() int64                              { return fl.size }

// Sync flushes the file to disk; used when FsyncOnPieceFlush is enabled.
func (fl *File) Sync() error { return fl.f.Sync() }
