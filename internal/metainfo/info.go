package metainfo

import (
	"crypto/sha1" //nolint:gosec // info-hash identity is defined as SHA-1 by the protocol
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/bencode"

	"github.com/cenkalti/rain/internal/piece"
)

// File is one entry of a multi-file torrent.
type File struct {
	Length int64
	Path   []string
}

// Info is the parsed and validated "info" dictionary: the immutable
// identity of a torrent — files, piece hashes, piece length.
type Info struct {
	Name        string
	PieceLength uint32
	NumPieces   int
	Pieces      []byte // concatenated 20-byte SHA-1 hashes
	Private     int64
	Source      string
	Files       []File
	Length      int64 // total size, sum of all file lengths
	InfoSize    uint32
	Hash        [20]byte
	Bytes       []byte // raw bencode of the info dict, for resume
}

type rawInfo struct {
	Name        string          `bencode:"name"`
	PieceLength uint32          `bencode:"piece length"`
	Pieces      string          `bencode:"pieces"`
	Private     int64           `bencode:"private,omitempty"`
	Source      string          `bencode:"source,omitempty"`
	Length      int64         `bencode:"length"`
	Files       []rawFileDict `bencode:"files"`
}

type rawFileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo parses and validates a raw bencoded "info" dictionary.
func NewInfo(b []byte) (*Info, error) {
	var ri rawInfo
	if err := bencode.DecodeBytes(b, &ri); err != nil {
		return nil, fmt.Errorf("cannot decode info dict: %w", err)
	}
	if ri.PieceLength == 0 || ri.PieceLength&(ri.PieceLength-1) != 0 {
		return nil, errors.New("piece length is not a positive power of two")
	}
	if ri.PieceLength < 16*1024 {
		return nil, errors.New("piece length is smaller than 16 KiB")
	}
	if len(ri.Pieces)%20 != 0 {
		return nil, errors.New("invalid pieces length, not a multiple of 20")
	}
	numPieces := len(ri.Pieces) / 20

	info := &Info{
		Name:        ri.Name,
		PieceLength: ri.PieceLength,
		NumPieces:   numPieces,
		Pieces:      []byte(ri.Pieces),
		Private:     ri.Private,
		Source:      ri.Source,
		Bytes:       b,
		InfoSize:    uint32(len(b)),
	}

	switch {
	case len(ri.Files) == 0:
		if ri.Length <= 0 {
			return nil, errors.New("single-file torrent must have a positive length")
		}
		if err := validatePath(ri.Name); err != nil {
			return nil, err
		}
		info.Length = ri.Length
		info.Files = []File{{Length: ri.Length, Path: []string{ri.Name}}}
	default:
		var total int64
		for _, f := range ri.Files {
			if len(f.Path) == 0 {
				return nil, errors.New("empty file path")
			}
			for _, seg := range f.Path {
				if err := validatePath(seg); err != nil {
					return nil, err
				}
			}
			if f.Length <= 0 {
				return nil, errors.New("file length must be positive")
			}
			total += f.Length
			info.Files = append(info.Files, File{Length: f.Length, Path: f.Path})
		}
		info.Length = total
	}

	expectedPieces := (info.Length + int64(info.PieceLength) - 1) / int64(info.PieceLength)
	if expectedPieces != int64(numPieces) {
		return nil, fmt.Errorf("piece count mismatch: have %d hashes, expect %d for total size %d", numPieces, expectedPieces, info.Length)
	}

	info.Hash = sha1.Sum(b) //nolint:gosec
	return info, nil
}

func validatePath(seg string) error {
	if seg == "" {
		return errors.New("empty path segment")
	}
	if seg == "." || seg == ".." {
		return fmt.Errorf("invalid path segment %q", seg)
	}
	if strings.ContainsAny(seg, "/\\") {
		return fmt.Errorf("invalid path segment %q: embedded separator", seg)
	}
	return nil
}

// PieceHash returns the expected SHA-1 hash of piece i.
func (info *Info) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], info.Pieces[i*20:i*20+20])
	return h
}

// Hashes returns every piece's expected SHA-1 hash, in order.
func (info *Info) Hashes() [][20]byte {
	out := make([][20]byte, info.NumPieces)
	for i := range out {
		out[i] = info.PieceHash(i)
	}
	return out
}

// PieceRange returns the half-open piece-index range [from, to) spanned by
// file i, including any piece the file merely touches at its boundaries.
// Used to translate a file-level set_priority/set_wanted call into the
// underlying piece-level state.
func (info *Info) PieceRange(i int) (from, to uint32) {
	var offset int64
	for j := 0; j < i; j++ {
		offset += info.Files[j].Length
	}
	start := piece.LocateByte(offset, info.PieceLength)
	end := piece.LocateByte(offset+info.Files[i].Length-1, info.PieceLength)
	return start.Piece, end.Piece + 1
}

// PieceLengthAt returns the length in bytes of piece i (the last piece may
// be shorter than PieceLength).
func (info *Info) PieceLengthAt(i int) uint32 {
	if i != info.NumPieces-1 {
		return info.PieceLength
	}
	rem := info.Length - int64(info.PieceLength)*int64(info.NumPieces-1)
	return uint32(rem)
}

// reservedDeviceNames are Windows device names that cannot be used as a
// path segment regardless of extension.
var reservedDeviceNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

const invalidChars = `<>:"/\|?*`

// Sanitize returns a portable form of a path segment: leading/trailing
// whitespace trimmed, characters in `<>:"/\|?*` (and control characters)
// replaced with '_', and reserved Windows device names prefixed with '_'.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 0x20:
			b.WriteByte('_')
		case strings.ContainsRune(invalidChars, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	base := out
	if i := strings.LastIndexByte(out, '.'); i >= 0 {
		base = out[:i]
	}
	if _, reserved := reservedDeviceNames[strings.ToUpper(base)]; reserved {
		out = "_" + out
	}
	return out
}

// IsPortable reports whether s is already in sanitized form.
func IsPortable(s string) bool { return Sanitize(s) == s }

// SanitizedPath returns the joined, portable form of a file's path segments.
func (f File) SanitizedPath() []string {
	out := make([]string, len(f.Path))
	for i, seg := range f.Path {
		out[i] = Sanitize(seg)
	}
	return out
}
