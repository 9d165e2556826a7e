package metainfo

import (
	"crypto/sha1" //nolint:gosec // info-hash identity is defined as SHA-1 by the protocol
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// defaultPieceSize picks a piece length, in bytes, that keeps the pieces
// list a reasonable size for totalLength: the classic doubling schedule
// transmission's own torrent creator uses.
func defaultPieceSize(totalLength int64) uint32 {
	const (
		minSize = 16 * 1024
		maxSize = 16 * 1024 * 1024
	)
	size := uint32(minSize)
	for int64(size)*1024 < totalLength && size < maxSize {
		size *= 2
	}
	return size
}

// CreateOptions configures Create.
type CreateOptions struct {
	// PieceLength overrides the default piece size, in bytes. Must be a
	// power of two. Zero picks one automatically.
	PieceLength uint32
	Private     bool
	Source      string
	Comment     string
	Trackers    []string
	WebSeeds    []string
	// Anonymize omits the creation date and "created by" field.
	Anonymize bool
}

// Create builds a MetaInfo manifest for the file or directory at path,
// hashing every piece. The manifest's single top-level entry is named
// after path's base name.
func Create(path string, opts CreateOptions) (*MetaInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []File
	var total int64
	name := filepath.Base(filepath.Clean(path))

	if fi.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(path, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, File{Length: info.Size(), Path: splitPath(rel)})
			total += info.Size()
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Slice(files, func(i, j int) bool {
			return filepath.Join(files[i].Path...) < filepath.Join(files[j].Path...)
		})
	} else {
		files = []File{{Length: fi.Size(), Path: []string{name}}}
		total = fi.Size()
	}

	pieceLength := opts.PieceLength
	if pieceLength == 0 {
		pieceLength = defaultPieceSize(total)
	}

	pieces, err := hashPieces(path, fi.IsDir(), files, pieceLength)
	if err != nil {
		return nil, err
	}

	ri := rawInfo{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      string(pieces),
		Private:     0,
		Source:      opts.Source,
	}
	if opts.Private {
		ri.Private = 1
	}
	if len(files) == 1 && !fi.IsDir() {
		ri.Length = files[0].Length
	} else {
		ri.Files = make([]rawFileDict, len(files))
		for i, f := range files {
			ri.Files[i] = rawFileDict{Length: f.Length, Path: f.Path}
		}
	}

	rawInfoBytes, err := bencode.EncodeBytes(&ri)
	if err != nil {
		return nil, err
	}
	info, err := NewInfo(rawInfoBytes)
	if err != nil {
		return nil, err
	}

	m := &MetaInfo{
		Info:    info,
		RawInfo: rawInfoBytes,
		URLList: opts.WebSeeds,
		Comment: opts.Comment,
	}
	if len(opts.Trackers) > 0 {
		m.Announce = opts.Trackers[0]
		for _, t := range opts.Trackers {
			m.AnnounceList = append(m.AnnounceList, []string{t})
		}
	}
	if !opts.Anonymize {
		m.CreationDate = time.Now().Unix()
		m.CreatedBy = "Rain"
	}
	return m, nil
}

func splitPath(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}

// hashPieces reads every file in order and returns the concatenated 20-byte
// SHA-1 hash of each pieceLength-sized chunk across their combined bytes.
func hashPieces(root string, isDir bool, files []File, pieceLength uint32) ([]byte, error) {
	var out []byte
	buf := make([]byte, pieceLength)
	var filled uint32
	h := sha1.New() //nolint:gosec

	flush := func() {
		out = append(out, h.Sum(nil)...)
		h.Reset()
		filled = 0
	}

	for _, f := range files {
		p := root
		if isDir {
			p = filepath.Join(append([]string{root}, f.Path...)...)
		}
		r, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		for {
			n, err := r.Read(buf[filled:])
			filled += uint32(n)
			if n > 0 {
				h.Write(buf[filled-uint32(n) : filled]) //nolint:errcheck
			}
			if filled == pieceLength {
				flush()
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				return nil, err
			}
		}
		r.Close()
	}
	if filled > 0 {
		flush()
	}
	return out, nil
}

// Encode re-serializes the manifest, reflecting any mutation made to
// Announce/AnnounceList/Comment/... since it was parsed or created. The
// info dictionary itself is carried over verbatim from RawInfo, since info
// is immutable once hashed.
func (m *MetaInfo) Encode() ([]byte, error) {
	type wire struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
		CreationDate int64              `bencode:"creation date,omitempty"`
		Comment      string             `bencode:"comment,omitempty"`
		CreatedBy    string             `bencode:"created by,omitempty"`
		Encoding     string             `bencode:"encoding,omitempty"`
		URLList      []string           `bencode:"url-list,omitempty"`
	}
	w := wire{
		Info:         bencode.RawMessage(m.RawInfo),
		Announce:     m.Announce,
		AnnounceList: m.AnnounceList,
		CreationDate: m.CreationDate,
		Comment:      m.Comment,
		CreatedBy:    m.CreatedBy,
		Encoding:     m.Encoding,
		URLList:      m.URLList,
	}
	return bencode.EncodeBytes(&w)
}
