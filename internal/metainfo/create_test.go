package metainfo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSingleFile(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	data := make([]byte, 100*1024)
	for i := range data {
		data[i] = byte(i)
	}
	r.NoError(os.WriteFile(path, data, 0644))

	m, err := Create(path, CreateOptions{
		PieceLength: 32 * 1024,
		Trackers:    []string{"udp://tracker.example.com:80/announce"},
		Comment:     "a test torrent",
	})
	r.NoError(err)

	r.Equal("file.bin", m.Info.Name)
	r.EqualValues(len(data), m.Info.Length)
	r.Equal("a test torrent", m.Comment)
	r.Equal("udp://tracker.example.com:80/announce", m.Announce)
	r.Len(m.Info.Files, 1)
	r.EqualValues(0, m.Info.Private)

	// Round trips through Encode/New without losing the info hash.
	b, err := m.Encode()
	r.NoError(err)
	m2, err := New(bytes.NewReader(b))
	r.NoError(err)
	r.Equal(m.Info.Hash, m2.Info.Hash)
}

func TestCreateDirectoryIsPrivateWithSource(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	r.NoError(os.MkdirAll(filepath.Join(dir, "root", "sub"), 0755))
	r.NoError(os.WriteFile(filepath.Join(dir, "root", "a.txt"), []byte("hello"), 0644))
	r.NoError(os.WriteFile(filepath.Join(dir, "root", "sub", "b.txt"), []byte("world!!"), 0644))

	m, err := Create(filepath.Join(dir, "root"), CreateOptions{
		Private:   true,
		Source:    "tracker-x",
		Anonymize: true,
	})
	r.NoError(err)

	r.Equal("root", m.Info.Name)
	r.EqualValues(1, m.Info.Private)
	r.Equal("tracker-x", m.Info.Source)
	r.Len(m.Info.Files, 2)
	r.EqualValues(0, m.CreationDate)
	r.Empty(m.CreatedBy)

	var total int64
	for _, f := range m.Info.Files {
		total += f.Length
	}
	r.Equal(total, m.Info.Length)
}

func TestDefaultPieceSizeGrowsWithLength(t *testing.T) {
	r := require.New(t)
	small := defaultPieceSize(1024)
	large := defaultPieceSize(10 * 1024 * 1024 * 1024)
	r.LessOrEqual(uint32(16*1024), small)
	r.Greater(large, small)
	r.LessOrEqual(large, uint32(16*1024*1024))
}

func TestSplitPath(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c.txt"}, splitPath(filepath.Join("a", "b", "c.txt")))
}
