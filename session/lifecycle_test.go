package session

import "testing"

func TestMetadataDataSize(t *testing.T) {
	const blockSize = metadataBlockSize

	cases := []struct {
		name      string
		totalSize int
		piece     uint32
		want      int
	}{
		{"first full piece", 3*blockSize + 100, 0, blockSize},
		{"middle full piece", 3*blockSize + 100, 1, blockSize},
		{"last partial piece", 3*blockSize + 100, 3, 100},
		{"exact multiple, last piece full", 2 * blockSize, 1, blockSize},
		{"single small file", 100, 0, 100},
		{"piece past the end", 100, 5, 0},
		{"piece exactly at the end", blockSize, 1, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := metadataDataSize(c.totalSize, c.piece)
			if got != c.want {
				t.Fatalf("metadataDataSize(%d, %d) = %d, want %d", c.totalSize, c.piece, got, c.want)
			}
		})
	}
}
