package piece

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func hashes(n int) [][20]byte {
	out := make([][20]byte, n)
	for i := range out {
		out[i][0] = byte(i)
	}
	return out
}

func TestBlocksForPieceExactMultiple(t *testing.T) {
	r := require.New(t)
	blocks := blocksForPiece(BlockSize * 3)
	r.Len(blocks, 3)
	for i, b := range blocks {
		r.Equal(uint32(i), b.Index)
		r.Equal(uint32(i*BlockSize), b.Begin)
		r.Equal(uint32(BlockSize), b.Length)
	}
}

func TestBlocksForPieceShortLastBlock(t *testing.T) {
	r := require.New(t)
	length := uint32(BlockSize*2 + 100)
	blocks := blocksForPiece(length)
	r.Len(blocks, 3)
	r.Equal(uint32(BlockSize), blocks[0].Length)
	r.Equal(uint32(BlockSize), blocks[1].Length)
	r.Equal(uint32(100), blocks[2].Length)
	r.Equal(uint32(BlockSize*2), blocks[2].Begin)
}

func TestBlocksLastPieceShort(t *testing.T) {
	r := require.New(t)
	pieceLength := uint32(BlockSize * 4)
	totalLength := int64(pieceLength)*2 + BlockSize + 5
	pieces := Blocks(pieceLength, totalLength, hashes(3))
	r.Len(pieces, 3)
	r.Equal(pieceLength, pieces[0].Length)
	r.Equal(pieceLength, pieces[1].Length)
	r.Equal(uint32(BlockSize+5), pieces[2].Length)
}

func TestCount(t *testing.T) {
	r := require.New(t)
	r.Equal(0, Count(0, 16*1024))
	r.Equal(1, Count(1, 16*1024))
	r.Equal(1, Count(16*1024, 16*1024))
	r.Equal(2, Count(16*1024+1, 16*1024))
}

func TestPieceLength(t *testing.T) {
	r := require.New(t)
	pieceLength := uint32(16 * 1024)
	total := int64(pieceLength)*3 + 123
	r.Equal(pieceLength, PieceLength(0, 4, pieceLength, total))
	r.Equal(pieceLength, PieceLength(2, 4, pieceLength, total))
	r.Equal(uint32(123), PieceLength(3, 4, pieceLength, total))
}

func TestBlockSpanForPieceNonOverlapping(t *testing.T) {
	r := require.New(t)
	pieceLength := uint32(BlockSize * 4)
	totalLength := int64(pieceLength) * 3
	spans := make([]Span, 3)
	for i := range spans {
		spans[i] = BlockSpanForPiece(i, pieceLength, totalLength)
	}
	r.Equal(Span{Begin: 0, End: 4}, spans[0])
	r.Equal(Span{Begin: 4, End: 8}, spans[1])
	r.Equal(Span{Begin: 8, End: 12}, spans[2])
}

func TestLocateByte(t *testing.T) {
	r := require.New(t)
	pieceLength := uint32(BlockSize * 2)

	loc := LocateByte(0, pieceLength)
	r.Equal(uint32(0), loc.Piece)
	r.Equal(uint32(0), loc.Block)
	r.Equal(uint32(0), loc.BlockOffset)

	off := int64(pieceLength) + BlockSize + 10
	loc = LocateByte(off, pieceLength)
	r.Equal(uint32(1), loc.Piece)
	r.Equal(uint32(1), loc.Block)
	r.Equal(uint32(10), loc.BlockOffset)
	r.Equal(off, loc.ByteOffset)
}
