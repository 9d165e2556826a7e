// Package piece implements the block-level layout of a torrent: how a
// piece is subdivided into fixed-size blocks and how block coordinates
// translate to absolute byte offsets.
package piece

// BlockSize is the fixed request/response unit, per BEP 3.
const BlockSize = 16 * 1024

// Block is one fixed-size (except possibly the last) subdivision of a piece.
type Block struct {
	Index  uint32 // block index within the piece
	Begin  uint32 // offset of the block within the piece
	Length uint32
}

// Piece is a hash-verified chunk of the payload, subdivided into blocks.
type Piece struct {
	Index  uint32
	Length uint32
	Hash   [20]byte
	Blocks []Block

	// Done is true once the piece has been written to disk and verified.
	Done bool
	// Writing is true while a piecewriter goroutine is flushing this piece.
	Writing bool
}

// Blocks returns the Piece slice for a torrent of the given total length
// and piece length. The final piece (and its final block) may be short.
func Blocks(pieceLength uint32, totalLength int64, hashes [][20]byte) []Piece {
	numPieces := len(hashes)
	pieces := make([]Piece, numPieces)
	for i := 0; i < numPieces; i++ {
		length := pieceLength
		if i == numPieces-1 {
			rem := totalLength - int64(pieceLength)*int64(numPieces-1)
			length = uint32(rem)
		}
		pieces[i] = Piece{
			Index:  uint32(i),
			Length: length,
			Hash:   hashes[i],
			Blocks: blocksForPiece(length),
		}
	}
	return pieces
}

func blocksForPiece(length uint32) []Block {
	n := length / BlockSize
	mod := length % BlockSize
	if mod != 0 {
		n++
	}
	blocks := make([]Block, n)
	for i := range blocks {
		begin := uint32(i) * BlockSize
		size := uint32(BlockSize)
		if i == len(blocks)-1 && mod != 0 {
			size = mod
		}
		blocks[i] = Block{Index: uint32(i), Begin: begin, Length: size}
	}
	return blocks
}

// PieceLength returns the length, in bytes, of piece at the given index,
// for a torrent of pieceLength bytes per piece (except the last).
func PieceLength(index, numPieces int, pieceLength uint32, totalLength int64) uint32 {
	if index != numPieces-1 {
		return pieceLength
	}
	rem := totalLength - int64(pieceLength)*int64(numPieces-1)
	return uint32(rem)
}

// Count returns ceil(totalLength / pieceLength), the number of pieces.
func Count(totalLength int64, pieceLength uint32) int {
	if totalLength <= 0 {
		return 0
	}
	n := totalLength / int64(pieceLength)
	if totalLength%int64(pieceLength) != 0 {
		n++
	}
	return int(n)
}

// Span is the inclusive-exclusive range [Begin, End) of block indices
// (global, across the whole torrent) that belong to a piece.
type Span struct {
	Begin, End uint32
}

// BlockSpanForPiece returns the global block-index span of piece index i
// in a torrent with the given piece length and total length.
func BlockSpanForPiece(index int, pieceLength uint32, totalLength int64) Span {
	blocksPerFullPiece := pieceLength / BlockSize
	if pieceLength%BlockSize != 0 {
		blocksPerFullPiece++
	}
	begin := uint32(index) * blocksPerFullPiece
	numPieces := Count(totalLength, pieceLength)
	length := PieceLength(index, numPieces, pieceLength, totalLength)
	nBlocks := length / BlockSize
	if length%BlockSize != 0 {
		nBlocks++
	}
	return Span{Begin: begin, End: begin + nBlocks}
}

// Location identifies a byte's position both as (piece, piece-offset) and
// as (block, block-offset); ByteOffset is the absolute offset within the
// torrent's concatenated files.
type Location struct {
	Piece       uint32
	PieceOffset uint32
	Block       uint32
	BlockOffset uint32
	ByteOffset  int64
}

// LocateByte returns the Location of absolute byte offset off in a torrent
// with the given piece length.
func LocateByte(off int64, pieceLength uint32) Location {
	pieceIdx := uint32(off / int64(pieceLength))
	pieceOff := uint32(off % int64(pieceLength))
	blockIdx := pieceOff / BlockSize
	blockOff := pieceOff % BlockSize
	return Location{
		Piece:       pieceIdx,
		PieceOffset: pieceOff,
		Block:       blockIdx,
		BlockOffset: blockOff,
		ByteOffset:  off,
	}
}
