// Package piecedownloader tracks in-flight block requests for a single
// piece being downloaded from a single peer.
package piecedownloader

import (
	"fmt"

	"github.com/cenkalti/rain/internal/peer"
	"github.com/cenkalti/rain/internal/peerprotocol"
	"github.com/cenkalti/rain/internal/piece"
)

// PieceDownloader requests and collects the blocks of one piece. How many
// blocks to keep in flight is the caller's decision (session computes an
// adaptive depth from the torrent's measured download rate); this package
// just executes whatever queueLength RequestBlocks is given.
type PieceDownloader struct {
	Piece *piece.Piece
	Peer  *peer.Peer

	data           [][]byte
	requested      map[uint32]struct{}
	nextBlockIndex int
}

// New starts a download of pi from pe. The caller is expected to track one
// PieceDownloader per peer and call RequestBlocks to keep the pipeline full.
func New(pi *piece.Piece, pe *peer.Peer) *PieceDownloader {
	return &PieceDownloader{
		Piece:     pi,
		Peer:      pe,
		data:      make([][]byte, len(pi.Blocks)),
		requested: make(map[uint32]struct{}),
	}
}

// RequestBlocks sends Request messages until queueLength blocks are
// outstanding or every block has been requested.
func (d *PieceDownloader) RequestBlocks(queueLength int) {
	for d.nextBlockIndex < len(d.Piece.Blocks) && len(d.requested) < queueLength {
		b := d.Piece.Blocks[d.nextBlockIndex]
		d.Peer.SendMessage(peerprotocol.RequestMessage{Index: d.Piece.Index, Begin: b.Begin, Length: b.Length})
		d.requested[uint32(d.nextBlockIndex)] = struct{}{}
		d.nextBlockIndex++
	}
}

// GotBlock records a received block, matching it to the block whose begin
// offset equals begin.
func (d *PieceDownloader) GotBlock(begin uint32, data []byte) error {
	idx, ok := d.blockIndexForBegin(begin)
	if !ok {
		return fmt.Errorf("piece downloader: unrequested block, begin=%d", begin)
	}
	if _, ok := d.requested[uint32(idx)]; !ok {
		return fmt.Errorf("piece downloader: unrequested block, begin=%d", begin)
	}
	delete(d.requested, uint32(idx))
	d.data[idx] = data
	return nil
}

func (d *PieceDownloader) blockIndexForBegin(begin uint32) (int, bool) {
	for i, b := range d.Piece.Blocks {
		if b.Begin == begin {
			return i, true
		}
	}
	return -1, false
}

// Done reports whether every block has been received.
func (d *PieceDownloader) Done() bool {
	for _, b := range d.data {
		if b == nil {
			return false
		}
	}
	return true
}

// Assemble concatenates the received blocks into the piece's full data.
func (d *PieceDownloader) Assemble() []byte {
	buf := make([]byte, 0, d.Piece.Length)
	for _, b := range d.data {
		buf = append(buf, b...)
	}
	return buf
}

// HandleChoke marks all outstanding requests as no longer in flight so they
// are re-requested once the peer unchokes us.
func (d *PieceDownloader) HandleChoke() {
	for i := range d.data {
		if d.data[i] == nil {
			delete(d.requested, uint32(i))
		}
	}
	d.nextBlockIndex = len(d.data)
	for i := range d.data {
		if d.data[i] == nil {
			d.nextBlockIndex = i
			break
		}
	}
}

// HandleReject clears the in-flight flag for the rejected block, identified
// by its begin offset, so it can be requested again or from another peer.
func (d *PieceDownloader) HandleReject(begin uint32) error {
	idx, ok := d.blockIndexForBegin(begin)
	if !ok {
		return fmt.Errorf("piece downloader: reject for unknown block, begin=%d", begin)
	}
	if _, ok := d.requested[uint32(idx)]; !ok {
		return fmt.Errorf("piece downloader: reject for unrequested block, begin=%d", begin)
	}
	delete(d.requested, uint32(idx))
	return nil
}

// CancelPending sends cancel messages for every block still in flight.
func (d *PieceDownloader) CancelPending() {
	for i := range d.Piece.Blocks {
		if _, ok := d.requested[uint32(i)]; !ok {
			continue
		}
		b := d.Piece.Blocks[i]
		d.Peer.SendMessage(peerprotocol.CancelMessage{Index: d.Piece.Index, Begin: b.Begin, Length: b.Length})
	}
}
