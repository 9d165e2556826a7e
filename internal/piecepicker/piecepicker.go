// Package piecepicker selects which piece to request next from which peer,
// using a rarest-first strategy with an endgame fallback once only a few
// pieces remain.
package piecepicker

import (
	"sort"

	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/peer"
	"github.com/cenkalti/rain/internal/piece"
)

// endgameThreshold is the number of remaining incomplete pieces below which
// the same piece may be requested from more than one peer at once.
const endgameThreshold = 4

// Priority is a per-piece download priority. Pieces of a higher Priority
// are always picked before pieces of a lower one; PriorityBlocked pieces
// are never picked at all.
type Priority int

// Piece priorities, lowest to highest. New starts every piece at
// PriorityNormal.
const (
	PriorityBlocked Priority = iota - 1
	PriorityLow
	PriorityNormal
	PriorityHigh
)

// PiecePicker tracks which peers have which pieces and picks the next
// piece to download.
type PiecePicker struct {
	pieces     []piece.Piece
	have       *bitfield.Bitfield // pieces we already have, shared with torrent
	available  []int              // number of peers known to have each piece
	priorities []Priority         // per-piece priority, defaults to PriorityNormal
	peerHave   map[*peer.Peer]*bitfield.Bitfield
	requested  map[uint32]map[*peer.Peer]struct{} // piece index -> peers currently downloading it
}

// New returns a picker over pieces, sharing the have bitfield with the caller.
func New(pieces []piece.Piece, have *bitfield.Bitfield) *PiecePicker {
	priorities := make([]Priority, len(pieces))
	for i := range priorities {
		priorities[i] = PriorityNormal
	}
	return &PiecePicker{
		pieces:     pieces,
		have:       have,
		available:  make([]int, len(pieces)),
		priorities: priorities,
		peerHave:   make(map[*peer.Peer]*bitfield.Bitfield),
		requested:  make(map[uint32]map[*peer.Peer]struct{}),
	}
}

// SetPriority sets the priority of every piece in [from, to) to pr. The
// torrent controller calls this after translating a file-level
// set_priority into the piece range the file(s) span.
func (p *PiecePicker) SetPriority(from, to uint32, pr Priority) {
	if to > uint32(len(p.priorities)) {
		to = uint32(len(p.priorities))
	}
	for i := from; i < to; i++ {
		p.priorities[i] = pr
	}
}

func (p *PiecePicker) peerBitfield(pe *peer.Peer) *bitfield.Bitfield {
	bf, ok := p.peerHave[pe]
	if !ok {
		bf = bitfield.New(uint32(len(p.pieces)))
		p.peerHave[pe] = bf
	}
	return bf
}

// HandleHave records that pe has piece index.
func (p *PiecePicker) HandleHave(pe *peer.Peer, index uint32) {
	bf := p.peerBitfield(pe)
	if bf.Test(index) {
		return
	}
	bf.Set(index)
	p.available[index]++
}

// HandleBitfield records that pe has the pieces set in bf.
func (p *PiecePicker) HandleBitfield(pe *peer.Peer, bf *bitfield.Bitfield) {
	mine := p.peerBitfield(pe)
	for i := uint32(0); i < bf.Len(); i++ {
		if bf.Test(i) && !mine.Test(i) {
			mine.Set(i)
			p.available[i]++
		}
	}
}

// HandleHaveAll records that pe has every piece.
func (p *PiecePicker) HandleHaveAll(pe *peer.Peer) {
	bf := p.peerBitfield(pe)
	bf.SetAll()
	for i := range p.available {
		p.available[i]++
	}
}

// DoesHave reports whether pe is known to have piece index.
func (p *PiecePicker) DoesHave(pe *peer.Peer, index uint32) bool {
	bf, ok := p.peerHave[pe]
	return ok && bf.Test(index)
}

// HandleSnubbed is called when pe is marked as too slow; it does not change
// availability bookkeeping, but callers use it as the trigger to try
// redistributing pe's in-flight piece to another peer.
func (p *PiecePicker) HandleSnubbed(pe *peer.Peer, index uint32) {}

// HandleCancelDownload removes pe from the set of peers downloading index.
func (p *PiecePicker) HandleCancelDownload(pe *peer.Peer, index uint32) {
	if peers, ok := p.requested[index]; ok {
		delete(peers, pe)
		if len(peers) == 0 {
			delete(p.requested, index)
		}
	}
}

// HandleDisconnect removes all bookkeeping for pe.
func (p *PiecePicker) HandleDisconnect(pe *peer.Peer) {
	if bf, ok := p.peerHave[pe]; ok {
		for i := uint32(0); i < bf.Len(); i++ {
			if bf.Test(i) {
				p.available[i]--
			}
		}
		delete(p.peerHave, pe)
	}
	for idx, peers := range p.requested {
		delete(peers, pe)
		if len(peers) == 0 {
			delete(p.requested, idx)
		}
	}
}

func (p *PiecePicker) remainingCount() int {
	n := 0
	for i := range p.pieces {
		if !p.have.Test(uint32(i)) {
			n++
		}
	}
	return n
}

// Pick returns the next piece to request from pe: pieces are partitioned by
// Priority (PriorityBlocked excluded outright, highest Priority first),
// then within a priority a piece already being downloaded from another peer
// is preferred over starting a new one, then rarest-first, ties broken by
// piece index. Once few pieces remain it allows duplicate requests (endgame
// mode). ok is false if pe has nothing useful to offer right now.
func (p *PiecePicker) Pick(pe *peer.Peer) (*piece.Piece, bool) {
	bf, ok := p.peerHave[pe]
	if !ok {
		return nil, false
	}
	endgame := p.remainingCount() <= endgameThreshold

	candidates := make([]int, 0)
	for i := range p.pieces {
		if p.have.Test(uint32(i)) || !bf.Test(uint32(i)) {
			continue
		}
		if p.priorities[i] == PriorityBlocked {
			continue
		}
		if _, active := p.requested[uint32(i)]; active && !endgame {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ia, ib := candidates[a], candidates[b]
		if p.priorities[ia] != p.priorities[ib] {
			return p.priorities[ia] > p.priorities[ib]
		}
		inFlightA, inFlightB := len(p.requested[uint32(ia)]) > 0, len(p.requested[uint32(ib)]) > 0
		if inFlightA != inFlightB {
			return inFlightA
		}
		if p.available[ia] != p.available[ib] {
			return p.available[ia] < p.available[ib]
		}
		return ia < ib
	})
	idx := uint32(candidates[0])
	if p.requested[idx] == nil {
		p.requested[idx] = make(map[*peer.Peer]struct{})
	}
	p.requested[idx][pe] = struct{}{}
	return &p.pieces[idx], true
}
