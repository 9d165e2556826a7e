package piecepicker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/peer"
	"github.com/cenkalti/rain/internal/piece"
)

func newPieces(n int) []piece.Piece {
	out := make([]piece.Piece, n)
	for i := range out {
		out[i] = piece.Piece{Index: uint32(i), Length: 16 * 1024}
	}
	return out
}

func TestPickReturnsFalseWhenPeerUnknown(t *testing.T) {
	r := require.New(t)
	pp := New(newPieces(4), bitfield.New(4))
	_, ok := pp.Pick(&peer.Peer{})
	r.False(ok)
}

func TestPickSkipsPiecesWeAlreadyHave(t *testing.T) {
	r := require.New(t)
	have := bitfield.New(4)
	have.Set(0)
	pp := New(newPieces(4), have)
	pe := &peer.Peer{}
	pp.HandleHaveAll(pe)

	for i := 0; i < 3; i++ {
		pi, ok := pp.Pick(pe)
		r.True(ok)
		r.NotEqual(uint32(0), pi.Index)
	}
}

func TestPickDoesNotRequestSamePieceTwiceOutsideEndgame(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(endgameThreshold + 2) // stay above the endgame threshold
	pp := New(pieces, bitfield.New(uint32(len(pieces))))
	a := &peer.Peer{}
	b := &peer.Peer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)

	first, ok := pp.Pick(a)
	r.True(ok)

	// b must not be offered the same piece a is already downloading.
	for i := 0; i < len(pieces)-1; i++ {
		pi, ok := pp.Pick(b)
		r.True(ok)
		r.NotEqual(first.Index, pi.Index)
	}
}

func TestPickAllowsDuplicatesInEndgame(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(endgameThreshold) // at the threshold triggers endgame
	pp := New(pieces, bitfield.New(uint32(len(pieces))))
	a := &peer.Peer{}
	b := &peer.Peer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)

	first, ok := pp.Pick(a)
	r.True(ok)
	second, ok := pp.Pick(b)
	r.True(ok)
	r.Equal(first.Index, second.Index)
}

func TestPickRespectsPriorityOverRarity(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(4)
	pp := New(pieces, bitfield.New(4))
	pe := &peer.Peer{}
	pp.HandleHaveAll(pe)
	pp.HandleHave(&peer.Peer{}, 3)

	// Piece 0 is rarer (fewer peers have it) but lower priority than piece 3.
	pp.SetPriority(0, 3, PriorityLow)
	pp.SetPriority(3, 4, PriorityHigh)

	pi, ok := pp.Pick(pe)
	r.True(ok)
	r.Equal(uint32(3), pi.Index)
}

func TestPickNeverReturnsBlockedPieces(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(2)
	pp := New(pieces, bitfield.New(2))
	pe := &peer.Peer{}
	pp.HandleHaveAll(pe)
	pp.SetPriority(0, 2, PriorityBlocked)

	_, ok := pp.Pick(pe)
	r.False(ok)
}

func TestPickPrefersInFlightPieceWithinSamePriority(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(endgameThreshold) // endgame: duplicate requests allowed
	pp := New(pieces, bitfield.New(uint32(len(pieces))))
	a := &peer.Peer{}
	b := &peer.Peer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)

	first, ok := pp.Pick(a)
	r.True(ok)
	r.Equal(uint32(0), first.Index)

	// A third peer makes the in-flight piece the most common one, so
	// rarest-first alone would pick piece 1; the in-flight piece still wins.
	pp.HandleHave(&peer.Peer{}, first.Index)
	second, ok := pp.Pick(b)
	r.True(ok)
	r.Equal(first.Index, second.Index)
}

func TestPickTiesBrokenByIndex(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(3)
	pp := New(pieces, bitfield.New(3))
	pe := &peer.Peer{}
	pp.HandleHaveAll(pe)
	// Every piece has identical availability (1) and priority (Normal): the
	// lowest index must win, deterministically, every time.
	pi, ok := pp.Pick(pe)
	r.True(ok)
	r.Equal(uint32(0), pi.Index)
}

func TestHandleDisconnectClearsRequestedAndAvailability(t *testing.T) {
	r := require.New(t)
	pieces := newPieces(4)
	pp := New(pieces, bitfield.New(4))
	pe := &peer.Peer{}
	pp.HandleHaveAll(pe)
	_, ok := pp.Pick(pe)
	r.True(ok)

	pp.HandleDisconnect(pe)
	r.False(pp.DoesHave(pe, 0))
	r.Equal([]int{0, 0, 0, 0}, pp.available)
	r.Empty(pp.requested)
}
