package session

import (
	"sync"

	"github.com/cenkalti/rain/internal/piece"
	"github.com/cenkalti/rain/internal/verifier"
)

// verifyRequest is one torrent's pending-or-running verification job.
type verifyRequest struct {
	infoHash    [20]byte
	size        int64
	priority    int
	pieces      []piece.Piece
	pieceLength int64
	reader      verifier.ReaderAt
	progressC   chan verifier.Progress
	resultC     chan *verifier.Verifier
	v           *verifier.Verifier
}

// verifyQueue runs at most one verifier.Verifier at a time across every
// torrent in the session (spec: "at most one torrent is verified at a
// time"), ordered by priority descending, then total size ascending, then
// info-hash ascending for determinism.
type verifyQueue struct {
	m        sync.Mutex
	pending  []*verifyRequest
	current  *verifyRequest
	enqueueC chan struct{}
}

func newVerifyQueue() *verifyQueue {
	q := &verifyQueue{enqueueC: make(chan struct{}, 1)}
	go q.run()
	return q
}

// Enqueue schedules a verification job. req.v.Run executes on the queue's
// single worker goroutine, never concurrently with another torrent's.
func (q *verifyQueue) Enqueue(v *verifier.Verifier, infoHash [20]byte, size int64, priority int, pieces []piece.Piece, pieceLength int64, reader verifier.ReaderAt, progressC chan verifier.Progress, resultC chan *verifier.Verifier) {
	req := &verifyRequest{
		infoHash:    infoHash,
		size:        size,
		priority:    priority,
		pieces:      pieces,
		pieceLength: pieceLength,
		reader:      reader,
		progressC:   progressC,
		resultC:     resultC,
		v:           v,
	}
	q.m.Lock()
	q.pending = append(q.pending, req)
	q.m.Unlock()
	select {
	case q.enqueueC <- struct{}{}:
	default:
	}
}

// Remove cancels a queued or in-progress job for infoHash (spec §4.5
// remove(info_hash)): if it is the torrent currently being verified, this
// closes its verifier and returns without waiting for Run to return;
// otherwise the pending entry is simply dropped from the queue.
func (q *verifyQueue) Remove(infoHash [20]byte) {
	q.m.Lock()
	if q.current != nil && q.current.infoHash == infoHash {
		cur := q.current
		q.m.Unlock()
		cur.v.Close()
		return
	}
	for i, req := range q.pending {
		if req.infoHash == infoHash {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.m.Unlock()
}

func (q *verifyQueue) run() {
	for range q.enqueueC {
		for {
			req := q.pop()
			if req == nil {
				break
			}
			q.m.Lock()
			q.current = req
			q.m.Unlock()
			req.v.Run(req.pieces, req.pieceLength, req.reader, req.progressC, req.resultC)
			q.m.Lock()
			q.current = nil
			q.m.Unlock()
		}
	}
}

// pop removes and returns the highest-priority pending request.
func (q *verifyQueue) pop() *verifyRequest {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(q.pending); i++ {
		if verifyLess(q.pending[i], q.pending[best]) {
			best = i
		}
	}
	req := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	return req
}

func verifyLess(a, b *verifyRequest) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.size != b.size {
		return a.size < b.size
	}
	for i := range a.infoHash {
		if a.infoHash[i] != b.infoHash[i] {
			return a.infoHash[i] < b.infoHash[i]
		}
	}
	return false
}
