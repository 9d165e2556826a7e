// Package announcer periodically announces a torrent's status to its
// trackers and reports the peer addresses they return.
package announcer

import (
	"net"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/cenkalti/rain/internal/logger"
	"github.com/cenkalti/rain/internal/tracker"
)

// Request is sent by an announcer to pull the torrent's current stats
// (bytes uploaded/downloaded/left) just before building an announce.
type Request struct {
	Response chan Response
	Cancel   chan struct{}
}

// Response answers a Request.
type Response struct {
	Torrent tracker.Torrent
}

const (
	// fetchTorrentRetryInterval is how soon to retry after the torrent's
	// stats couldn't be pulled locally (not a tracker failure, so it isn't
	// subject to the backoff schedule below).
	fetchTorrentRetryInterval = 5 * time.Second

	// minReannounceInterval/maxReannounceInterval clamp the server-reported
	// interval (spec: "clamped to [60s, 1h]").
	minReannounceInterval = 60 * time.Second
	maxReannounceInterval = time.Hour

	// backoffMaxInterval caps the exponential retry backoff on announce
	// failure (spec: "min(base * 2^attempts, 15 min)").
	backoffMaxInterval = 15 * time.Minute
)

// PeriodicalAnnouncer re-announces trk on its own interval, forever, until
// Close is called.
type PeriodicalAnnouncer struct {
	Tracker tracker.Tracker

	numWant     int
	minInterval time.Duration
	requestC    chan *Request
	peersC      chan []*net.TCPAddr
	log         logger.Logger
	backOff     *backoff.ExponentialBackOff

	needMore bool
	closeC   chan struct{}
	doneC    chan struct{}
}

// New returns a PeriodicalAnnouncer, not yet started. minInterval also
// seeds the exponential backoff applied to announce failures.
func New(trk tracker.Tracker, numWant int, minInterval time.Duration, requestC chan *Request, peersC chan []*net.TCPAddr, l logger.Logger) *PeriodicalAnnouncer {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     minInterval,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         backoffMaxInterval,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return &PeriodicalAnnouncer{
		Tracker:     trk,
		numWant:     numWant,
		minInterval: minInterval,
		requestC:    requestC,
		peersC:      peersC,
		log:         l,
		backOff:     b,
		closeC:      make(chan struct{}),
		doneC:       make(chan struct{}),
	}
}

// NeedMorePeers records whether more peers are wanted. The value is not
// read by the announce loop: every announce sends the numWant given to New.
func (a *PeriodicalAnnouncer) NeedMorePeers(val bool) { a.needMore = val }

// Close stops the announce loop and waits for it to exit.
func (a *PeriodicalAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// Run announces on Event started, then repeatedly on the tracker's interval.
func (a *PeriodicalAnnouncer) Run() {
	defer close(a.doneC)
	interval := a.announceOnce(tracker.EventStarted)
	for {
		select {
		case <-time.After(interval):
			interval = a.announceOnce(tracker.EventNone)
		case <-a.closeC:
			return
		}
	}
}

func (a *PeriodicalAnnouncer) announceOnce(event tracker.Event) time.Duration {
	tr, ok := a.fetchTorrent()
	if !ok {
		return fetchTorrentRetryInterval
	}
	req := &tracker.AnnounceRequest{Torrent: tr, Event: event, NumWant: a.numWant}
	resp, err := a.Tracker.Announce(req)
	if err != nil {
		a.log.Debugln("announce error:", err)
		return a.backOff.NextBackOff()
	}
	a.backOff.Reset()
	if len(resp.Peers) > 0 {
		select {
		case a.peersC <- resp.Peers:
		case <-a.closeC:
		}
	}
	switch {
	case resp.Interval < minReannounceInterval:
		return minReannounceInterval
	case resp.Interval > maxReannounceInterval:
		return maxReannounceInterval
	default:
		return resp.Interval
	}
}

func (a *PeriodicalAnnouncer) fetchTorrent() (tracker.Torrent, bool) {
	respC := make(chan Response)
	req := &Request{Response: respC, Cancel: a.closeC}
	select {
	case a.requestC <- req:
	case <-a.closeC:
		return tracker.Torrent{}, false
	}
	select {
	case resp := <-respC:
		return resp.Torrent, true
	case <-a.closeC:
		return tracker.Torrent{}, false
	}
}

// StopAnnouncer sends a single "stopped" event to every tracker, then signals doneC.
type StopAnnouncer struct {
	doneC chan struct{}
}

// NewStopAnnouncer announces the stopped event to every tracker in trackers
// concurrently, using tr for the request body. Once all have been attempted
// or timeout elapses it signals resultC (without blocking) and closes doneC.
func NewStopAnnouncer(trackers []tracker.Tracker, tr tracker.Torrent, timeout time.Duration, resultC chan struct{}) *StopAnnouncer {
	s := &StopAnnouncer{doneC: make(chan struct{})}
	go s.run(trackers, tr, timeout, resultC)
	return s
}

func (s *StopAnnouncer) run(trackers []tracker.Tracker, tr tracker.Torrent, timeout time.Duration, resultC chan struct{}) {
	defer close(s.doneC)
	done := make(chan struct{}, len(trackers))
	for _, t := range trackers {
		go func(t tracker.Tracker) {
			_, _ = t.Announce(&tracker.AnnounceRequest{Torrent: tr, Event: tracker.EventStopped})
			done <- struct{}{}
		}(t)
	}
	deadline := time.After(timeout)
wait:
	for i := 0; i < len(trackers); i++ {
		select {
		case <-done:
		case <-deadline:
			break wait
		}
	}
	select {
	case resultC <- struct{}{}:
	default:
	}
}

// Close is a no-op once the stop announcer has fired; kept for symmetry
// with PeriodicalAnnouncer's lifecycle.
func (s *StopAnnouncer) Close() {}
