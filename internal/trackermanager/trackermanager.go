// Package trackermanager parses tracker URLs into tracker.Tracker clients
// and deduplicates them so multiple torrents announcing to the same
// tracker share one client.
package trackermanager

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/rain/internal/blocklist"
	"github.com/cenkalti/rain/internal/tracker"
)

// TrackerManager builds and caches tracker.Tracker clients by URL.
type TrackerManager struct {
	blocklist *blocklist.Blocklist

	m        sync.Mutex
	trackers map[string]tracker.Tracker
}

// New returns a TrackerManager that consults bl (if non-nil) before
// resolving a tracker's hostname.
func New(bl *blocklist.Blocklist) *TrackerManager {
	return &TrackerManager{
		blocklist: bl,
		trackers:  make(map[string]tracker.Tracker),
	}
}

// Get returns the cached tracker.Tracker for rawURL, constructing one if
// this is the first time it's been seen.
func (m *TrackerManager) Get(rawURL string, timeout time.Duration, userAgent string) (tracker.Tracker, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if t, ok := m.trackers[rawURL]; ok {
		return t, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var t tracker.Tracker
	switch u.Scheme {
	case "http", "https":
		t = tracker.NewHTTPTracker(rawURL, timeout, userAgent)
	case "udp":
		host := u.Host
		if m.blocklist != nil {
			if ip, _, err2 := net.SplitHostPort(host); err2 == nil {
				if blocked, err3 := isBlocked(m.blocklist, ip); err3 == nil && blocked {
					return nil, fmt.Errorf("tracker host is blocked: %s", host)
				}
			}
		}
		t = tracker.NewUDPTracker(rawURL, host, timeout)
	default:
		return nil, fmt.Errorf("unsupported tracker scheme: %q", u.Scheme)
	}
	m.trackers[rawURL] = t
	return t, nil
}

func isBlocked(bl *blocklist.Blocklist, host string) (bool, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return false, err
		}
		ip = addrs[0]
	}
	return bl.Blocked(ip), nil
}
