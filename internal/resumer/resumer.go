// Package resumer defines the interface for persisting a torrent's resume
// state (bitfield, stats, spec) across process restarts.
package resumer

import "time"

// Stats are the cumulative counters persisted alongside a torrent's bitfield.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
}

// Resumer persists one torrent's resume state.
type Resumer interface {
	WriteBitfield(b []byte) error
	WriteStats(s Stats) error
	WriteStarted(started bool) error
}
