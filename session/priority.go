package session

import "github.com/cenkalti/rain/internal/piecepicker"

// Priority is a per-file download priority passed to Torrent.SetPriority.
type Priority int

// Priority values, lowest to highest.
const (
	PriorityBlocked Priority = iota - 1
	PriorityLow
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityBlocked:
		return "Blocked"
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

func (p Priority) internal() piecepicker.Priority {
	return piecepicker.Priority(p)
}
