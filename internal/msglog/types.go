package msglog

import (
	"errors"
	"time"

	"stalker/internal/event"
)

var (
	ErrDisabled = errors.New("message log disabled")
	ErrClosed   = errors.New("message log closed")
)

// Config configures one message log location.
//
// If Driver is empty or "none", the log is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Create allows the driver to create a missing file. Readers leave it false so that a
	// missing location fails to open instead of yielding an empty log.
	Create bool
	// MaxEntries bounds the file driver's in-memory index (oldest dropped on compaction).
	// 0 means the default of 50000.
	MaxEntries int
}

// Record is one logged message.
type Record struct {
	Message  event.Message `json:"message"`
	LoggedAt time.Time     `json:"logged_at"`
}
