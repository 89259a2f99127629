package notifier

import (
	"time"

	"stalker/internal/event"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

type HistoryItem struct {
	At    time.Time  `json:"at"`
	Kind  event.Kind `json:"kind"`
	Title string     `json:"title"`
}

// NotificationEvent is the payload of notifier.* bus events.
type NotificationEvent struct {
	ID        string     `json:"id"`
	Kind      event.Kind `json:"kind"`
	SubjectID string     `json:"subject_id,omitempty"`
	Key       string     `json:"key"`
	At        time.Time  `json:"at"`
	Error     string     `json:"error,omitempty"`
}
