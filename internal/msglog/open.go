package msglog

import (
	"context"
	"errors"
	"strings"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

// Store is the persistence API shared by all drivers.
type Store interface {
	// Append logs m. A later append with the same message ID replaces the earlier one (edits).
	Append(ctx context.Context, m event.Message) error
	Lookup(ctx context.Context, messageID string) (event.Message, bool, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the log is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown message log driver: " + driver)
	}
}
