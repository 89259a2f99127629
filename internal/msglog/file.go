package msglog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

const defaultMaxEntries = 50000

// fileStore keeps the log as an append-only JSON Lines journal (one Record per line).
//
// The journal is replayed into memory on open and periodically compacted: the newest
// MaxEntries records are rewritten to a temp file that replaces the journal.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path    string
	journal *os.File
	byID    map[string]Record
	max     int
	writes  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("message_log.path is required for file driver")
	}

	if !cfg.Create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open message log %q: %w", path, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	byID := map[string]Record{}
	if err := replayJournal(path, byID); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("message log replay incomplete", logx.String("path", path), logx.Err(err))
	}

	jf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("message log opened", logx.String("driver", "file"), logx.String("path", path), logx.Int("records", len(byID)))
	return &fileStore{
		log:     log,
		path:    path,
		journal: jf,
		byID:    byID,
		max:     maxEntries,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, m event.Message) error {
	_ = ctx
	if strings.TrimSpace(m.ID) == "" {
		return nil
	}
	rec := Record{Message: m, LoggedAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.byID[m.ID] = rec

	s.writes++
	if s.writes%1000 == 0 || len(s.byID) > s.max+s.max/10 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("message log compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Lookup(ctx context.Context, messageID string) (event.Message, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return event.Message{}, false, ErrClosed
	}
	rec, ok := s.byID[strings.TrimSpace(messageID)]
	if !ok {
		return event.Message{}, false, nil
	}
	return rec.Message, true, nil
}

func (s *fileStore) compactLocked() error {
	recs := make([]Record, 0, len(s.byID))
	for _, r := range s.byID {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].LoggedAt.Before(recs[j].LoggedAt) })
	if len(recs) > s.max {
		for _, r := range recs[:len(recs)-s.max] {
			delete(s.byID, r.Message.ID)
		}
		recs = recs[len(recs)-s.max:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	// The old handle points at the replaced inode; reopen for appends.
	_ = s.journal.Close()
	jf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		s.journal = nil
		return err
	}
	s.journal = jf
	return nil
}

func replayJournal(path string, out map[string]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Message.ID == "" {
			continue
		}
		out[r.Message.ID] = r
	}
	return sc.Err()
}
