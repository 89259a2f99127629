package msglog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	maxEntries int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("message_log.path is required for sqlite driver")
	}
	if !cfg.Create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open message log %q: %w", path, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	st := &sqliteStore{db: db, log: log, maxEntries: maxEntries, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("message log opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, m event.Message) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(m.ID) == "" {
		return nil
	}
	var attachments any
	if len(m.Attachments) > 0 {
		b, err := json.Marshal(m.Attachments)
		if err != nil {
			return err
		}
		attachments = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, channel_id, guild_id, author_id, content, attachments, type, logged_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   content=excluded.content, attachments=excluded.attachments, logged_at=excluded.logged_at`,
		m.ID, m.ChannelID, nullStr(m.GuildID), m.AuthorID, m.Content, attachments, int(m.Type), time.Now().UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("message log prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) Lookup(ctx context.Context, messageID string) (event.Message, bool, error) {
	if s == nil || s.db == nil {
		return event.Message{}, false, ErrDisabled
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return event.Message{}, false, nil
	}

	var (
		m           event.Message
		guildID     sql.NullString
		attachments sql.NullString
		typ         int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, guild_id, author_id, content, attachments, type FROM messages WHERE id = ?`,
		messageID,
	).Scan(&m.ID, &m.ChannelID, &guildID, &m.AuthorID, &m.Content, &attachments, &typ)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Message{}, false, nil
	}
	if err != nil {
		return event.Message{}, false, err
	}
	m.GuildID = guildID.String
	m.Type = event.MessageType(typ)
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
			s.log.Debug("message log attachments undecodable", logx.String("id", m.ID), logx.Err(err))
		}
	}
	return m, true, nil
}

// prune keeps the newest maxEntries rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id NOT IN (SELECT id FROM messages ORDER BY logged_at DESC LIMIT ?)`,
		s.maxEntries,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
