// Package sqlitesink is an optional history.Sink backed by SQLite, adapted
// from the teacher's internal/store session-persistence layer. The core
// turn engine never persists transcripts itself (per spec); a caller that
// wants durability constructs a Sink and hands it to the turn loop.
package sqlitesink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/xonecas/turnengine/internal/protocol"
)

const (
	// SQLiteBusyMaxRetries bounds retries on SQLITE_BUSY the way the
	// teacher's store.Cache does for concurrent writers.
	SQLiteBusyMaxRetries    = 10
	SQLiteBusyBackoffStepMs = 50
	SQLiteBusyMaxBackoff    = time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS turn_items (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turn_items_session ON turn_items(session_id, seq);
`

// Sink persists completed turns' recorded items to a SQLite database.
type Sink struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens a sink database at dbPath.
func Open(dbPath string) (*Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlitesink db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTurn implements history.Sink, persisting items in order with
// SQLITE_BUSY retried using the teacher's backoff schedule.
func (s *Sink) RecordTurn(sessionID string, items []protocol.ConversationItem) error {
	if s == nil || len(items) == 0 {
		return nil
	}
	var err error
	for attempt := 0; attempt <= SQLiteBusyMaxRetries; attempt++ {
		err = s.recordTurnOnce(sessionID, items)
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) || attempt == SQLiteBusyMaxRetries {
			return err
		}
		backoff := time.Duration((attempt+1)*SQLiteBusyBackoffStepMs) * time.Millisecond
		if backoff > SQLiteBusyMaxBackoff {
			backoff = SQLiteBusyMaxBackoff
		}
		time.Sleep(backoff)
	}
	return err
}

func (s *Sink) recordTurnOnce(sessionID string, items []protocol.ConversationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	var nextSeq int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(seq), -1) + 1 FROM turn_items WHERE session_id = ?", sessionID).Scan(&nextSeq); err != nil {
		tx.Rollback()
		return err
	}

	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal item: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO turn_items (session_id, seq, kind, payload, created) VALUES (?, ?, ?, ?, ?)",
			sessionID, nextSeq+int64(i), string(item.Kind()), string(payload), time.Now().Unix(),
		); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug().Str("session", sessionID).Int("items", len(items)).Msg("recorded turn to sqlitesink")
	return nil
}

// isSQLiteBusy reports whether err is a SQLITE_BUSY/SQLITE_LOCKED error,
// mirroring the teacher's store.IsSQLiteBusy check.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
