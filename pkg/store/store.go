// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package store persists survey sessions, their recorded metrics, and
// chunked-upload recordings to a local SQLite database: one
// connection, WAL journaling, foreign keys enforced, and a schema
// created on first open rather than migrated from a separate tool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/netpoke/netpoke/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS survey_sessions (
	session_id      TEXT PRIMARY KEY,
	magic_key       TEXT NOT NULL,
	user_login      TEXT,
	start_time      INTEGER NOT NULL,
	last_update_time INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	pcap_path       TEXT,
	keylog_path     TEXT,
	deleted         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS survey_metrics (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL REFERENCES survey_sessions(session_id),
	timestamp_ms     INTEGER NOT NULL,
	source           TEXT NOT NULL CHECK (source IN ('server', 'client')),
	conn_id          TEXT NOT NULL,
	direction        TEXT NOT NULL CHECK (direction IN ('c2s', 's2c')),
	delay_p50_ms     REAL NOT NULL,
	delay_p99_ms     REAL NOT NULL,
	delay_min_ms     REAL NOT NULL,
	delay_max_ms     REAL NOT NULL,
	jitter_p50_ms    REAL NOT NULL,
	jitter_p99_ms    REAL NOT NULL,
	jitter_min_ms    REAL NOT NULL,
	jitter_max_ms    REAL NOT NULL,
	rtt_p50_ms       REAL NOT NULL,
	rtt_p99_ms       REAL NOT NULL,
	rtt_min_ms       REAL NOT NULL,
	rtt_max_ms       REAL NOT NULL,
	loss_rate        REAL NOT NULL,
	reorder_rate     REAL NOT NULL,
	probe_count      INTEGER NOT NULL,
	baseline_delay_ms REAL NOT NULL,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_survey_metrics_session ON survey_metrics(session_id);

CREATE TABLE IF NOT EXISTS recordings (
	recording_id   TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES survey_sessions(session_id),
	total_size     INTEGER NOT NULL,
	storage_path   TEXT NOT NULL,
	checksum       TEXT,
	complete       INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recordings_session ON recordings(session_id);
`

// Store wraps the sqlite connection used for survey session bookkeeping,
// measurement history, and recording metadata.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path,
// enables WAL journaling and foreign key enforcement, and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// mattn/go-sqlite3 serializes writers internally; a single
	// connection avoids "database is locked" errors under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSurveySession inserts a new survey session row. userLogin is
// nil for unauthenticated sessions.
func (s *Store) CreateSurveySession(ctx context.Context, sessionID, magicKey string, userLogin *string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_sessions (session_id, magic_key, user_login, start_time, last_update_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, magicKey, userLogin, now, now, now)
	if err != nil {
		return fmt.Errorf("create survey session %s: %w", sessionID, err)
	}
	return nil
}

// EnsureSurveySession creates a survey session row if none exists yet,
// leaving an existing row untouched. Used by the metrics persistence
// loop, which learns of a survey session lazily from its first
// recorded batch rather than from an explicit creation call.
func (s *Store) EnsureSurveySession(ctx context.Context, sessionID, magicKey string, userLogin *string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO survey_sessions (session_id, magic_key, user_login, start_time, last_update_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, magicKey, userLogin, now, now, now)
	if err != nil {
		return fmt.Errorf("ensure survey session %s: %w", sessionID, err)
	}
	return nil
}

// TouchSurveySession bumps a survey session's last_update_time to now.
func (s *Store) TouchSurveySession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE survey_sessions SET last_update_time = ? WHERE session_id = ? AND deleted = 0`,
		time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch survey session %s: %w", sessionID, err)
	}
	return nil
}

// SetPcapPath records where a session's exported capture was written.
func (s *Store) SetPcapPath(ctx context.Context, sessionID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE survey_sessions SET pcap_path = ? WHERE session_id = ?`, path, sessionID)
	if err != nil {
		return fmt.Errorf("set pcap path for %s: %w", sessionID, err)
	}
	return nil
}

// SetKeylogPath records where a session's exported DTLS keylog was
// written.
func (s *Store) SetKeylogPath(ctx context.Context, sessionID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE survey_sessions SET keylog_path = ? WHERE session_id = ?`, path, sessionID)
	if err != nil {
		return fmt.Errorf("set keylog path for %s: %w", sessionID, err)
	}
	return nil
}

// SoftDeleteSurveySession marks a survey session as deleted without
// removing its row, so historical metrics and recordings remain
// queryable by session_id.
func (s *Store) SoftDeleteSurveySession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE survey_sessions SET deleted = 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("soft delete survey session %s: %w", sessionID, err)
	}
	return nil
}

// MagicKey returns the magic key a survey session was created under,
// or "" if the session is unknown. It is the backing implementation
// for internal/session.Orchestrator.MagicKeyForSession.
func (s *Store) MagicKey(ctx context.Context, sessionID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT magic_key FROM survey_sessions WHERE session_id = ?`, sessionID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup magic key for %s: %w", sessionID, err)
	}
	return key, nil
}

// RecordProbeStats inserts one server-measured row per direction for a
// completed measurement sample (two INSERTs, both source="server").
func (s *Store) RecordProbeStats(ctx context.Context, sessionID, connID string, timestampMs int64, c2s, s2c protocol.DirectionStats) error {
	if err := s.insertMetrics(ctx, sessionID, connID, timestampMs, "server", "c2s", c2s); err != nil {
		return err
	}
	if err := s.insertMetrics(ctx, sessionID, connID, timestampMs, "server", "s2c", s2c); err != nil {
		return err
	}
	return nil
}

// RecordClientMetrics inserts a single client-measured row
// (source="client", direction="s2c": the client only ever reports what
// it received from the server).
func (s *Store) RecordClientMetrics(ctx context.Context, sessionID, connID string, timestampMs int64, s2c protocol.DirectionStats) error {
	return s.insertMetrics(ctx, sessionID, connID, timestampMs, "client", "s2c", s2c)
}

func (s *Store) insertMetrics(ctx context.Context, sessionID, connID string, timestampMs int64, source, direction string, stats protocol.DirectionStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_metrics (
			session_id, timestamp_ms, source, conn_id, direction,
			delay_p50_ms, delay_p99_ms, delay_min_ms, delay_max_ms,
			jitter_p50_ms, jitter_p99_ms, jitter_min_ms, jitter_max_ms,
			rtt_p50_ms, rtt_p99_ms, rtt_min_ms, rtt_max_ms,
			loss_rate, reorder_rate, probe_count, baseline_delay_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, timestampMs, source, connID, direction,
		stats.DelayDeviationMs[0], stats.DelayDeviationMs[1], stats.DelayDeviationMs[2], stats.DelayDeviationMs[3],
		stats.JitterMs[0], stats.JitterMs[1], stats.JitterMs[2], stats.JitterMs[3],
		stats.RttMs[0], stats.RttMs[1], stats.RttMs[2], stats.RttMs[3],
		stats.LossRate, stats.ReorderRate, stats.ProbeCount, stats.BaselineDelayMs,
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record metrics for %s: %w", sessionID, err)
	}
	return nil
}

// CreateRecording inserts a new recording row for a chunked upload in
// progress.
func (s *Store) CreateRecording(ctx context.Context, recordingID, sessionID string, totalSize int64, storagePath string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (recording_id, session_id, total_size, storage_path, complete, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		recordingID, sessionID, totalSize, storagePath, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("create recording %s: %w", recordingID, err)
	}
	return nil
}

// CompleteRecording marks a recording as finalized and records its
// combined checksum.
func (s *Store) CompleteRecording(ctx context.Context, recordingID, checksum string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET complete = 1, checksum = ? WHERE recording_id = ?`,
		checksum, recordingID)
	if err != nil {
		return fmt.Errorf("complete recording %s: %w", recordingID, err)
	}
	return nil
}

// Recording is a recordings row.
type Recording struct {
	RecordingID string
	SessionID   string
	TotalSize   int64
	StoragePath string
	Checksum    *string
	Complete    bool
}

// GetRecording fetches a recording by id, or (nil, nil) if it doesn't
// exist.
func (s *Store) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	var r Recording
	var complete int
	err := s.db.QueryRowContext(ctx, `
		SELECT recording_id, session_id, total_size, storage_path, checksum, complete
		FROM recordings WHERE recording_id = ?`, recordingID).
		Scan(&r.RecordingID, &r.SessionID, &r.TotalSize, &r.StoragePath, &r.Checksum, &complete)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup recording %s: %w", recordingID, err)
	}
	r.Complete = complete != 0
	return &r, nil
}
