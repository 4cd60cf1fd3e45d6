package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/protocol"
)

// StoredResult is one row read back from the store.
type StoredResult struct {
	ID        int64
	SessionID string
	Subject   string
	Activity  string
	Payload   []byte
	CreatedAt time.Time
}

// Store keeps sessions and their transcript results in SQLite so a
// restart does not lose a subject's history. In ephemeral mode every
// write is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.ResultsConfig
	log   *slog.Logger
	clock func() time.Time
}

// OpenStore initializes the result store according to config.
func OpenStore(ctx context.Context, cfg config.ResultsConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.StorePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.StorePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("result store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("result store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    activity_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    terminated_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    activity_id TEXT NOT NULL,
    payload BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_results_session_created ON results(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_results_subject ON results(subject_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSession upserts a session row.
func (s *Store) RecordSession(ctx context.Context, sessionID, subject, activity, mode string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, subject_id, activity_id, mode, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET subject_id=excluded.subject_id, activity_id=excluded.activity_id, mode=excluded.mode`,
		sessionID, subject, activity, mode, s.clock().UTC())
	return err
}

// MarkTerminated stamps the session's end time.
func (s *Store) MarkTerminated(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET terminated_at = ? WHERE session_id = ? AND terminated_at IS NULL`,
		s.clock().UTC(), sessionID)
	return err
}

// RecordResult stores one transcript result as a JSON payload.
func (s *Store) RecordResult(ctx context.Context, subject, activity string, record protocol.TranscriptResult) error {
	if s.db == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results(session_id, subject_id, activity_id, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		record.SessionID, subject, activity, payload, s.clock().UTC())
	return err
}

// ListSessionResults retrieves up to limit results for a session in
// insertion order.
func (s *Store) ListSessionResults(ctx context.Context, sessionID string, limit int) ([]StoredResult, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, subject_id, activity_id, payload, created_at
		 FROM results WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var r StoredResult
		var created string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Subject, &r.Activity, &r.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune applies the configured retention. Runs on startup and may be
// scheduled.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM results WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
