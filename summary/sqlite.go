package summary

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS call_summaries (
	id          TEXT PRIMARY KEY,
	call_sid    TEXT NOT NULL,
	stream_sid  TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	ended_at    TEXT NOT NULL,
	final_state TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	summary     TEXT,
	record      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_call_summaries_call_sid ON call_summaries(call_sid);
`

// SQLiteSink stores records in a local SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteSink opens (creating if needed) the database at path in WAL
// mode. The special path ":memory:" opens a private in-memory database.
func OpenSQLiteSink(path string, logger *zap.Logger) (*SQLiteSink, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection avoids "database is locked" and keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteSink{db: db, logger: logger}, nil
}

// Save inserts r as a new row.
func (s *SQLiteSink) Save(ctx context.Context, r *Record) error {
	if r == nil {
		return fmt.Errorf("summary: nil record")
	}

	body, err := r.MarshalIndent()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var summary sql.NullString
	if r.Summary != nil {
		summary = sql.NullString{String: *r.Summary, Valid: true}
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO call_summaries
			(id, call_sid, stream_sid, started_at, ended_at, final_state, outcome, summary, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.CallSid, r.StreamSid, r.StartedAt, r.EndedAt, r.FinalState, r.Outcome, summary, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert call summary: %w", err)
	}

	s.logger.Info("call summary saved to SQLite",
		zap.String("id", id),
		zap.String("call_sid", r.CallSid),
	)
	return nil
}

// Records returns the raw JSON records stored for callSid, oldest first.
func (s *SQLiteSink) Records(ctx context.Context, callSid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM call_summaries WHERE call_sid = ? ORDER BY created_at, rowid`, callSid)
	if err != nil {
		return nil, fmt.Errorf("query call summaries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(rec))
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
