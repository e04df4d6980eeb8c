// Package history records finished wizard tasks in PostgreSQL.
//
// Recording is optional: without a database the service runs with Nop and
// nothing is persisted.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Run is one finished task.
type Run struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     string          `json:"session_id"`
	Flow          string          `json:"flow"`
	Stage         string          `json:"stage"`
	TaskID        string          `json:"task_id"`
	Status        string          `json:"status"`
	FileName      string          `json:"file_name,omitempty"`
	Filepath      string          `json:"filepath,omitempty"`
	Selection     json.RawMessage `json:"selection,omitempty"`
	Result        string          `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ProcessedRows *int            `json:"processed_rows,omitempty"`
	Stats         json.RawMessage `json:"stats,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Recorder stores and lists runs.
type Recorder interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// MaxRecent caps Recent.
const MaxRecent = 200

const schema = `
CREATE TABLE IF NOT EXISTS wizard_runs (
	id             UUID PRIMARY KEY,
	session_id     TEXT NOT NULL,
	flow           TEXT NOT NULL,
	stage          TEXT NOT NULL,
	task_id        TEXT NOT NULL,
	status         TEXT NOT NULL,
	file_name      TEXT NOT NULL DEFAULT '',
	filepath       TEXT NOT NULL DEFAULT '',
	selection      JSONB,
	result         TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	processed_rows INTEGER,
	stats          JSONB,
	ip_address     TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS wizard_runs_created_at_idx ON wizard_runs (created_at DESC);
`

const insertRun = `
INSERT INTO wizard_runs (
	id, session_id, flow, stage, task_id, status, file_name, filepath, selection,
	result, error, processed_rows, stats, ip_address, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const selectRecent = `
SELECT id, session_id, flow, stage, task_id, status, file_name, filepath, selection,
	result, error, processed_rows, stats, ip_address, user_agent, created_at
FROM wizard_runs
ORDER BY created_at DESC
LIMIT $1`

// Store is the PostgreSQL Recorder.
type Store struct {
	db DBTX
}

// NewStore wraps a connection or pool.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the runs table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create wizard_runs: %w", err)
	}
	return nil
}

// Record inserts a run. A zero ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, run Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	var rows pgtype.Int4
	if run.ProcessedRows != nil {
		rows = pgtype.Int4{Int32: int32(*run.ProcessedRows), Valid: true}
	}

	_, err := s.db.Exec(ctx, insertRun,
		run.ID, run.SessionID, run.Flow, run.Stage, run.TaskID, run.Status, run.FileName,
		run.Filepath, jsonb(run.Selection), run.Result, run.Error, rows, jsonb(run.Stats),
		run.IPAddress, run.UserAgent, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wizard run: %w", err)
	}
	return nil
}

// Recent returns the newest runs first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	rows, err := s.db.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query wizard runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r         Run
			processed pgtype.Int4
			selection []byte
			stats     []byte
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Flow, &r.Stage, &r.TaskID, &r.Status, &r.FileName,
			&r.Filepath, &selection, &r.Result, &r.Error, &processed, &stats, &r.IPAddress, &r.UserAgent, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wizard run: %w", err)
		}
		if processed.Valid {
			n := int(processed.Int32)
			r.ProcessedRows = &n
		}
		if len(selection) > 0 {
			r.Selection = selection
		}
		if len(stats) > 0 {
			r.Stats = stats
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wizard runs: %w", err)
	}
	return out, nil
}

// jsonb passes empty documents as NULL.
func jsonb(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Nop discards runs.
type Nop struct{}

func (Nop) Record(context.Context, Run) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Run, error) { return nil, nil }

var (
	_ Recorder = (*Store)(nil)
	_ Recorder = Nop{}
)
