package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records Exec calls. Query and QueryRow are not used by these tests.
type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := NewStore(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS wizard_runs") {
		t.Errorf("unexpected calls: %+v", db.calls)
	}
}

func TestRecord_FillsDefaults(t *testing.T) {
	db := &fakeDB{}
	rows := 12
	run := Run{
		SessionID:     "s1",
		Flow:          "transform",
		Stage:         "process",
		TaskID:        "t1",
		Status:        "complete",
		Result:        "/downloads/out.csv",
		Selection:     json.RawMessage(`["email","nombre"]`),
		ProcessedRows: &rows,
		Stats:         json.RawMessage(`{"total_raw":1}`),
	}

	if err := NewStore(db).Record(context.Background(), run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(db.calls) != 1 {
		t.Fatalf("Exec calls = %d, want 1", len(db.calls))
	}

	args := db.calls[0].args
	if len(args) != 16 {
		t.Fatalf("args = %d, want 16", len(args))
	}
	if id, ok := args[0].(uuid.UUID); !ok || id == uuid.Nil {
		t.Errorf("id = %v, want generated uuid", args[0])
	}
	if got, ok := args[8].([]byte); !ok || string(got) != `["email","nombre"]` {
		t.Errorf("selection = %v", args[8])
	}
	if got := args[11].(pgtype.Int4); !got.Valid || got.Int32 != 12 {
		t.Errorf("processed_rows = %+v, want 12", got)
	}
	if got, ok := args[12].([]byte); !ok || string(got) != `{"total_raw":1}` {
		t.Errorf("stats = %v", args[12])
	}
}

func TestRecord_NullableColumns(t *testing.T) {
	db := &fakeDB{}
	if err := NewStore(db).Record(context.Background(), Run{SessionID: "s", Status: "error"}); err != nil {
		t.Fatal(err)
	}

	args := db.calls[0].args
	if args[8] != nil {
		t.Errorf("selection = %v, want nil", args[8])
	}
	if got := args[11].(pgtype.Int4); got.Valid {
		t.Errorf("processed_rows = %+v, want NULL", got)
	}
	if args[12] != nil {
		t.Errorf("stats = %v, want nil", args[12])
	}
}

func TestRecord_WrapsError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	err := NewStore(db).Record(context.Background(), Run{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Record error = %v", err)
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.Record(context.Background(), Run{}); err != nil {
		t.Errorf("Nop.Record = %v", err)
	}
	runs, err := r.Recent(context.Background(), 10)
	if err != nil || runs != nil {
		t.Errorf("Nop.Recent = %v, %v", runs, err)
	}
}

// TestStore_RoundTrip runs against a real database when HISTORY_TEST_DATABASE_URL is set.
func TestStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("HISTORY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HISTORY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)

	store := NewStore(tx)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	rows := 3
	if err := store.Record(ctx, Run{SessionID: "s", Flow: "dedup", Stage: "process", TaskID: "t", Status: "complete", ProcessedRows: &rows}); err != nil {
		t.Fatal(err)
	}

	runs, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].TaskID != "t" || runs[0].ProcessedRows == nil || *runs[0].ProcessedRows != 3 {
		t.Errorf("Recent = %+v", runs)
	}
}
