package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"benji/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

func TestPostgresRunMigrationsExecutesSchema(t *testing.T) {
	pool := &stubPool{}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if err := store.RunMigrations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.execSQL) != 1 || !strings.Contains(pool.execSQL[0], "resolution_key TEXT UNIQUE") {
		t.Fatalf("expected schema with resolution key, got %v", pool.execSQL)
	}
}

func TestPostgresOpenSignalReportsInsert(t *testing.T) {
	pool := &stubPool{execTags: []string{"INSERT 0 1", "INSERT 0 0"}}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))
	sig := domain.ActiveSignal{Ticker: "nvda", Direction: domain.DirectionCall, Strike: 190, Expiry: time.Now(), EntryTime: time.Now()}

	opened, err := store.OpenSignal(context.Background(), sig)
	if err != nil || !opened {
		t.Fatalf("expected first open to insert, got %v %v", opened, err)
	}
	opened, err = store.OpenSignal(context.Background(), sig)
	if err != nil || opened {
		t.Fatalf("expected second open to be a no-op, got %v %v", opened, err)
	}
	if pool.execArgs[0][0] != "NVDA" {
		t.Fatalf("expected upper-cased ticker, got %v", pool.execArgs[0][0])
	}
}

func TestPostgresResolveAbsentRollsBack(t *testing.T) {
	tx := &stubTx{execTags: []string{"DELETE 0"}}
	pool := &stubPool{tx: tx}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))

	h, ok, err := store.ResolveSignal(context.Background(), domain.ActiveSignal{Ticker: "AMD", Expiry: time.Now()}, 180, time.Now())
	if err != nil || ok || h != nil {
		t.Fatalf("expected no-op, got %v %v %v", h, ok, err)
	}
	if tx.committed {
		t.Fatal("expected no commit")
	}
	if len(tx.execSQL) != 1 {
		t.Fatalf("expected only the delete, got %v", tx.execSQL)
	}
}

func TestPostgresResolveInsertsAndCredits(t *testing.T) {
	tx := &stubTx{
		execTags: []string{"DELETE 1", "UPDATE 3"},
		rows:     []stubRow{{values: []any{int64(42)}}},
	}
	pool := &stubPool{tx: tx}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))

	sig := domain.ActiveSignal{Ticker: "NVDA", Direction: domain.DirectionCall, Strike: 190, Expiry: time.Now(), EntryTime: time.Now(), PoP: 74.5}
	h, ok, err := store.ResolveSignal(context.Background(), sig, 180, time.Now())
	if err != nil || !ok {
		t.Fatalf("expected resolution, got %v %v", ok, err)
	}
	if h.ID != 42 || h.Username != domain.SharedUsername || h.PnL != 180 {
		t.Fatalf("unexpected history row: %+v", h)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
	if len(tx.execSQL) != 2 || !strings.Contains(tx.execSQL[1], "ai_total = ai_total +") {
		t.Fatalf("expected ai_total credit, got %v", tx.execSQL)
	}
}

func TestPostgresResolveDuplicateKeySkipsCredit(t *testing.T) {
	tx := &stubTx{
		execTags: []string{"DELETE 1"},
		rows:     []stubRow{{err: pgx.ErrNoRows}},
	}
	pool := &stubPool{tx: tx}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))

	_, ok, err := store.ResolveSignal(context.Background(), domain.ActiveSignal{Ticker: "NVDA", Expiry: time.Now()}, 180, time.Now())
	if err != nil || ok {
		t.Fatalf("expected no-op, got %v %v", ok, err)
	}
	if !tx.committed {
		t.Fatal("expected stale active row deletion to commit")
	}
	for _, sql := range tx.execSQL {
		if strings.Contains(sql, "ai_total") {
			t.Fatal("duplicate resolution must not credit")
		}
	}
}

func TestPostgresConfirmUnknownUser(t *testing.T) {
	tx := &stubTx{rows: []stubRow{{values: []any{false}}}}
	store := NewPostgresStore(&stubPool{tx: tx}, trace.NewNoopTracerProvider().Tracer("test"))

	_, _, err := store.ConfirmSignal(context.Background(), 7, "ghost")
	if !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestPostgresConfirmCreditsPnL(t *testing.T) {
	now := time.Now().UTC()
	tx := &stubTx{
		execTags: []string{"UPDATE 1"},
		rows: []stubRow{
			{values: []any{true}},
			{values: historyValues(7, now, -100, true)},
		},
	}
	store := NewPostgresStore(&stubPool{tx: tx}, trace.NewNoopTracerProvider().Tracer("test"))

	h, ok, err := store.ConfirmSignal(context.Background(), 7, "ana")
	if err != nil || !ok {
		t.Fatalf("expected confirmation, got %v %v", ok, err)
	}
	if h.PnL != -100 || !h.UserConfirmed {
		t.Fatalf("unexpected signal: %+v", h)
	}
	if len(tx.execArgs) != 1 || tx.execArgs[0][0] != -100.0 || tx.execArgs[0][1] != "ana" {
		t.Fatalf("expected you_total credit of -100 for ana, got %v", tx.execArgs)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
}

func TestPostgresConfirmAlreadyConfirmedIsNoop(t *testing.T) {
	now := time.Now().UTC()
	tx := &stubTx{
		rows: []stubRow{
			{values: []any{true}},
			{err: pgx.ErrNoRows},
			{values: historyValues(7, now, 180, true)},
		},
	}
	store := NewPostgresStore(&stubPool{tx: tx}, trace.NewNoopTracerProvider().Tracer("test"))

	h, ok, err := store.ConfirmSignal(context.Background(), 7, "ana")
	if err != nil || ok {
		t.Fatalf("expected no-op, got %v %v", ok, err)
	}
	if h == nil || h.ID != 7 {
		t.Fatalf("expected existing row, got %+v", h)
	}
	if len(tx.execSQL) != 0 || tx.committed {
		t.Fatal("no credit and no commit expected")
	}
}

func TestPostgresListHistoryScansRows(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	pool := &stubPool{rowsData: [][]any{historyValues(2, now, 180, false), historyValues(1, now.Add(-time.Hour), -100, true)}}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))

	history, err := store.ListHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].ID != 2 || history[1].PnL != -100 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if pool.queryArgs[0][0] != 50 {
		t.Fatalf("expected default limit 50, got %v", pool.queryArgs[0][0])
	}
}

func TestPostgresGetUserUnknown(t *testing.T) {
	pool := &stubPool{rows: []stubRow{{err: pgx.ErrNoRows}}}
	store := NewPostgresStore(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if _, err := store.GetUser(context.Background(), "ghost"); !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func historyValues(id int64, ts time.Time, pnl float64, confirmed bool) []any {
	return []any{id, domain.SharedUsername, ts, "NVDA", "call", 190.0, ts, pnl, confirmed, 74.5, "NVDA ripping higher"}
}

type stubPool struct {
	execSQL   []string
	execArgs  [][]any
	execTags  []string
	queryArgs [][]any
	rowsData  [][]any
	rows      []stubRow
	tx        *stubTx
}

func (s *stubPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execSQL = append(s.execSQL, sql)
	s.execArgs = append(s.execArgs, args)
	tag := ""
	if len(s.execTags) > 0 {
		tag, s.execTags = s.execTags[0], s.execTags[1:]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (s *stubPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.queryArgs = append(s.queryArgs, args)
	return &stubRows{data: s.rowsData}, nil
}

func (s *stubPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(s.rows) == 0 {
		return stubRow{err: pgx.ErrNoRows}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

func (s *stubPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if s.tx == nil {
		return nil, fmt.Errorf("no tx configured")
	}
	return s.tx, nil
}

// stubTx implements the pgx.Tx methods the store uses; the embedded interface panics on
// anything else.
type stubTx struct {
	pgx.Tx
	execSQL    []string
	execArgs   [][]any
	execTags   []string
	rows       []stubRow
	committed  bool
	rolledBack bool
}

func (s *stubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execSQL = append(s.execSQL, sql)
	s.execArgs = append(s.execArgs, args)
	tag := ""
	if len(s.execTags) > 0 {
		tag, s.execTags = s.execTags[0], s.execTags[1:]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (s *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(s.rows) == 0 {
		return stubRow{err: pgx.ErrNoRows}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

func (s *stubTx) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func (s *stubTx) Rollback(ctx context.Context) error {
	if !s.committed {
		s.rolledBack = true
	}
	return nil
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type stubRows struct {
	data [][]any
	idx  int
}

func (r *stubRows) Close() {}

func (r *stubRows) Err() error { return nil }

func (r *stubRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("invalid scan index")
	}
	return assign(r.data[r.idx-1], dest)
}

func (r *stubRows) Values() ([]any, error) { return nil, nil }

func (r *stubRows) RawValues() [][]byte { return nil }

func (r *stubRows) Conn() *pgx.Conn { return nil }

func assign(row []any, dest []any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("expected %d columns, got %d", len(dest), len(row))
	}
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = row[i].(string)
		case *int64:
			*ptr = row[i].(int64)
		case *float64:
			*ptr = row[i].(float64)
		case *bool:
			*ptr = row[i].(bool)
		case *time.Time:
			*ptr = row[i].(time.Time)
		default:
			return fmt.Errorf("unsupported dest type %T", d)
		}
	}
	return nil
}
