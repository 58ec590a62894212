package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"benji/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    username    TEXT PRIMARY KEY,
    email       TEXT NOT NULL DEFAULT '',
    chat_handle TEXT NOT NULL DEFAULT '',
    ai_total    DOUBLE PRECISION NOT NULL DEFAULT 0,
    you_total   DOUBLE PRECISION NOT NULL DEFAULT 0,
    join_date   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS signals (
    id             BIGSERIAL PRIMARY KEY,
    username       TEXT NOT NULL,
    timestamp      TIMESTAMPTZ NOT NULL,
    ticker         TEXT NOT NULL,
    direction      TEXT NOT NULL,
    strike         DOUBLE PRECISION NOT NULL,
    expiry         DATE NOT NULL,
    pnl            DOUBLE PRECISION NOT NULL,
    user_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    pop            DOUBLE PRECISION NOT NULL,
    explanation    TEXT NOT NULL DEFAULT '',
    resolution_key TEXT UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals (timestamp DESC);

CREATE TABLE IF NOT EXISTS preferences (
    username TEXT NOT NULL,
    ticker   TEXT NOT NULL,
    enabled  BOOLEAN NOT NULL DEFAULT TRUE,
    PRIMARY KEY (username, ticker)
);

CREATE TABLE IF NOT EXISTS active_signals (
    ticker      TEXT PRIMARY KEY,
    direction   TEXT NOT NULL,
    strike      DOUBLE PRECISION NOT NULL,
    expiry      DATE NOT NULL,
    entry_time  TIMESTAMPTZ NOT NULL,
    pop         DOUBLE PRECISION NOT NULL,
    explanation TEXT NOT NULL DEFAULT ''
);
`

const historyColumns = `id, username, timestamp, ticker, direction, strike, expiry, pnl, user_confirmed, pop, explanation`

// PostgresStore persists users, preferences and signal state in Postgres. Open, resolve and
// confirm each run in a single transaction.
type PostgresStore struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPostgresStore(pool PgxPool, tracer trace.Tracer) *PostgresStore {
	return &PostgresStore{pool: pool, tracer: tracer}
}

func (r *PostgresStore) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "store.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, postgresSchema)
	return err
}

func (r *PostgresStore) EnsureUser(ctx context.Context, u domain.User) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "store.ensure-user")
	defer span.End()

	username := strings.TrimSpace(u.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	joined := u.JoinDate
	if joined.IsZero() {
		joined = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, email, chat_handle, join_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO UPDATE SET
		     email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		     chat_handle = COALESCE(NULLIF(EXCLUDED.chat_handle, ''), users.chat_handle)`,
		username, strings.TrimSpace(u.Email), strings.TrimSpace(u.ChatHandle), joined.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", username, err)
	}
	return r.GetUser(ctx, username)
}

func (r *PostgresStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "store.get-user")
	defer span.End()

	var u domain.User
	err := r.pool.QueryRow(ctx,
		`SELECT username, email, chat_handle, ai_total, you_total, join_date FROM users WHERE username = $1`,
		username,
	).Scan(&u.Username, &u.Email, &u.ChatHandle, &u.AITotal, &u.YouTotal, &u.JoinDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownUser, username)
	}
	if err != nil {
		return nil, err
	}
	u.JoinDate = u.JoinDate.UTC()
	return &u, nil
}

func (r *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "store.list-users")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT username, email, chat_handle, ai_total, you_total, join_date FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Username, &u.Email, &u.ChatHandle, &u.AITotal, &u.YouTotal, &u.JoinDate); err != nil {
			return nil, err
		}
		u.JoinDate = u.JoinDate.UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresStore) SetPreference(ctx context.Context, p domain.Preference) error {
	ctx, span := r.tracer.Start(ctx, "store.set-preference")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO preferences (username, ticker, enabled) VALUES ($1, $2, $3)
		 ON CONFLICT (username, ticker) DO UPDATE SET enabled = EXCLUDED.enabled`,
		p.Username, domain.NormalizeTicker(p.Ticker), p.Enabled,
	)
	return err
}

// ListPreferences returns the explicit preference rows, for one user or for everyone when
// username is empty.
func (r *PostgresStore) ListPreferences(ctx context.Context, username string) ([]domain.Preference, error) {
	ctx, span := r.tracer.Start(ctx, "store.list-preferences")
	defer span.End()

	query := `SELECT username, ticker, enabled FROM preferences`
	args := []any{}
	if username != "" {
		query += ` WHERE username = $1`
		args = append(args, username)
	}
	query += ` ORDER BY username, ticker`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []domain.Preference
	for rows.Next() {
		var p domain.Preference
		if err := rows.Scan(&p.Username, &p.Ticker, &p.Enabled); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// OptedInTickers lists tickers at least one user has an enabled preference row for.
func (r *PostgresStore) OptedInTickers(ctx context.Context) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "store.opted-in-tickers")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ticker FROM preferences WHERE enabled ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func (r *PostgresStore) ActiveSignals(ctx context.Context) ([]domain.ActiveSignal, error) {
	ctx, span := r.tracer.Start(ctx, "store.active-signals")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT ticker, direction, strike, expiry, entry_time, pop, explanation
		 FROM active_signals ORDER BY entry_time DESC, ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ActiveSignal
	for rows.Next() {
		var s domain.ActiveSignal
		var direction string
		if err := rows.Scan(&s.Ticker, &direction, &s.Strike, &s.Expiry, &s.EntryTime, &s.PoP, &s.Explanation); err != nil {
			return nil, err
		}
		s.Direction = domain.Direction(direction)
		s.Expiry = domain.Day(s.Expiry)
		s.EntryTime = s.EntryTime.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// OpenSignal inserts s unless its ticker already has an active signal. The bool reports
// whether a row was inserted.
func (r *PostgresStore) OpenSignal(ctx context.Context, s domain.ActiveSignal) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "store.open-signal")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO active_signals (ticker, direction, strike, expiry, entry_time, pop, explanation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (ticker) DO NOTHING`,
		domain.NormalizeTicker(s.Ticker), string(s.Direction), s.Strike, domain.Day(s.Expiry),
		s.EntryTime.UTC(), s.PoP, s.Explanation,
	)
	if err != nil {
		return false, fmt.Errorf("open signal %s: %w", s.Ticker, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveSignal archives s with the given pnl and credits every user's aiTotal, all in one
// transaction. It is a no-op (false) when the active row is already gone or the resolution
// key was already recorded.
func (r *PostgresStore) ResolveSignal(ctx context.Context, s domain.ActiveSignal, pnl float64, resolvedAt time.Time) (*domain.HistoricalSignal, bool, error) {
	ctx, span := r.tracer.Start(ctx, "store.resolve-signal")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM active_signals WHERE ticker = $1 AND expiry = $2`,
		domain.NormalizeTicker(s.Ticker), domain.Day(s.Expiry),
	)
	if err != nil {
		return nil, false, fmt.Errorf("delete active %s: %w", s.Ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	h := historyFromActive(s, pnl, resolvedAt)
	err = tx.QueryRow(ctx,
		`INSERT INTO signals (username, timestamp, ticker, direction, strike, expiry, pnl, user_confirmed, pop, explanation, resolution_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10)
		 ON CONFLICT (resolution_key) DO NOTHING
		 RETURNING id`,
		h.Username, h.Timestamp, h.Ticker, string(h.Direction), h.Strike, h.Expiry, h.PnL, h.PoP, h.Explanation,
		s.ResolutionKey(),
	).Scan(&h.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// already archived by an earlier attempt; drop the stale active row only
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert history %s: %w", s.Ticker, err)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET ai_total = ai_total + $1`, pnl); err != nil {
		return nil, false, fmt.Errorf("credit ai totals: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

// ConfirmSignal flips the confirmed flag of signal id and credits username's youTotal by
// its pnl. A signal that is already confirmed is returned with false.
func (r *PostgresStore) ConfirmSignal(ctx context.Context, id int64, username string) (*domain.HistoricalSignal, bool, error) {
	ctx, span := r.tracer.Start(ctx, "store.confirm-signal")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrUnknownUser, username)
	}

	h, err := scanHistory(tx.QueryRow(ctx,
		`UPDATE signals SET user_confirmed = TRUE WHERE id = $1 AND NOT user_confirmed
		 RETURNING `+historyColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := scanHistory(tx.QueryRow(ctx, `SELECT `+historyColumns+` FROM signals WHERE id = $1`, id))
		if errors.Is(getErr, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: %d", domain.ErrSignalNotFound, id)
		}
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET you_total = you_total + $1 WHERE username = $2`, h.PnL, username); err != nil {
		return nil, false, fmt.Errorf("credit you total: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (r *PostgresStore) GetSignal(ctx context.Context, id int64) (*domain.HistoricalSignal, error) {
	ctx, span := r.tracer.Start(ctx, "store.get-signal")
	defer span.End()

	h, err := scanHistory(r.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM signals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrSignalNotFound, id)
	}
	return h, err
}

// ListHistory returns resolved signals newest first.
func (r *PostgresStore) ListHistory(ctx context.Context, limit int) ([]domain.HistoricalSignal, error) {
	ctx, span := r.tracer.Start(ctx, "store.list-history")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM signals ORDER BY timestamp DESC, id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoricalSignal
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (r *PostgresStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*domain.HistoricalSignal, error) {
	var h domain.HistoricalSignal
	var direction string
	if err := row.Scan(&h.ID, &h.Username, &h.Timestamp, &h.Ticker, &direction, &h.Strike,
		&h.Expiry, &h.PnL, &h.UserConfirmed, &h.PoP, &h.Explanation); err != nil {
		return nil, err
	}
	h.Direction = domain.Direction(direction)
	h.Timestamp = h.Timestamp.UTC()
	h.Expiry = domain.Day(h.Expiry)
	return &h, nil
}

func historyFromActive(s domain.ActiveSignal, pnl float64, resolvedAt time.Time) domain.HistoricalSignal {
	return domain.HistoricalSignal{
		Username:    domain.SharedUsername,
		Timestamp:   resolvedAt.UTC(),
		Ticker:      domain.NormalizeTicker(s.Ticker),
		Direction:   s.Direction,
		Strike:      s.Strike,
		Expiry:      domain.Day(s.Expiry),
		PnL:         pnl,
		PoP:         s.PoP,
		Explanation: s.Explanation,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
