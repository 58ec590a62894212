package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"benji/internal/domain"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/trace"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    username    TEXT PRIMARY KEY,
    email       TEXT NOT NULL DEFAULT '',
    chat_handle TEXT NOT NULL DEFAULT '',
    ai_total    REAL NOT NULL DEFAULT 0,
    you_total   REAL NOT NULL DEFAULT 0,
    join_date   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    username       TEXT NOT NULL,
    timestamp      TEXT NOT NULL,
    ticker         TEXT NOT NULL,
    direction      TEXT NOT NULL,
    strike         REAL NOT NULL,
    expiry         TEXT NOT NULL,
    pnl            REAL NOT NULL,
    user_confirmed INTEGER NOT NULL DEFAULT 0,
    pop            REAL NOT NULL,
    explanation    TEXT NOT NULL DEFAULT '',
    resolution_key TEXT UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals (timestamp DESC);

CREATE TABLE IF NOT EXISTS preferences (
    username TEXT NOT NULL,
    ticker   TEXT NOT NULL,
    enabled  INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (username, ticker)
);

CREATE TABLE IF NOT EXISTS active_signals (
    ticker      TEXT PRIMARY KEY,
    direction   TEXT NOT NULL,
    strike      REAL NOT NULL,
    expiry      TEXT NOT NULL,
    entry_time  TEXT NOT NULL,
    pop         REAL NOT NULL,
    explanation TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore is the single-file store used for local runs and tests. Timestamps are
// stored as UTC text and expiries as YYYY-MM-DD.
type SQLiteStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string, tracer trace.Tracer) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path: %w", domain.ErrConfigurationMissing)
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, tracer: tracer}
	if err := s.RunMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) RunMigrations(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "store.run-migrations")
	defer span.End()

	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureUser(ctx context.Context, u domain.User) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "store.ensure-user")
	defer span.End()

	username := strings.TrimSpace(u.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	joined := u.JoinDate
	if joined.IsZero() {
		joined = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, chat_handle, join_date) VALUES (?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE SET
		     email = COALESCE(NULLIF(excluded.email, ''), users.email),
		     chat_handle = COALESCE(NULLIF(excluded.chat_handle, ''), users.chat_handle)`,
		username, strings.TrimSpace(u.Email), strings.TrimSpace(u.ChatHandle), formatTime(joined),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", username, err)
	}
	return s.GetUser(ctx, username)
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "store.get-user")
	defer span.End()

	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT username, email, chat_handle, ai_total, you_total, join_date FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownUser, username)
	}
	return u, err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "store.list-users")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT username, email, chat_handle, ai_total, you_total, join_date FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) SetPreference(ctx context.Context, p domain.Preference) error {
	ctx, span := s.tracer.Start(ctx, "store.set-preference")
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (username, ticker, enabled) VALUES (?, ?, ?)
		 ON CONFLICT (username, ticker) DO UPDATE SET enabled = excluded.enabled`,
		p.Username, domain.NormalizeTicker(p.Ticker), boolToInt(p.Enabled),
	)
	return err
}

func (s *SQLiteStore) ListPreferences(ctx context.Context, username string) ([]domain.Preference, error) {
	ctx, span := s.tracer.Start(ctx, "store.list-preferences")
	defer span.End()

	query := `SELECT username, ticker, enabled FROM preferences`
	var args []any
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY username, ticker`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []domain.Preference
	for rows.Next() {
		var p domain.Preference
		var enabled int
		if err := rows.Scan(&p.Username, &p.Ticker, &enabled); err != nil {
			return nil, err
		}
		p.Enabled = enabled != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

func (s *SQLiteStore) OptedInTickers(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "store.opted-in-tickers")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM preferences WHERE enabled = 1 ORDER BY ticker`)
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

func (s *SQLiteStore) ActiveSignals(ctx context.Context) ([]domain.ActiveSignal, error) {
	ctx, span := s.tracer.Start(ctx, "store.active-signals")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, direction, strike, expiry, entry_time, pop, explanation
		 FROM active_signals ORDER BY entry_time DESC, ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ActiveSignal
	for rows.Next() {
		var a domain.ActiveSignal
		var direction, expiry, entry string
		if err := rows.Scan(&a.Ticker, &direction, &a.Strike, &expiry, &entry, &a.PoP, &a.Explanation); err != nil {
			return nil, err
		}
		a.Direction = domain.Direction(direction)
		if a.Expiry, err = domain.ParseExpiry(expiry); err != nil {
			return nil, fmt.Errorf("active %s expiry: %w", a.Ticker, err)
		}
		if a.EntryTime, err = parseTime(entry); err != nil {
			return nil, fmt.Errorf("active %s entry time: %w", a.Ticker, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) OpenSignal(ctx context.Context, a domain.ActiveSignal) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.open-signal")
	defer span.End()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO active_signals (ticker, direction, strike, expiry, entry_time, pop, explanation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (ticker) DO NOTHING`,
		domain.NormalizeTicker(a.Ticker), string(a.Direction), a.Strike, a.Expiry.Format(domain.ExpiryLayout),
		formatTime(a.EntryTime), a.PoP, a.Explanation,
	)
	if err != nil {
		return false, fmt.Errorf("open signal %s: %w", a.Ticker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ResolveSignal(ctx context.Context, a domain.ActiveSignal, pnl float64, resolvedAt time.Time) (*domain.HistoricalSignal, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.resolve-signal")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM active_signals WHERE ticker = ? AND expiry = ?`,
		domain.NormalizeTicker(a.Ticker), a.Expiry.Format(domain.ExpiryLayout),
	)
	if err != nil {
		return nil, false, fmt.Errorf("delete active %s: %w", a.Ticker, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, false, err
	}

	h := historyFromActive(a, pnl, resolvedAt)
	res, err = tx.ExecContext(ctx,
		`INSERT INTO signals (username, timestamp, ticker, direction, strike, expiry, pnl, user_confirmed, pop, explanation, resolution_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (resolution_key) DO NOTHING`,
		h.Username, formatTime(h.Timestamp), h.Ticker, string(h.Direction), h.Strike,
		h.Expiry.Format(domain.ExpiryLayout), h.PnL, h.PoP, h.Explanation, a.ResolutionKey(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert history %s: %w", a.Ticker, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if n == 0 {
		return nil, false, tx.Commit()
	}
	if h.ID, err = res.LastInsertId(); err != nil {
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET ai_total = ai_total + ?`, pnl); err != nil {
		return nil, false, fmt.Errorf("credit ai totals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

func (s *SQLiteStore) ConfirmSignal(ctx context.Context, id int64, username string) (*domain.HistoricalSignal, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.confirm-signal")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrUnknownUser, username)
	}
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE signals SET user_confirmed = 1 WHERE id = ? AND user_confirmed = 0`, id)
	if err != nil {
		return nil, false, err
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	h, err := scanSQLiteHistory(tx.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM signals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: %d", domain.ErrSignalNotFound, id)
	}
	if err != nil {
		return nil, false, err
	}
	if changed == 0 {
		return h, false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET you_total = you_total + ? WHERE username = ?`, h.PnL, username); err != nil {
		return nil, false, fmt.Errorf("credit you total: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id int64) (*domain.HistoricalSignal, error) {
	ctx, span := s.tracer.Start(ctx, "store.get-signal")
	defer span.End()

	h, err := scanSQLiteHistory(s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM signals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrSignalNotFound, id)
	}
	return h, err
}

func (s *SQLiteStore) ListHistory(ctx context.Context, limit int) ([]domain.HistoricalSignal, error) {
	ctx, span := s.tracer.Start(ctx, "store.list-history")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM signals ORDER BY timestamp DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoricalSignal
	for rows.Next() {
		h, err := scanSQLiteHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanSQLiteUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var joined string
	if err := row.Scan(&u.Username, &u.Email, &u.ChatHandle, &u.AITotal, &u.YouTotal, &joined); err != nil {
		return nil, err
	}
	t, err := parseTime(joined)
	if err != nil {
		return nil, fmt.Errorf("user %s join date: %w", u.Username, err)
	}
	u.JoinDate = t
	return &u, nil
}

func scanSQLiteHistory(row rowScanner) (*domain.HistoricalSignal, error) {
	var h domain.HistoricalSignal
	var direction, ts, expiry string
	var confirmed int
	if err := row.Scan(&h.ID, &h.Username, &ts, &h.Ticker, &direction, &h.Strike,
		&expiry, &h.PnL, &confirmed, &h.PoP, &h.Explanation); err != nil {
		return nil, err
	}
	var err error
	if h.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("signal %d timestamp: %w", h.ID, err)
	}
	if h.Expiry, err = domain.ParseExpiry(expiry); err != nil {
		return nil, fmt.Errorf("signal %d expiry: %w", h.ID, err)
	}
	h.Direction = domain.Direction(direction)
	h.UserConfirmed = confirmed != 0
	return &h, nil
}

// sqliteTimeLayout is fixed width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
