package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"benji/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type AccountStore interface {
	EnsureUser(ctx context.Context, u domain.User) (*domain.User, error)
	GetUser(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetPreference(ctx context.Context, p domain.Preference) error
	ListPreferences(ctx context.Context, username string) ([]domain.Preference, error)
	ActiveSignals(ctx context.Context) ([]domain.ActiveSignal, error)
	GetSignal(ctx context.Context, id int64) (*domain.HistoricalSignal, error)
	ListHistory(ctx context.Context, limit int) ([]domain.HistoricalSignal, error)
}

// Ledger is a user's two running totals.
type Ledger struct {
	Username string  `json:"username"`
	AITotal  float64 `json:"ai_total"`
	YouTotal float64 `json:"you_total"`
}

// AccountService is the reader and occasional writer used by the HTTP API, the chat bot and
// the CLI. It never opens or resolves signals.
type AccountService struct {
	tracer      trace.Tracer
	store       AccountStore
	coreTickers []string
}

func NewAccountService(tracer trace.Tracer, store AccountStore, coreTickers []string) *AccountService {
	if len(coreTickers) == 0 {
		coreTickers = domain.DefaultCoreTickers
	}
	return &AccountService{tracer: tracer, store: store, coreTickers: coreTickers}
}

// EnsureUser creates the user on first sight and fills in any contact details given.
func (s *AccountService) EnsureUser(ctx context.Context, u domain.User) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "account.ensure-user")
	defer span.End()

	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if u.Username == domain.SharedUsername {
		return nil, fmt.Errorf("username %q is reserved", domain.SharedUsername)
	}
	return s.store.EnsureUser(ctx, u)
}

func (s *AccountService) GetUser(ctx context.Context, username string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "account.get-user")
	defer span.End()

	return s.store.GetUser(ctx, strings.TrimSpace(username))
}

func (s *AccountService) Ledger(ctx context.Context, username string) (*Ledger, error) {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return &Ledger{Username: u.Username, AITotal: u.AITotal, YouTotal: u.YouTotal}, nil
}

// Preferences returns the user's effective alert settings: every core ticker (enabled unless
// a row says otherwise) plus any ticker the user has an explicit row for.
func (s *AccountService) Preferences(ctx context.Context, username string) ([]domain.Preference, error) {
	ctx, span := s.tracer.Start(ctx, "account.preferences")
	defer span.End()

	username = strings.TrimSpace(username)
	if _, err := s.store.GetUser(ctx, username); err != nil {
		return nil, err
	}
	rows, err := s.store.ListPreferences(ctx, username)
	if err != nil {
		return nil, err
	}

	byTicker := make(map[string]bool, len(s.coreTickers)+len(rows))
	for _, t := range s.coreTickers {
		byTicker[domain.NormalizeTicker(t)] = true
	}
	for _, p := range rows {
		byTicker[domain.NormalizeTicker(p.Ticker)] = p.Enabled
	}
	out := make([]domain.Preference, 0, len(byTicker))
	for t, enabled := range byTicker {
		out = append(out, domain.Preference{Username: username, Ticker: t, Enabled: enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *AccountService) SetPreference(ctx context.Context, username, ticker string, enabled bool) (*domain.Preference, error) {
	ctx, span := s.tracer.Start(ctx, "account.set-preference")
	defer span.End()

	p := domain.Preference{Username: strings.TrimSpace(username), Ticker: domain.NormalizeTicker(ticker), Enabled: enabled}
	if p.Ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if _, err := s.store.GetUser(ctx, p.Username); err != nil {
		return nil, err
	}
	if err := s.store.SetPreference(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *AccountService) ActiveSignals(ctx context.Context) ([]domain.ActiveSignal, error) {
	ctx, span := s.tracer.Start(ctx, "account.active-signals")
	defer span.End()

	return s.store.ActiveSignals(ctx)
}

// LatestActive is the most recently opened active signal, or nil when none is open.
func (s *AccountService) LatestActive(ctx context.Context) (*domain.ActiveSignal, error) {
	active, err := s.ActiveSignals(ctx)
	if err != nil {
		return nil, err
	}
	var latest *domain.ActiveSignal
	for i := range active {
		if latest == nil || active[i].EntryTime.After(latest.EntryTime) {
			latest = &active[i]
		}
	}
	return latest, nil
}

func (s *AccountService) History(ctx context.Context, limit int) ([]domain.HistoricalSignal, error) {
	ctx, span := s.tracer.Start(ctx, "account.history")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return s.store.ListHistory(ctx, limit)
}

func (s *AccountService) GetSignal(ctx context.Context, id int64) (*domain.HistoricalSignal, error) {
	ctx, span := s.tracer.Start(ctx, "account.get-signal")
	defer span.End()

	return s.store.GetSignal(ctx, id)
}
