package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"benji/internal/domain"
	"benji/internal/metrics"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWinProbability = 0.65
	DefaultWinPnL         = 180.0
	DefaultLossPnL        = -100.0
)

type SignalStore interface {
	OpenSignal(ctx context.Context, s domain.ActiveSignal) (bool, error)
	ActiveSignals(ctx context.Context) ([]domain.ActiveSignal, error)
	ResolveSignal(ctx context.Context, s domain.ActiveSignal, pnl float64, resolvedAt time.Time) (*domain.HistoricalSignal, bool, error)
	ConfirmSignal(ctx context.Context, id int64, username string) (*domain.HistoricalSignal, bool, error)
}

// OutcomePolicy is the simulated result of a resolved $100 play.
type OutcomePolicy struct {
	WinProbability float64
	WinPnL         float64
	LossPnL        float64
}

func DefaultOutcomePolicy() OutcomePolicy {
	return OutcomePolicy{WinProbability: DefaultWinProbability, WinPnL: DefaultWinPnL, LossPnL: DefaultLossPnL}
}

// LifecycleManager moves a ticker through no signal -> active -> resolved. All state lives
// in the store; every transition is one store transaction.
type LifecycleManager struct {
	tracer trace.Tracer
	store  SignalStore
	policy OutcomePolicy
	rand   func() float64
}

// NewLifecycleManager builds a manager. randFn draws uniformly from [0, 1); nil uses
// math/rand.
func NewLifecycleManager(tracer trace.Tracer, store SignalStore, policy OutcomePolicy, randFn func() float64) *LifecycleManager {
	if policy.WinProbability < 0 || policy.WinProbability > 1 {
		policy.WinProbability = DefaultWinProbability
	}
	if policy.WinPnL == 0 && policy.LossPnL == 0 {
		policy = DefaultOutcomePolicy()
	}
	if randFn == nil {
		randFn = rand.Float64
	}
	return &LifecycleManager{tracer: tracer, store: store, policy: policy, rand: randFn}
}

// Open records s as the ticker's active signal. It returns false without error when the
// ticker already has one.
func (m *LifecycleManager) Open(ctx context.Context, s domain.ActiveSignal) (*domain.ActiveSignal, bool, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.open")
	defer span.End()

	s.Ticker = domain.NormalizeTicker(s.Ticker)
	if s.Ticker == "" {
		return nil, false, errors.New("ticker is required")
	}
	if !s.Direction.IsValid() {
		return nil, false, fmt.Errorf("invalid direction %q", s.Direction)
	}
	if s.Expiry.IsZero() {
		return nil, false, errors.New("expiry is required")
	}
	if s.EntryTime.IsZero() {
		s.EntryTime = time.Now().UTC()
	}
	s.Expiry = domain.Day(s.Expiry)

	opened, err := m.store.OpenSignal(ctx, s)
	if err != nil {
		return nil, false, err
	}
	if !opened {
		log.Debug().Err(domain.ErrDuplicateSignal).Str("ticker", s.Ticker).Msg("open skipped")
		return nil, false, nil
	}
	metrics.SignalsOpened.WithLabelValues(string(s.Direction)).Inc()
	log.Info().
		Str("ticker", s.Ticker).
		Str("direction", string(s.Direction)).
		Float64("strike", s.Strike).
		Str("expiry", s.Expiry.Format(domain.ExpiryLayout)).
		Float64("pop", s.PoP).
		Msg("signal opened")
	return &s, true, nil
}

// Draw returns the simulated pnl of one resolution.
func (m *LifecycleManager) Draw() float64 {
	if m.rand() < m.policy.WinProbability {
		return m.policy.WinPnL
	}
	return m.policy.LossPnL
}

// ResolveExpired archives every active signal whose expiry date is strictly before now's
// date. A failure on one signal is logged and the rest still resolve.
func (m *LifecycleManager) ResolveExpired(ctx context.Context, now time.Time) ([]domain.HistoricalSignal, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.resolve-expired")
	defer span.End()

	active, err := m.store.ActiveSignals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active signals: %w", err)
	}

	var resolved []domain.HistoricalSignal
	for _, s := range active {
		if !s.ExpiredAt(now) {
			continue
		}
		pnl := m.Draw()
		h, ok, err := m.store.ResolveSignal(ctx, s, pnl, now)
		if err != nil {
			log.Error().Err(err).Str("ticker", s.Ticker).Msg("resolve signal failed")
			continue
		}
		if !ok {
			log.Debug().Str("ticker", s.Ticker).Msg("signal already resolved")
			continue
		}
		outcome := "loss"
		if pnl > 0 {
			outcome = "win"
		}
		metrics.SignalsResolved.WithLabelValues(outcome).Inc()
		log.Info().Str("ticker", s.Ticker).Float64("pnl", pnl).Int64("signal_id", h.ID).Msg("signal resolved")
		resolved = append(resolved, *h)
	}
	return resolved, nil
}

// Confirm marks signal id as taken by username and credits that user's youTotal once. The
// flag is system wide, so a signal already confirmed by anyone is a no-op.
func (m *LifecycleManager) Confirm(ctx context.Context, id int64, username string) (*domain.HistoricalSignal, bool, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.confirm")
	defer span.End()

	username = strings.TrimSpace(username)
	if id <= 0 {
		return nil, false, fmt.Errorf("%w: invalid id %d", domain.ErrSignalNotFound, id)
	}
	if username == "" {
		return nil, false, fmt.Errorf("%w: empty username", domain.ErrUnknownUser)
	}
	h, ok, err := m.store.ConfirmSignal(ctx, id, username)
	if err != nil {
		return nil, false, err
	}
	if ok {
		log.Info().Int64("signal_id", id).Str("user", username).Float64("pnl", h.PnL).Msg("signal confirmed")
	}
	return h, ok, nil
}

// ActiveTickers returns the set of tickers that currently hold an active signal.
func (m *LifecycleManager) ActiveTickers(ctx context.Context) (map[string]struct{}, error) {
	active, err := m.store.ActiveSignals(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(active))
	for _, s := range active {
		out[domain.NormalizeTicker(s.Ticker)] = struct{}{}
	}
	return out, nil
}
