package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"benji/internal/domain"
	"benji/internal/market"
	"benji/internal/metrics"
	"benji/internal/signal"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	skipBelowThreshold = "below_threshold"
	skipAlreadyActive  = "already_active"
	skipNoData         = "data_unavailable"
	skipError          = "error"
)

type WatchlistStore interface {
	OptedInTickers(ctx context.Context) ([]string, error)
}

type SentimentScorer interface {
	Score(ctx context.Context, ticker string) float64
}

type Notifier interface {
	Fanout(ctx context.Context, s domain.ActiveSignal) domain.FanoutReport
}

// Classifier is the optional pre-trained scoring artifact.
type Classifier interface {
	Classify(features []float64) (int, error)
}

// Explainer may rewrite the template explanation; it returns fallback on any failure.
type Explainer interface {
	Explain(ctx context.Context, ticker string, s signal.Score, fallback string) string
}

type ScannerDeps struct {
	Market      market.Provider
	Sentiment   SentimentScorer
	Engine      *signal.Engine
	Lifecycle   *LifecycleManager
	Watchlist   WatchlistStore
	Notifier    Notifier
	Classifier  Classifier
	Explainer   Explainer
	CoreTickers []string
	Now         func() time.Time
}

// Scanner runs one scan, score, signal and resolve pass over the watch-list.
type Scanner struct {
	tracer trace.Tracer
	deps   ScannerDeps
}

// CycleReport describes one RunCycle.
type CycleReport struct {
	ID       string                    `json:"id"`
	Started  time.Time                 `json:"started"`
	Finished time.Time                 `json:"finished"`
	Tickers  []string                  `json:"tickers"`
	Opened   []domain.ActiveSignal     `json:"opened"`
	Skipped  map[string]string         `json:"skipped"`
	Resolved []domain.HistoricalSignal `json:"resolved"`
}

func NewScanner(tracer trace.Tracer, deps ScannerDeps) *Scanner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if len(deps.CoreTickers) == 0 {
		deps.CoreTickers = domain.DefaultCoreTickers
	}
	return &Scanner{tracer: tracer, deps: deps}
}

// Watchlist is the configured core tickers plus every ticker a user opted into, upper-cased,
// deduplicated and sorted. A store failure degrades to the core list.
func (s *Scanner) Watchlist(ctx context.Context) []string {
	set := make(map[string]struct{}, len(s.deps.CoreTickers))
	for _, t := range s.deps.CoreTickers {
		if t = domain.NormalizeTicker(t); t != "" {
			set[t] = struct{}{}
		}
	}
	if s.deps.Watchlist != nil {
		extra, err := s.deps.Watchlist.OptedInTickers(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("opted-in tickers unavailable, scanning core tickers only")
		}
		for _, t := range extra {
			if t = domain.NormalizeTicker(t); t != "" {
				set[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RunCycle scans every watch-list ticker, opens and announces new signals, then resolves
// expired ones. Per-ticker failures are logged and counted; they never abort the cycle.
func (s *Scanner) RunCycle(ctx context.Context) (*CycleReport, error) {
	ctx, span := s.tracer.Start(ctx, "scanner.run-cycle")
	defer span.End()

	if s.deps.Market == nil || s.deps.Sentiment == nil || s.deps.Engine == nil || s.deps.Lifecycle == nil {
		return nil, fmt.Errorf("scanner is not fully initialized")
	}

	report := &CycleReport{
		ID:      uuid.NewString(),
		Started: s.deps.Now().UTC(),
		Skipped: map[string]string{},
	}
	logger := log.With().Str("cycle_id", report.ID).Logger()
	report.Tickers = s.Watchlist(ctx)

	active, err := s.deps.Lifecycle.ActiveTickers(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("active signals unavailable, relying on store uniqueness")
		active = map[string]struct{}{}
	}

	for _, ticker := range report.Tickers {
		opened, reason, err := s.scanTicker(ctx, ticker, active)
		if err != nil {
			logger.Warn().Err(err).Str("ticker", ticker).Str("reason", reason).Msg("ticker skipped")
		}
		if opened == nil {
			if reason != "" {
				report.Skipped[ticker] = reason
				metrics.TickersSkipped.WithLabelValues(reason).Inc()
			}
			continue
		}
		active[opened.Ticker] = struct{}{}
		report.Opened = append(report.Opened, *opened)
		if s.deps.Notifier != nil {
			r := s.deps.Notifier.Fanout(ctx, *opened)
			logger.Info().Str("ticker", opened.Ticker).Int("sent", r.Sent).Int("failed", r.Failed).Msg("signal announced")
		}
	}

	resolved, err := s.deps.Lifecycle.ResolveExpired(ctx, s.deps.Now().UTC())
	if err != nil {
		logger.Error().Err(err).Msg("resolve expired failed")
	}
	report.Resolved = resolved
	report.Finished = s.deps.Now().UTC()

	result := "ok"
	if err != nil {
		result = "resolve_failed"
	}
	metrics.ScanCycles.WithLabelValues(result).Inc()
	metrics.ScanCycleDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	logger.Info().
		Int("tickers", len(report.Tickers)).
		Int("opened", len(report.Opened)).
		Int("skipped", len(report.Skipped)).
		Int("resolved", len(report.Resolved)).
		Msg("scan cycle finished")
	return report, nil
}

func (s *Scanner) scanTicker(ctx context.Context, ticker string, active map[string]struct{}) (*domain.ActiveSignal, string, error) {
	ctx, span := s.tracer.Start(ctx, "scanner.scan-ticker")
	defer span.End()

	bars, err := s.deps.Market.History(ctx, ticker, market.DefaultPeriod)
	if err != nil {
		return nil, classify(err), fmt.Errorf("history: %w", err)
	}
	momentum, err := signal.Momentum(signal.Closes(bars))
	if err != nil {
		return nil, skipNoData, err
	}
	sentiment := s.deps.Sentiment.Score(ctx, ticker)
	score := s.deps.Engine.Score(momentum, sentiment)
	log.Debug().
		Str("ticker", ticker).
		Float64("momentum", momentum).
		Float64("sentiment", sentiment).
		Float64("pop", score.PoP).
		Msg("ticker scored")

	if !s.deps.Engine.Triggers(score) {
		return nil, skipBelowThreshold, nil
	}
	if _, ok := active[ticker]; ok {
		return nil, skipAlreadyActive, nil
	}

	expiries, err := s.deps.Market.Expiries(ctx, ticker)
	if err != nil {
		return nil, classify(err), fmt.Errorf("expiries: %w", err)
	}
	expiry, err := signal.SelectExpiry(expiries)
	if err != nil {
		return nil, skipNoData, err
	}
	chain, err := s.deps.Market.OptionChain(ctx, ticker, expiry)
	if err != nil {
		return nil, classify(err), fmt.Errorf("option chain: %w", err)
	}
	price, err := s.deps.Market.Quote(ctx, ticker)
	if err != nil {
		return nil, classify(err), fmt.Errorf("quote: %w", err)
	}
	strike, err := signal.SelectStrike(chain, score.Direction, price)
	if err != nil {
		return nil, skipNoData, err
	}

	explanation := signal.Explain(ticker, score)
	if s.deps.Explainer != nil {
		explanation = s.deps.Explainer.Explain(ctx, ticker, score, explanation)
	}
	if s.deps.Classifier != nil {
		class, err := s.deps.Classifier.Classify(signal.Features(bars, momentum, sentiment))
		if err != nil {
			log.Debug().Err(err).Str("ticker", ticker).Msg("model classification failed")
		} else {
			log.Info().Str("ticker", ticker).Int("model_class", class).Msg("model classification")
		}
	}

	opened, ok, err := s.deps.Lifecycle.Open(ctx, s.deps.Engine.NewActiveSignal(ticker, score, strike, expiry, explanation))
	if err != nil {
		return nil, skipError, fmt.Errorf("open: %w", err)
	}
	if !ok {
		return nil, skipAlreadyActive, nil
	}
	return opened, "", nil
}

func classify(err error) string {
	if errors.Is(err, domain.ErrDataUnavailable) {
		return skipNoData
	}
	return skipError
}
