package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"benji/internal/cache"
	"benji/internal/domain"
	"benji/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const (
	SocialTTL = time.Hour
	NewsTTL   = 30 * time.Minute
	MarketTTL = 24 * time.Hour

	socialWeight = 0.5
	newsWeight   = 0.3
	marketWeight = 0.2

	// blends weaker than this fall back to the synthesized breakout text
	floorMagnitude = 0.1

	// marketKey is the cache key for the market-wide score, shared by every ticker.
	marketKey = "_market"

	defaultCallTimeout = 10 * time.Second
)

// ScoreCache is the shared (ticker, source) -> (score, timestamp) store.
type ScoreCache interface {
	Get(ctx context.Context, ticker, source string) (cache.Entry, bool, error)
	Set(ctx context.Context, ticker, source string, e cache.Entry, ttl time.Duration) error
}

// Breakdown is the blended score together with its parts.
type Breakdown struct {
	Ticker   string  `json:"ticker"`
	Social   float64 `json:"social"`
	News     float64 `json:"news"`
	Market   float64 `json:"market"`
	Blend    float64 `json:"blend"`
	Fallback bool    `json:"fallback"`
}

type sourceSlot struct {
	name     string
	source   Source
	ttl      time.Duration
	fallback float64
	shared   bool
	breaker  *gobreaker.CircuitBreaker
}

type Blender struct {
	cache       ScoreCache
	lexicon     *Lexicon
	social      sourceSlot
	news        sourceSlot
	market      sourceSlot
	callTimeout time.Duration
	now         func() time.Time
}

type Option func(*Blender)

func WithClock(now func() time.Time) Option {
	return func(b *Blender) {
		if now != nil {
			b.now = now
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(b *Blender) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

func NewBlender(scoreCache ScoreCache, lexicon *Lexicon, social, news, market Source, opts ...Option) *Blender {
	if scoreCache == nil {
		scoreCache = cache.NewMemoryScoreCache()
	}
	if lexicon == nil {
		lexicon = NewLexicon()
	}
	if social == nil {
		social = NewSocialSource(lexicon)
	}
	b := &Blender{
		cache:       scoreCache,
		lexicon:     lexicon,
		social:      sourceSlot{name: SourceSocial, source: social, ttl: SocialTTL, fallback: 0},
		news:        sourceSlot{name: SourceNews, source: news, ttl: NewsTTL, fallback: DefaultNewsScore},
		market:      sourceSlot{name: SourceMarket, source: market, ttl: MarketTTL, fallback: DefaultMarketScore, shared: true},
		callTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, slot := range []*sourceSlot{&b.social, &b.news, &b.market} {
		slot.breaker = newBreaker(slot.name)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "sentiment-" + name,
		Interval: 10 * time.Minute,
		Timeout:  5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("sentiment breaker state change")
		},
	})
}

// Score returns the blended sentiment for ticker. It never fails: every source error is
// replaced by that source's default.
func (b *Blender) Score(ctx context.Context, ticker string) float64 {
	return b.Breakdown(ctx, ticker).Blend
}

// Breakdown blends 0.5*social + 0.3*news + 0.2*market. A blend whose magnitude is under
// 0.1 is replaced by the polarity of "<TICKER> breaking out on volume", so the output is
// never near zero. The result is not clamped to [-1, 1].
func (b *Blender) Breakdown(ctx context.Context, ticker string) Breakdown {
	ticker = domain.NormalizeTicker(ticker)
	out := Breakdown{
		Ticker: ticker,
		Social: b.sourceScore(ctx, b.social, ticker),
		News:   b.sourceScore(ctx, b.news, ticker),
		Market: b.sourceScore(ctx, b.market, ticker),
	}
	out.Blend = socialWeight*out.Social + newsWeight*out.News + marketWeight*out.Market
	if math.IsNaN(out.Blend) || math.IsInf(out.Blend, 0) {
		out.Blend = 0
	}
	if math.Abs(out.Blend) < floorMagnitude {
		out.Blend = b.FallbackScore(ticker)
		out.Fallback = true
	}
	return out
}

// FallbackScore is the lexicon score of the synthesized breakout text for ticker.
func (b *Blender) FallbackScore(ticker string) float64 {
	return b.lexicon.Polarity(fmt.Sprintf("%s breaking out on volume", domain.NormalizeTicker(ticker)))
}

func (b *Blender) sourceScore(ctx context.Context, slot sourceSlot, ticker string) float64 {
	key := ticker
	if slot.shared {
		key = marketKey
	}
	now := b.now()

	entry, ok, err := b.cache.Get(ctx, key, slot.name)
	if err != nil {
		log.Debug().Err(err).Str("ticker", key).Str("source", slot.name).Msg("sentiment cache read failed")
	}
	if err == nil && ok && entry.Fresh(now, slot.ttl) {
		metrics.SentimentCacheHits.WithLabelValues(slot.name, "hit").Inc()
		return entry.Score
	}
	metrics.SentimentCacheHits.WithLabelValues(slot.name, "miss").Inc()

	score, err := b.fetch(ctx, slot, ticker)
	if err != nil {
		metrics.SentimentFallbacks.WithLabelValues(slot.name).Inc()
		log.Debug().Err(err).Str("ticker", ticker).Str("source", slot.name).Float64("default", slot.fallback).Msg("sentiment source degraded to default")
		return slot.fallback
	}

	if err := b.cache.Set(ctx, key, slot.name, cache.Entry{Score: score, At: now}, slot.ttl); err != nil {
		log.Debug().Err(err).Str("ticker", key).Str("source", slot.name).Msg("sentiment cache write failed")
	}
	return score
}

// fetch runs one source call under the per-call timeout and the source's breaker. Every
// failure comes back wrapped in domain.ErrSourceFailure.
func (b *Blender) fetch(ctx context.Context, slot sourceSlot, ticker string) (float64, error) {
	if slot.source == nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrSourceFailure, slot.name, domain.ErrConfigurationMissing)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	v, err := slot.breaker.Execute(func() (interface{}, error) {
		return slot.source.Score(callCtx, ticker)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrSourceFailure, slot.name, err)
	}
	score, ok := v.(float64)
	if !ok || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: %s: invalid score %v", domain.ErrSourceFailure, slot.name, v)
	}
	return score, nil
}

// SourceError runs a single source outside the cache and reports its typed error.
// benjictl sentiment prints it; the scan path uses Score.
func (b *Blender) SourceError(ctx context.Context, name, ticker string) error {
	for _, slot := range []sourceSlot{b.social, b.news, b.market} {
		if slot.name == name {
			_, err := b.fetch(ctx, slot, domain.NormalizeTicker(ticker))
			return err
		}
	}
	return errors.New("unknown sentiment source: " + name)
}
