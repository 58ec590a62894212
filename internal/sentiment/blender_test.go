package sentiment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"benji/internal/cache"
	"benji/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	score float64
	err   error
	calls int
}

func (s *countingSource) Score(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.score, s.err
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingCache struct{}

func (failingCache) Get(context.Context, string, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, string, cache.Entry, time.Duration) error {
	return errors.New("cache down")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBlendWeights(t *testing.T) {
	social := &countingSource{score: 0.4}
	news := &countingSource{score: 0.6}
	market := &countingSource{score: 0.2}
	b := NewBlender(cache.NewMemoryScoreCache(), nil, social, news, market)

	got := b.Breakdown(context.Background(), "nvda")
	assert.Equal(t, "NVDA", got.Ticker)
	assert.InDelta(t, 0.5*0.4+0.3*0.6+0.2*0.2, got.Blend, 1e-9)
	assert.False(t, got.Fallback)
}

func TestBlendBelowFloorUsesBreakoutText(t *testing.T) {
	zero := func() *countingSource { return &countingSource{score: 0} }
	b := NewBlender(cache.NewMemoryScoreCache(), nil, zero(), zero(), zero())

	got := b.Breakdown(context.Background(), "AMD")
	assert.True(t, got.Fallback)
	assert.InDelta(t, NewLexicon().Polarity("AMD breaking out on volume"), got.Blend, 1e-9)
	assert.LessOrEqual(t, math.Abs(got.Blend), 1.0)
}

func TestAllSourcesDownReturnsFiniteScore(t *testing.T) {
	down := func() *countingSource { return &countingSource{err: errors.New("boom")} }
	b := NewBlender(failingCache{}, nil, down(), down(), down())

	score := b.Score(context.Background(), "TSLA")
	assert.False(t, math.IsNaN(score))
	assert.False(t, math.IsInf(score, 0))
	// social 0, news 0.5, market 0.5
	assert.InDelta(t, 0.25, score, 1e-9)
}

func TestUnconfiguredRemoteSourcesUseDefaults(t *testing.T) {
	b := NewBlender(nil, nil, &countingSource{score: 0.3}, nil, nil)

	got := b.Breakdown(context.Background(), "META")
	assert.Equal(t, DefaultNewsScore, got.News)
	assert.Equal(t, DefaultMarketScore, got.Market)
}

func TestSourceScoresAreCachedUntilTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC)}
	social := &countingSource{score: 0.4}
	news := &countingSource{score: 0.6}
	market := &countingSource{score: 0.2}
	b := NewBlender(cache.NewMemoryScoreCache(), nil, social, news, market, WithClock(clock.Now))
	ctx := context.Background()

	b.Score(ctx, "NVDA")
	b.Score(ctx, "NVDA")
	assert.Equal(t, 1, social.Calls())
	assert.Equal(t, 1, news.Calls())
	assert.Equal(t, 1, market.Calls())

	clock.Advance(NewsTTL)
	b.Score(ctx, "NVDA")
	assert.Equal(t, 1, social.Calls())
	assert.Equal(t, 2, news.Calls())
	assert.Equal(t, 1, market.Calls())

	clock.Advance(SocialTTL)
	b.Score(ctx, "NVDA")
	assert.Equal(t, 2, social.Calls())
}

func TestMarketScoreSharedAcrossTickers(t *testing.T) {
	market := &countingSource{score: 0.2}
	b := NewBlender(cache.NewMemoryScoreCache(), nil, &countingSource{score: 0.4}, &countingSource{score: 0.6}, market)
	ctx := context.Background()

	b.Score(ctx, "NVDA")
	b.Score(ctx, "TSLA")
	b.Score(ctx, "AMD")
	assert.Equal(t, 1, market.Calls())
}

func TestFailedSourceIsNotCached(t *testing.T) {
	news := &countingSource{err: errors.New("timeout")}
	b := NewBlender(cache.NewMemoryScoreCache(), nil, &countingSource{score: 0.4}, news, &countingSource{score: 0.2})
	ctx := context.Background()

	first := b.Breakdown(ctx, "NVDA")
	assert.Equal(t, DefaultNewsScore, first.News)

	news.mu.Lock()
	news.err = nil
	news.score = 0.9
	news.mu.Unlock()

	second := b.Breakdown(ctx, "NVDA")
	assert.InDelta(t, 0.9, second.News, 1e-9)
	assert.Equal(t, 2, news.Calls())
}

func TestOpenBreakerCountsAsSourceFailure(t *testing.T) {
	news := &countingSource{err: errors.New("down")}
	b := NewBlender(failingCache{}, nil, &countingSource{score: 0.4}, news, &countingSource{score: 0.2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Score(ctx, "NVDA")
	}
	require.Equal(t, 3, news.Calls())

	err := b.SourceError(ctx, SourceNews, "NVDA")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceFailure))
	assert.Equal(t, 3, news.Calls(), "open breaker must short-circuit the source")
}

func TestSourceTimeoutDegrades(t *testing.T) {
	slow := sourceFunc(func(ctx context.Context, _ string) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	b := NewBlender(nil, nil, &countingSource{score: 0.4}, slow, &countingSource{score: 0.2}, WithCallTimeout(20*time.Millisecond))

	got := b.Breakdown(context.Background(), "SMCI")
	assert.Equal(t, DefaultNewsScore, got.News)
}

type sourceFunc func(ctx context.Context, ticker string) (float64, error)

func (f sourceFunc) Score(ctx context.Context, ticker string) (float64, error) { return f(ctx, ticker) }
