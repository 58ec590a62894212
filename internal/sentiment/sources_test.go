package sentiment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"benji/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocialSourcePostsMentionTicker(t *testing.T) {
	s := NewSocialSource(nil)
	posts := s.Posts("nvda")
	require.Len(t, posts, len(bullishTemplates)+len(bearishTemplates))
	for _, p := range posts {
		assert.Contains(t, p, "$NVDA")
	}
}

func TestSocialSourceScoreIsDeterministic(t *testing.T) {
	s := NewSocialSource(nil)
	a, err := s.Score(context.Background(), "AMD")
	require.NoError(t, err)
	b, err := s.Score(context.Background(), "AMD")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Greater(t, a, -1.0)
	assert.Less(t, a, 1.0)
}

func TestSocialSourceHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSocialSource(nil).Score(ctx, "AMD")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewsSourceReadsScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NVDA", r.URL.Query().Get("ticker"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 0.62}`))
	}))
	defer srv.Close()

	score, err := NewNewsSource(srv.URL, srv.Client()).Score(context.Background(), "nvda")
	require.NoError(t, err)
	assert.InDelta(t, 0.62, score, 1e-9)
}

func TestNewsSourceMissingScoreIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"headline": "nothing"}`))
	}))
	defer srv.Close()

	_, err := NewNewsSource(srv.URL, srv.Client()).Score(context.Background(), "NVDA")
	assert.Error(t, err)
}

func TestNewsSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewNewsSource(srv.URL, srv.Client()).Score(context.Background(), "NVDA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewsSourceUnconfigured(t *testing.T) {
	_, err := NewNewsSource("  ", nil).Score(context.Background(), "NVDA")
	assert.True(t, errors.Is(err, domain.ErrConfigurationMissing))
}

func TestMarketSourceAveragesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [{"score": 0.2}, {"score": 0.6}, {"title": "unscored"}]}`))
	}))
	defer srv.Close()

	score, err := NewMarketSource(srv.URL, srv.Client()).Score(context.Background(), "ignored")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, score, 1e-9)
}

func TestMarketSourceEmptyFeedIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	}))
	defer srv.Close()

	_, err := NewMarketSource(srv.URL, srv.Client()).Score(context.Background(), "")
	assert.Error(t, err)
}
