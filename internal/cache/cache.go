package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Entry is one cached sentiment score and the time it was computed.
type Entry struct {
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.At) < ttl
}

// MemoryScoreCache is the single-process variant backed by go-cache.
type MemoryScoreCache struct {
	c *gocache.Cache
}

func NewMemoryScoreCache() *MemoryScoreCache {
	return &MemoryScoreCache{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

func memoryKey(ticker, source string) string {
	return strings.ToUpper(ticker) + ":" + source
}

func (m *MemoryScoreCache) Get(_ context.Context, ticker, source string) (Entry, bool, error) {
	v, ok := m.c.Get(memoryKey(ticker, source))
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := v.(Entry)
	return e, ok, nil
}

func (m *MemoryScoreCache) Set(_ context.Context, ticker, source string, e Entry, ttl time.Duration) error {
	m.c.Set(memoryKey(ticker, source), e, ttl)
	return nil
}
