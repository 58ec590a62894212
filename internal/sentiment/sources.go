package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"benji/internal/domain"
)

const (
	SourceSocial = "social"
	SourceNews   = "news"
	SourceMarket = "market"

	// Neutral defaults used when a remote source fails or omits its score.
	DefaultNewsScore   = 0.5
	DefaultMarketScore = 0.5
)

// Source produces one sentiment sub-score for a ticker.
type Source interface {
	Score(ctx context.Context, ticker string) (float64, error)
}

var bullishTemplates = []string{
	"$%s looking strong today, loading calls",
	"$%s breaking out on huge volume",
	"bought more $%s, this is going to rip",
}

var bearishTemplates = []string{
	"$%s looks overvalued, expecting a pullback",
	"selling my $%s, chart is weak",
}

// SocialSource averages lexicon polarity over a fixed set of ticker-tagged template posts.
// It stands in for a live short-form feed.
type SocialSource struct {
	lexicon *Lexicon
}

func NewSocialSource(lexicon *Lexicon) *SocialSource {
	if lexicon == nil {
		lexicon = NewLexicon()
	}
	return &SocialSource{lexicon: lexicon}
}

func (s *SocialSource) Posts(ticker string) []string {
	ticker = domain.NormalizeTicker(ticker)
	posts := make([]string, 0, len(bullishTemplates)+len(bearishTemplates))
	for _, tmpl := range bullishTemplates {
		posts = append(posts, fmt.Sprintf(tmpl, ticker))
	}
	for _, tmpl := range bearishTemplates {
		posts = append(posts, fmt.Sprintf(tmpl, ticker))
	}
	return posts
}

func (s *SocialSource) Score(ctx context.Context, ticker string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	posts := s.Posts(ticker)
	var sum float64
	for _, p := range posts {
		sum += s.lexicon.Polarity(p)
	}
	return sum / float64(len(posts)), nil
}

// NewsSource asks a news-sentiment endpoint for a single normalized score:
// GET <base>?ticker=NVDA -> {"score": 0.62}.
type NewsSource struct {
	baseURL string
	client  *http.Client
}

func NewNewsSource(baseURL string, client *http.Client) *NewsSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NewsSource{baseURL: strings.TrimSpace(baseURL), client: client}
}

type newsResponse struct {
	Score *float64 `json:"score"`
}

func (s *NewsSource) Score(ctx context.Context, ticker string) (float64, error) {
	if s.baseURL == "" {
		return 0, fmt.Errorf("news sentiment url: %w", domain.ErrConfigurationMissing)
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return 0, fmt.Errorf("parse news url: %w", err)
	}
	q := u.Query()
	q.Set("ticker", domain.NormalizeTicker(ticker))
	u.RawQuery = q.Encode()

	var resp newsResponse
	if err := getJSON(ctx, s.client, u.String(), &resp); err != nil {
		return 0, err
	}
	if resp.Score == nil {
		return 0, fmt.Errorf("news response missing score")
	}
	return *resp.Score, nil
}

// MarketSource averages the item scores of a market-wide sentiment feed:
// GET <url> -> {"items": [{"score": 0.4}, ...]}. The result is not ticker specific.
type MarketSource struct {
	feedURL string
	client  *http.Client
}

func NewMarketSource(feedURL string, client *http.Client) *MarketSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &MarketSource{feedURL: strings.TrimSpace(feedURL), client: client}
}

type marketFeed struct {
	Items []struct {
		Score *float64 `json:"score"`
	} `json:"items"`
}

func (s *MarketSource) Score(ctx context.Context, _ string) (float64, error) {
	if s.feedURL == "" {
		return 0, fmt.Errorf("market sentiment url: %w", domain.ErrConfigurationMissing)
	}
	var feed marketFeed
	if err := getJSON(ctx, s.client, s.feedURL, &feed); err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for _, item := range feed.Items {
		if item.Score == nil {
			continue
		}
		sum += *item.Score
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("market feed has no scored items")
	}
	return sum / float64(n), nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
