package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"benji/internal/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	defaultRPS     = 2.0
	defaultTimeout = 10 * time.Second
)

// HTTPProvider reads daily bars and option chains from a Yahoo Finance shaped JSON API.
// Every request first takes a token from a shared limiter.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func NewHTTPProvider(baseURL string, rps float64, timeout time.Duration, client *http.Client) *HTTPProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = defaultRPS
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64 `json:"expirationDates"`
			Quote           struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
			} `json:"quote"`
			Options []struct {
				ExpirationDate int64          `json:"expirationDate"`
				Calls          []contractJSON `json:"calls"`
				Puts           []contractJSON `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"optionChain"`
}

type contractJSON struct {
	Strike       float64 `json:"strike"`
	LastPrice    float64 `json:"lastPrice"`
	OpenInterest int64   `json:"openInterest"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Description
}

func (p *HTTPProvider) chart(ctx context.Context, ticker, period string) (*chartResponse, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", "1d")
	var resp chartResponse
	if err := p.get(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), q, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %w", ticker, resp.Chart.Error)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart %s: %w", ticker, domain.ErrInsufficientHistory)
	}
	return &resp, nil
}

// History returns daily sessions oldest first. Sessions without a close are dropped.
func (p *HTTPProvider) History(ctx context.Context, ticker, period string) ([]domain.Bar, error) {
	ticker = domain.NormalizeTicker(ticker)
	if period == "" {
		period = DefaultPeriod
	}
	resp, err := p.chart(ctx, ticker, period)
	if err != nil {
		return nil, err
	}
	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeV := at(quote.Close, i)
		if closeV == nil {
			continue
		}
		bar := domain.Bar{Date: time.Unix(ts, 0).UTC(), Close: *closeV}
		if v := at(quote.Open, i); v != nil {
			bar.Open = *v
		}
		if v := at(quote.High, i); v != nil {
			bar.High = *v
		}
		if v := at(quote.Low, i); v != nil {
			bar.Low = *v
		}
		if v := at(quote.Volume, i); v != nil {
			bar.Volume = *v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Quote is the regular market price, or the last close when the meta block omits it.
func (p *HTTPProvider) Quote(ctx context.Context, ticker string) (float64, error) {
	ticker = domain.NormalizeTicker(ticker)
	resp, err := p.chart(ctx, ticker, "5d")
	if err != nil {
		return 0, err
	}
	result := resp.Chart.Result[0]
	if result.Meta.RegularMarketPrice != nil {
		return *result.Meta.RegularMarketPrice, nil
	}
	if len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil {
				return *closes[i], nil
			}
		}
	}
	return 0, fmt.Errorf("quote %s: %w", ticker, domain.ErrDataUnavailable)
}

// Expiries lists the listed option expiration dates in ascending order.
func (p *HTTPProvider) Expiries(ctx context.Context, ticker string) ([]time.Time, error) {
	ticker = domain.NormalizeTicker(ticker)
	resp, err := p.options(ctx, ticker, nil)
	if err != nil {
		return nil, err
	}
	dates := resp.OptionChain.Result[0].ExpirationDates
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		out = append(out, domain.Day(time.Unix(d, 0).UTC()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (p *HTTPProvider) OptionChain(ctx context.Context, ticker string, expiry time.Time) (domain.OptionChain, error) {
	ticker = domain.NormalizeTicker(ticker)
	day := domain.Day(expiry)
	resp, err := p.options(ctx, ticker, &day)
	if err != nil {
		return domain.OptionChain{}, err
	}
	result := resp.OptionChain.Result[0]
	if len(result.Options) == 0 {
		return domain.OptionChain{}, fmt.Errorf("option chain %s %s: %w", ticker, day.Format(domain.ExpiryLayout), domain.ErrNoChain)
	}
	chain := domain.OptionChain{Expiry: day}
	for _, c := range result.Options[0].Calls {
		chain.Calls = append(chain.Calls, toContract(c))
	}
	for _, c := range result.Options[0].Puts {
		chain.Puts = append(chain.Puts, toContract(c))
	}
	return chain, nil
}

func (p *HTTPProvider) options(ctx context.Context, ticker string, expiry *time.Time) (*optionsResponse, error) {
	q := url.Values{}
	if expiry != nil {
		q.Set("date", strconv.FormatInt(expiry.Unix(), 10))
	}
	var resp optionsResponse
	if err := p.get(ctx, "/v7/finance/options/"+url.PathEscape(ticker), q, &resp); err != nil {
		return nil, err
	}
	if resp.OptionChain.Error != nil {
		return nil, fmt.Errorf("options %s: %w", ticker, resp.OptionChain.Error)
	}
	if len(resp.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("options %s: %w", ticker, domain.ErrNoExpiries)
	}
	return &resp, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, q url.Values, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("market data rate limit: %w", err)
	}

	target := p.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "benji/1.0")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	log.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("market data request")

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("get %s: %w", path, domain.ErrDataUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func toContract(c contractJSON) domain.OptionContract {
	return domain.OptionContract{Strike: c.Strike, LastPrice: c.LastPrice, OpenInterest: c.OpenInterest}
}
