package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"benji/internal/domain"
)

const (
	minHistorySessions = 20
	momentumLookback   = 10

	momentumWeight = 220.0
	basePoP        = 50.0

	// DefaultSentimentWeight is the baseline blend weight. The hype-weighted variant uses 50.
	DefaultSentimentWeight = 45.0
	DefaultThreshold       = 72.0

	callStrikeBias = 1.02
	putStrikeBias  = 0.98

	neutralIVRank = 50.0
)

type Engine struct {
	sentimentWeight float64
	threshold       float64
	now             func() time.Time
}

// Score is the outcome of combining momentum with blended sentiment.
type Score struct {
	Momentum  float64          `json:"momentum"`
	Sentiment float64          `json:"sentiment"`
	PoP       float64          `json:"pop"`
	Direction domain.Direction `json:"direction"`
}

func NewEngine(sentimentWeight, threshold float64, now func() time.Time) *Engine {
	if sentimentWeight <= 0 {
		sentimentWeight = DefaultSentimentWeight
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{sentimentWeight: sentimentWeight, threshold: threshold, now: now}
}

func (e *Engine) Threshold() float64 { return e.threshold }

// Score computes PoP = 50 + momentum*220 + sentiment*W. Direction is call only when
// momentum is strictly positive; flat momentum is a put.
func (e *Engine) Score(momentum, sentiment float64) Score {
	dir := domain.DirectionPut
	if momentum > 0 {
		dir = domain.DirectionCall
	}
	return Score{
		Momentum:  momentum,
		Sentiment: sentiment,
		PoP:       basePoP + momentum*momentumWeight + sentiment*e.sentimentWeight,
		Direction: dir,
	}
}

// Triggers reports whether the score clears the emission threshold.
func (e *Engine) Triggers(s Score) bool {
	return s.PoP > e.threshold
}

// Momentum returns the fractional change between the latest close and the close ten
// sessions back from the end of the series.
func Momentum(closes []float64) (float64, error) {
	if len(closes) < minHistorySessions {
		return 0, fmt.Errorf("%w: have %d sessions, need %d", domain.ErrInsufficientHistory, len(closes), minHistorySessions)
	}
	last := closes[len(closes)-1]
	ref := closes[len(closes)-momentumLookback]
	if ref == 0 || math.IsNaN(ref) || math.IsNaN(last) {
		return 0, fmt.Errorf("%w: invalid reference close %v", domain.ErrInsufficientHistory, ref)
	}
	return (last - ref) / ref, nil
}

// SelectExpiry prefers the second listed expiry and falls back to the first.
func SelectExpiry(expiries []time.Time) (time.Time, error) {
	switch len(expiries) {
	case 0:
		return time.Time{}, domain.ErrNoExpiries
	case 1:
		return expiries[0], nil
	default:
		return expiries[1], nil
	}
}

// SelectStrike picks the contract whose strike is nearest to price*1.02 for calls or
// price*0.98 for puts. Ties keep the first contract in list order.
func SelectStrike(chain domain.OptionChain, dir domain.Direction, price float64) (float64, error) {
	side := chain.Side(dir)
	if len(side) == 0 {
		return 0, fmt.Errorf("%w: no %s contracts", domain.ErrNoChain, dir)
	}
	target := price * putStrikeBias
	if dir == domain.DirectionCall {
		target = price * callStrikeBias
	}

	best := side[0].Strike
	bestDist := math.Abs(best - target)
	for _, c := range side[1:] {
		if d := math.Abs(c.Strike - target); d < bestDist {
			best, bestDist = c.Strike, d
		}
	}
	return best, nil
}

// Closes returns the closing prices of bars in date order.
func Closes(bars []domain.Bar) []float64 {
	normalized := normalizeBars(bars)
	values := make([]float64, len(normalized))
	for i := range normalized {
		values[i] = normalized[i].Close
	}
	return values
}

// Features builds the scoring-artifact vector
// [volatility, momentum, volumeSurge, sentiment, ivRank]. IV rank is not sourced and is
// fixed at the neutral midpoint.
func Features(bars []domain.Bar, momentum, sentiment float64) []float64 {
	normalized := normalizeBars(bars)
	closes := make([]float64, len(normalized))
	volumes := make([]float64, len(normalized))
	for i := range normalized {
		closes[i] = normalized[i].Close
		volumes[i] = normalized[i].Volume
	}
	return []float64{
		volatility(closes, minHistorySessions),
		momentum,
		volumeSurge(volumes, minHistorySessions),
		sentiment,
		neutralIVRank,
	}
}

// Explain renders the short human-readable rationale attached to a signal.
func Explain(ticker string, s Score) string {
	move := "dumping"
	if s.Direction == domain.DirectionCall {
		move = "ripping higher"
	}
	return fmt.Sprintf("%s %s with %+.0f%% crowd sentiment - quick edge.", strings.ToUpper(ticker), move, s.Sentiment*100)
}

// NewActiveSignal assembles the record handed to the lifecycle manager.
func (e *Engine) NewActiveSignal(ticker string, s Score, strike float64, expiry time.Time, explanation string) domain.ActiveSignal {
	return domain.ActiveSignal{
		Ticker:      domain.NormalizeTicker(ticker),
		Direction:   s.Direction,
		Strike:      strike,
		Expiry:      domain.Day(expiry),
		EntryTime:   e.now().UTC(),
		PoP:         s.PoP,
		Explanation: explanation,
	}
}

func normalizeBars(in []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(in))
	for _, b := range in {
		if b.Close <= 0 || math.IsNaN(b.Close) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func volatility(closes []float64, window int) float64 {
	if len(closes) < 2 {
		return 0
	}
	if len(closes) > window+1 {
		closes = closes[len(closes)-window-1:]
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	_, std := meanStd(returns)
	return std
}

func volumeSurge(volumes []float64, window int) float64 {
	if len(volumes) < 2 {
		return 1
	}
	start := len(volumes) - 1 - window
	if start < 0 {
		start = 0
	}
	mean, _ := meanStd(volumes[start : len(volumes)-1])
	if mean <= 0 {
		return 1
	}
	return volumes[len(volumes)-1] / mean
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	if len(values) == 1 {
		return mean, 0
	}
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
