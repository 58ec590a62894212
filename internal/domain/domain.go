package domain

import (
	"strings"
	"time"
)

// DefaultCoreTickers is the watch-list every scan covers regardless of user preferences.
var DefaultCoreTickers = []string{"NVDA", "TSLA", "AMD", "SMCI", "META", "AAPL", "MSFT", "GOOGL", "AVGO"}

// SharedUsername marks history rows that are not attributed to a single user.
const SharedUsername = "all"

// ExpiryLayout is the on-disk and on-wire format of option expiry dates.
const ExpiryLayout = "2006-01-02"

type Direction string

const (
	DirectionCall Direction = "call"
	DirectionPut  Direction = "put"
)

// Short returns the one-letter contract suffix used in alerts ("c" or "p").
func (d Direction) Short() string {
	if d == DirectionCall {
		return "c"
	}
	return "p"
}

func (d Direction) IsValid() bool {
	return d == DirectionCall || d == DirectionPut
}

type User struct {
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	ChatHandle string    `json:"chat_handle,omitempty"`
	AITotal    float64   `json:"ai_total"`
	YouTotal   float64   `json:"you_total"`
	JoinDate   time.Time `json:"join_date"`
}

type Preference struct {
	Username string `json:"username"`
	Ticker   string `json:"ticker"`
	Enabled  bool   `json:"enabled"`
}

// ActiveSignal is an open simulated trade. At most one exists per ticker.
type ActiveSignal struct {
	Ticker      string    `json:"ticker"`
	Direction   Direction `json:"direction"`
	Strike      float64   `json:"strike"`
	Expiry      time.Time `json:"expiry"`
	EntryTime   time.Time `json:"entry_time"`
	PoP         float64   `json:"pop"`
	Explanation string    `json:"explanation"`
}

// ResolutionKey identifies one resolution of this signal so that a retried
// resolution cannot append a second history row.
func (s ActiveSignal) ResolutionKey() string {
	return strings.Join([]string{
		strings.ToUpper(s.Ticker),
		s.Expiry.Format(ExpiryLayout),
		s.EntryTime.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// ExpiredAt reports whether the expiry date is strictly before now's calendar date.
func (s ActiveSignal) ExpiredAt(now time.Time) bool {
	return Day(s.Expiry).Before(Day(now))
}

// HistoricalSignal is an immutable resolved outcome. Only UserConfirmed ever changes.
type HistoricalSignal struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Timestamp     time.Time `json:"timestamp"`
	Ticker        string    `json:"ticker"`
	Direction     Direction `json:"direction"`
	Strike        float64   `json:"strike"`
	Expiry        time.Time `json:"expiry"`
	PnL           float64   `json:"pnl"`
	UserConfirmed bool      `json:"user_confirmed"`
	PoP           float64   `json:"pop"`
	Explanation   string    `json:"explanation"`
}

// Bar is one daily price/volume session.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type OptionContract struct {
	Strike       float64 `json:"strike"`
	LastPrice    float64 `json:"last_price"`
	OpenInterest int64   `json:"open_interest"`
}

type OptionChain struct {
	Expiry time.Time        `json:"expiry"`
	Calls  []OptionContract `json:"calls"`
	Puts   []OptionContract `json:"puts"`
}

// Side returns the contracts matching the given direction.
func (c OptionChain) Side(d Direction) []OptionContract {
	if d == DirectionCall {
		return c.Calls
	}
	return c.Puts
}

// Day truncates t to its calendar date, keeping the date t carries in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseExpiry parses a YYYY-MM-DD expiry date.
func ParseExpiry(s string) (time.Time, error) {
	return time.ParseInLocation(ExpiryLayout, strings.TrimSpace(s), time.UTC)
}

func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// FanoutReport summarizes one notification fan-out. Failures are counted, never raised.
type FanoutReport struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}
