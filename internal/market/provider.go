package market

import (
	"context"
	"time"

	"benji/internal/domain"
)

// DefaultPeriod is the history window a scan asks for, enough for the 20 session minimum.
const DefaultPeriod = "1mo"

// Provider is the read-only market data surface the scanner depends on.
type Provider interface {
	History(ctx context.Context, ticker, period string) ([]domain.Bar, error)
	Quote(ctx context.Context, ticker string) (float64, error)
	Expiries(ctx context.Context, ticker string) ([]time.Time, error)
	OptionChain(ctx context.Context, ticker string, expiry time.Time) (domain.OptionChain, error)
}
