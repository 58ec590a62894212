package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"benji/internal/domain"
	"benji/internal/metrics"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const AlertSubject = "Benji Signal"

// DefaultSendTimeout bounds a single transport Send during fanout.
const DefaultSendTimeout = 10 * time.Second

// Transport delivers one message to one user over a single channel.
type Transport interface {
	Name() string
	// Reaches reports whether the user has an address on this channel.
	Reaches(u domain.User) bool
	Send(ctx context.Context, u domain.User, subject, body string) error
}

type UserDirectory interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListPreferences(ctx context.Context, username string) ([]domain.Preference, error)
}

// AlertDispatcher fans a newly opened signal out to every user who has not switched that
// ticker off, through every transport the user can be reached on.
type AlertDispatcher struct {
	directory   UserDirectory
	transports  []Transport
	sendTimeout time.Duration
}

func NewAlertDispatcher(directory UserDirectory, transports ...Transport) *AlertDispatcher {
	d := &AlertDispatcher{directory: directory, sendTimeout: DefaultSendTimeout}
	for _, t := range transports {
		if t != nil {
			d.transports = append(d.transports, t)
		}
	}
	return d
}

// WithSendTimeout replaces the per-send deadline. Non-positive values keep the current one.
func (d *AlertDispatcher) WithSendTimeout(timeout time.Duration) *AlertDispatcher {
	if timeout > 0 {
		d.sendTimeout = timeout
	}
	return d
}

func (d *AlertDispatcher) TransportNames() []string {
	names := make([]string, 0, len(d.transports))
	for _, t := range d.transports {
		names = append(names, t.Name())
	}
	return names
}

// Fanout never fails: directory and transport errors are logged and counted in the report.
func (d *AlertDispatcher) Fanout(ctx context.Context, s domain.ActiveSignal) domain.FanoutReport {
	var report domain.FanoutReport
	if d == nil || d.directory == nil || len(d.transports) == 0 {
		return report
	}

	users, err := d.directory.ListUsers(ctx)
	if err != nil {
		log.Error().Err(err).Str("ticker", s.Ticker).Msg("fanout: list users failed")
		return report
	}
	prefs, err := d.directory.ListPreferences(ctx, "")
	if err != nil {
		log.Warn().Err(err).Str("ticker", s.Ticker).Msg("fanout: preferences unavailable, treating all as enabled")
	}
	disabled := make(map[string]bool)
	ticker := domain.NormalizeTicker(s.Ticker)
	for _, p := range prefs {
		if domain.NormalizeTicker(p.Ticker) == ticker && !p.Enabled {
			disabled[p.Username] = true
		}
	}

	body := FormatAlert(s)
	for _, u := range users {
		if disabled[u.Username] {
			report.Skipped++
			continue
		}
		reached := false
		for _, t := range d.transports {
			if !t.Reaches(u) {
				continue
			}
			reached = true
			if err := d.send(ctx, t, u, body); err != nil {
				report.Failed++
				metrics.Notifications.WithLabelValues(t.Name(), "failed").Inc()
				log.Warn().
					Err(fmt.Errorf("%w: %w", domain.ErrNotificationFailure, err)).
					Str("transport", t.Name()).
					Str("user", u.Username).
					Str("ticker", ticker).
					Msg("notification failed")
				continue
			}
			report.Sent++
			metrics.Notifications.WithLabelValues(t.Name(), "sent").Inc()
		}
		if reached {
			report.Recipients++
		} else {
			report.Skipped++
		}
	}
	return report
}

func (d *AlertDispatcher) send(ctx context.Context, t Transport, u domain.User, body string) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return t.Send(sendCtx, u, AlertSubject, body)
}

// FormatAlert renders the one-line trade alert, e.g.
// "Benji: Buy NVDA 2026-10-23 $190.00 c - $100 play - 74% edge".
func FormatAlert(s domain.ActiveSignal) string {
	return fmt.Sprintf("Benji: Buy %s %s $%s %s - $100 play - %d%% edge",
		domain.NormalizeTicker(s.Ticker),
		s.Expiry.Format(domain.ExpiryLayout),
		money(s.Strike),
		s.Direction.Short(),
		int(s.PoP),
	)
}

func money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

func signedMoney(v float64) string {
	if v > 0 {
		return "+$" + money(v)
	}
	if v < 0 {
		return "-$" + money(-v)
	}
	return "$0.00"
}

func parseToggle(arg string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid mode")
	}
}
