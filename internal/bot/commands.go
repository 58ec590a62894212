package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"benji/internal/domain"
	"benji/internal/service"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const maxHistoryLines = 20

type Accounts interface {
	EnsureUser(ctx context.Context, u domain.User) (*domain.User, error)
	Ledger(ctx context.Context, username string) (*service.Ledger, error)
	ActiveSignals(ctx context.Context) ([]domain.ActiveSignal, error)
	LatestActive(ctx context.Context) (*domain.ActiveSignal, error)
	History(ctx context.Context, limit int) ([]domain.HistoricalSignal, error)
	Preferences(ctx context.Context, username string) ([]domain.Preference, error)
	SetPreference(ctx context.Context, username, ticker string, enabled bool) (*domain.Preference, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, id int64, username string) (*domain.HistoricalSignal, bool, error)
}

// Commands renders replies for the chat commands. Every method returns the text to send.
type Commands struct {
	accounts  Accounts
	confirmer Confirmer
}

func NewCommands(accounts Accounts, confirmer Confirmer) *Commands {
	return &Commands{accounts: accounts, confirmer: confirmer}
}

func (c *Commands) Start(ctx context.Context, u domain.User) string {
	if u.Username == "" {
		return "Unable to identify you."
	}
	user, err := c.accounts.EnsureUser(ctx, u)
	if err != nil {
		log.Error().Err(err).Str("user", u.Username).Msg("ensure user failed")
		return "Sorry, registration failed. Try again later."
	}
	return fmt.Sprintf("Welcome %s. Alerts for the core tickers are on.\nAI total: %s\nYou total: %s\n\n"+
		"Commands: /latest /active /history /confirm <id> /ledger /alerts <TICKER> on|off",
		user.Username, signedMoney(user.AITotal), signedMoney(user.YouTotal))
}

func (c *Commands) Active(ctx context.Context) string {
	active, err := c.accounts.ActiveSignals(ctx)
	if err != nil {
		return "Error fetching active signals."
	}
	if len(active) == 0 {
		return "No active plays right now."
	}
	lines := make([]string, 0, len(active)+1)
	lines = append(lines, "Active plays:")
	for _, s := range active {
		lines = append(lines, fmt.Sprintf("%s - opened %s", FormatAlert(s), humanize.Time(s.EntryTime)))
	}
	return strings.Join(lines, "\n")
}

func (c *Commands) Latest(ctx context.Context) string {
	latest, err := c.accounts.LatestActive(ctx)
	if err != nil {
		return "Error fetching the latest play."
	}
	if latest == nil {
		return "No play right now. Scanning..."
	}
	return "Right now play:\n" + FormatAlert(*latest) + "\n" + latest.Explanation
}

func (c *Commands) Ledger(ctx context.Context, u domain.User) string {
	ledger, err := c.accounts.Ledger(ctx, u.Username)
	if errors.Is(err, domain.ErrUnknownUser) {
		return "You are not registered yet. Send /start first."
	}
	if err != nil {
		return "Error fetching your ledger."
	}
	return fmt.Sprintf("AI total: %s\nYou total: %s", signedMoney(ledger.AITotal), signedMoney(ledger.YouTotal))
}

func (c *Commands) History(ctx context.Context, args []string) string {
	limit := 5
	if len(args) > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || n <= 0 {
			return "Usage: /history [count]"
		}
		limit = min(n, maxHistoryLines)
	}
	history, err := c.accounts.History(ctx, limit)
	if err != nil {
		return "Error fetching history."
	}
	if len(history) == 0 {
		return "No resolved plays yet."
	}
	lines := make([]string, 0, len(history)+1)
	lines = append(lines, "Resolved plays:")
	for _, h := range history {
		lines = append(lines, formatHistory(h))
	}
	return strings.Join(lines, "\n")
}

func (c *Commands) Confirm(ctx context.Context, u domain.User, args []string) string {
	if len(args) != 1 {
		return "Usage: /confirm <id>"
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(args[0]), "#"), 10, 64)
	if err != nil || id <= 0 {
		return "Usage: /confirm <id>"
	}
	h, ok, err := c.confirmer.Confirm(ctx, id, u.Username)
	switch {
	case errors.Is(err, domain.ErrUnknownUser):
		return "You are not registered yet. Send /start first."
	case errors.Is(err, domain.ErrSignalNotFound):
		return fmt.Sprintf("No resolved play #%d.", id)
	case err != nil:
		log.Error().Err(err).Int64("signal_id", id).Str("user", u.Username).Msg("confirm failed")
		return "Error confirming that play."
	case !ok:
		return fmt.Sprintf("Play #%d was already confirmed.", id)
	}
	return fmt.Sprintf("Confirmed #%d %s: %s added to your total.", h.ID, h.Ticker, signedMoney(h.PnL))
}

func (c *Commands) Alerts(ctx context.Context, u domain.User, args []string) string {
	if len(args) == 0 {
		prefs, err := c.accounts.Preferences(ctx, u.Username)
		if errors.Is(err, domain.ErrUnknownUser) {
			return "You are not registered yet. Send /start first."
		}
		if err != nil {
			return "Error fetching your alert settings."
		}
		lines := make([]string, 0, len(prefs)+1)
		lines = append(lines, "Alert settings:")
		for _, p := range prefs {
			state := "OFF"
			if p.Enabled {
				state = "ON"
			}
			lines = append(lines, p.Ticker+": "+state)
		}
		return strings.Join(lines, "\n")
	}
	if len(args) != 2 {
		return "Usage: /alerts | /alerts NVDA on | /alerts NVDA off"
	}
	enabled, err := parseToggle(args[1])
	if err != nil {
		return "Usage: /alerts | /alerts NVDA on | /alerts NVDA off"
	}
	p, err := c.accounts.SetPreference(ctx, u.Username, args[0], enabled)
	if errors.Is(err, domain.ErrUnknownUser) {
		return "You are not registered yet. Send /start first."
	}
	if err != nil {
		return "Error updating your alert settings."
	}
	if p.Enabled {
		return fmt.Sprintf("Alerts for %s enabled.", p.Ticker)
	}
	return fmt.Sprintf("Alerts for %s disabled.", p.Ticker)
}

func formatHistory(h domain.HistoricalSignal) string {
	confirmed := ""
	if h.UserConfirmed {
		confirmed = " (confirmed)"
	}
	return fmt.Sprintf("#%d %s %s $%s %s exp %s: %s%s",
		h.ID,
		h.Ticker,
		strings.ToUpper(string(h.Direction)),
		money(h.Strike),
		h.Timestamp.UTC().Format("Jan 2"),
		h.Expiry.Format(domain.ExpiryLayout),
		signedMoney(h.PnL),
		confirmed,
	)
}
