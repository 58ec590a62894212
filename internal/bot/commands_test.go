package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"benji/internal/domain"
	"benji/internal/service"
)

func TestCommandsStartRegistersUser(t *testing.T) {
	accounts := &fakeAccounts{}
	cmds := NewCommands(accounts, &fakeConfirmer{})

	reply := cmds.Start(context.Background(), domain.User{Username: "ana", ChatHandle: "10"})
	if !strings.Contains(reply, "Welcome ana") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if accounts.ensured.ChatHandle != "10" {
		t.Fatalf("expected chat handle to be stored, got %+v", accounts.ensured)
	}
	if reply := cmds.Start(context.Background(), domain.User{}); reply != "Unable to identify you." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandsLatest(t *testing.T) {
	accounts := &fakeAccounts{}
	cmds := NewCommands(accounts, &fakeConfirmer{})
	if reply := cmds.Latest(context.Background()); !strings.Contains(reply, "No play right now") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	sig := nvdaSignal()
	accounts.latest = &sig
	reply := cmds.Latest(context.Background())
	if !strings.Contains(reply, "Benji: Buy NVDA 2026-10-23 $190.00 c") || !strings.Contains(reply, "ripping higher") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandsActiveListsSignals(t *testing.T) {
	sig := nvdaSignal()
	sig.EntryTime = time.Now().Add(-2 * time.Hour)
	cmds := NewCommands(&fakeAccounts{active: []domain.ActiveSignal{sig}}, &fakeConfirmer{})

	reply := cmds.Active(context.Background())
	if !strings.Contains(reply, "Active plays:") || !strings.Contains(reply, "2 hours ago") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandsLedger(t *testing.T) {
	accounts := &fakeAccounts{ledger: &service.Ledger{Username: "ana", AITotal: 260, YouTotal: -100}}
	cmds := NewCommands(accounts, &fakeConfirmer{})

	reply := cmds.Ledger(context.Background(), domain.User{Username: "ana"})
	if reply != "AI total: +$260.00\nYou total: -$100.00" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	accounts.ledgerErr = domain.ErrUnknownUser
	if reply := cmds.Ledger(context.Background(), domain.User{Username: "ghost"}); !strings.Contains(reply, "/start") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandsHistory(t *testing.T) {
	accounts := &fakeAccounts{history: []domain.HistoricalSignal{{
		ID: 7, Ticker: "AMD", Direction: domain.DirectionPut, Strike: 150, PnL: -100,
		Timestamp: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		Expiry:    time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
	}}}
	cmds := NewCommands(accounts, &fakeConfirmer{})

	reply := cmds.History(context.Background(), []string{"50"})
	if accounts.historyLimit != maxHistoryLines {
		t.Fatalf("expected limit capped at %d, got %d", maxHistoryLines, accounts.historyLimit)
	}
	if !strings.Contains(reply, "#7 AMD PUT $150.00 Oct 17 exp 2026-10-16: -$100.00") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if reply := cmds.History(context.Background(), []string{"abc"}); !strings.HasPrefix(reply, "Usage") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandsConfirm(t *testing.T) {
	confirmer := &fakeConfirmer{result: &domain.HistoricalSignal{ID: 7, Ticker: "NVDA", PnL: 180}, ok: true}
	cmds := NewCommands(&fakeAccounts{}, confirmer)
	u := domain.User{Username: "ana"}

	if reply := cmds.Confirm(context.Background(), u, []string{"#7"}); reply != "Confirmed #7 NVDA: +$180.00 added to your total." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if confirmer.lastID != 7 || confirmer.lastUser != "ana" {
		t.Fatalf("unexpected confirm args: %d %s", confirmer.lastID, confirmer.lastUser)
	}

	confirmer.ok = false
	if reply := cmds.Confirm(context.Background(), u, []string{"7"}); !strings.Contains(reply, "already confirmed") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	confirmer.err = domain.ErrSignalNotFound
	if reply := cmds.Confirm(context.Background(), u, []string{"9"}); reply != "No resolved play #9." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if reply := cmds.Confirm(context.Background(), u, nil); !strings.HasPrefix(reply, "Usage") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandsAlerts(t *testing.T) {
	accounts := &fakeAccounts{prefs: []domain.Preference{
		{Username: "ana", Ticker: "NVDA", Enabled: true},
		{Username: "ana", Ticker: "TSLA", Enabled: false},
	}}
	cmds := NewCommands(accounts, &fakeConfirmer{})
	u := domain.User{Username: "ana"}

	if reply := cmds.Alerts(context.Background(), u, nil); reply != "Alert settings:\nNVDA: ON\nTSLA: OFF" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if reply := cmds.Alerts(context.Background(), u, []string{"pltr", "on"}); reply != "Alerts for PLTR enabled." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if reply := cmds.Alerts(context.Background(), u, []string{"pltr", "later"}); !strings.HasPrefix(reply, "Usage") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

type fakeAccounts struct {
	ensured      domain.User
	active       []domain.ActiveSignal
	latest       *domain.ActiveSignal
	history      []domain.HistoricalSignal
	historyLimit int
	ledger       *service.Ledger
	ledgerErr    error
	prefs        []domain.Preference
}

func (f *fakeAccounts) EnsureUser(ctx context.Context, u domain.User) (*domain.User, error) {
	f.ensured = u
	return &u, nil
}

func (f *fakeAccounts) Ledger(ctx context.Context, username string) (*service.Ledger, error) {
	if f.ledgerErr != nil {
		return nil, f.ledgerErr
	}
	return f.ledger, nil
}

func (f *fakeAccounts) ActiveSignals(context.Context) ([]domain.ActiveSignal, error) {
	return f.active, nil
}

func (f *fakeAccounts) LatestActive(context.Context) (*domain.ActiveSignal, error) {
	return f.latest, nil
}

func (f *fakeAccounts) History(ctx context.Context, limit int) ([]domain.HistoricalSignal, error) {
	f.historyLimit = limit
	return f.history, nil
}

func (f *fakeAccounts) Preferences(context.Context, string) ([]domain.Preference, error) {
	return f.prefs, nil
}

func (f *fakeAccounts) SetPreference(ctx context.Context, username, ticker string, enabled bool) (*domain.Preference, error) {
	if ticker == "" {
		return nil, errors.New("ticker is required")
	}
	return &domain.Preference{Username: username, Ticker: domain.NormalizeTicker(ticker), Enabled: enabled}, nil
}

type fakeConfirmer struct {
	result   *domain.HistoricalSignal
	ok       bool
	err      error
	lastID   int64
	lastUser string
}

func (f *fakeConfirmer) Confirm(ctx context.Context, id int64, username string) (*domain.HistoricalSignal, bool, error) {
	f.lastID, f.lastUser = id, username
	if f.err != nil {
		return nil, false, f.err
	}
	return f.result, f.ok, nil
}
