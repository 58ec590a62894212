package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"benji/internal/domain"

	tele "gopkg.in/telebot.v3"
)

func nvdaSignal() domain.ActiveSignal {
	return domain.ActiveSignal{
		Ticker:      "NVDA",
		Direction:   domain.DirectionCall,
		Strike:      190,
		Expiry:      time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC),
		EntryTime:   time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC),
		PoP:         74.5,
		Explanation: "NVDA ripping higher with +30% crowd sentiment - quick edge.",
	}
}

func TestFormatAlert(t *testing.T) {
	got := FormatAlert(nvdaSignal())
	want := "Benji: Buy NVDA 2026-10-23 $190.00 c - $100 play - 74% edge"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	put := nvdaSignal()
	put.Direction = domain.DirectionPut
	put.Strike = 1250.5
	if got := FormatAlert(put); !strings.Contains(got, "$1,250.50 p") {
		t.Fatalf("expected put suffix and grouped strike, got %q", got)
	}
}

func TestSignedMoney(t *testing.T) {
	cases := map[float64]string{180: "+$180.00", -100: "-$100.00", 0: "$0.00", 1240: "+$1,240.00"}
	for in, want := range cases {
		if got := signedMoney(in); got != want {
			t.Fatalf("signedMoney(%v): expected %q, got %q", in, want, got)
		}
	}
}

func TestParseToggle(t *testing.T) {
	if on, err := parseToggle("ON"); err != nil || !on {
		t.Fatalf("expected on, got %v %v", on, err)
	}
	if on, err := parseToggle("off"); err != nil || on {
		t.Fatalf("expected off, got %v %v", on, err)
	}
	if _, err := parseToggle("maybe"); err == nil {
		t.Fatal("expected invalid mode error")
	}
}

func TestFanoutRespectsPreferencesAndAddresses(t *testing.T) {
	dir := &fakeDirectory{
		users: []domain.User{
			{Username: "ana", Email: "ana@example.com", ChatHandle: "10"},
			{Username: "ben", ChatHandle: "20"},
			{Username: "cy", Email: "cy@example.com"},
			{Username: "dee"},
			{Username: "eve", ChatHandle: "50"},
		},
		prefs: []domain.Preference{
			{Username: "eve", Ticker: "nvda", Enabled: false},
			{Username: "ben", Ticker: "TSLA", Enabled: false},
		},
	}
	sender := &fakeSender{}
	mail := &fakeTransport{name: "email", reaches: func(u domain.User) bool { return u.Email != "" }}
	d := NewAlertDispatcher(dir, NewTelegramTransport(sender), mail, nil)

	report := d.Fanout(context.Background(), nvdaSignal())

	if report.Sent != 4 || report.Failed != 0 || report.Recipients != 3 || report.Skipped != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sender.messages[10]) != 1 || len(sender.messages[20]) != 1 || len(sender.messages[50]) != 0 {
		t.Fatalf("unexpected telegram deliveries: %+v", sender.messages)
	}
	if len(mail.sent) != 2 || mail.sent[0] != "ana" || mail.sent[1] != "cy" {
		t.Fatalf("unexpected email deliveries: %v", mail.sent)
	}
	if mail.subjects[0] != AlertSubject {
		t.Fatalf("expected subject %q, got %q", AlertSubject, mail.subjects[0])
	}
}

func TestFanoutSwallowsTransportFailures(t *testing.T) {
	dir := &fakeDirectory{users: []domain.User{
		{Username: "ana", Email: "ana@example.com", ChatHandle: "10"},
		{Username: "ben", Email: "ben@example.com"},
	}}
	broken := &fakeTransport{name: "email", err: errors.New("smtp down"), reaches: func(u domain.User) bool { return u.Email != "" }}
	sender := &fakeSender{}
	d := NewAlertDispatcher(dir, broken, NewTelegramTransport(sender))

	report := d.Fanout(context.Background(), nvdaSignal())
	if report.Failed != 2 || report.Sent != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sender.messages[10]) != 1 {
		t.Fatal("telegram delivery must survive email failures")
	}
}

func TestFanoutDirectoryFailureSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	d := NewAlertDispatcher(&fakeDirectory{err: errors.New("db gone")}, NewTelegramTransport(sender))

	report := d.Fanout(context.Background(), nvdaSignal())
	if report != (domain.FanoutReport{}) || len(sender.messages) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestFanoutWithoutTransportsIsNoop(t *testing.T) {
	d := NewAlertDispatcher(&fakeDirectory{users: []domain.User{{Username: "ana"}}})
	if report := d.Fanout(context.Background(), nvdaSignal()); report.Recipients != 0 {
		t.Fatalf("expected no recipients, got %+v", report)
	}
	if len(d.TransportNames()) != 0 {
		t.Fatal("expected no transports")
	}
}

type fakeDirectory struct {
	users []domain.User
	prefs []domain.Preference
	err   error
}

func (f *fakeDirectory) ListUsers(context.Context) ([]domain.User, error) {
	return f.users, f.err
}

func (f *fakeDirectory) ListPreferences(context.Context, string) ([]domain.Preference, error) {
	return f.prefs, nil
}

type fakeTransport struct {
	name     string
	err      error
	reaches  func(domain.User) bool
	sent     []string
	subjects []string
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Reaches(u domain.User) bool { return f.reaches(u) }

func (f *fakeTransport) Send(ctx context.Context, u domain.User, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, u.Username)
	f.subjects = append(f.subjects, subject)
	return nil
}

type fakeSender struct {
	messages map[int64][]string
	err      error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.messages == nil {
		f.messages = make(map[int64][]string)
	}

	chat, ok := to.(*tele.Chat)
	if !ok {
		return nil, fmt.Errorf("unexpected recipient type %T", to)
	}
	f.messages[chat.ID] = append(f.messages[chat.ID], fmt.Sprint(what))
	return &tele.Message{}, nil
}
