package bot

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"benji/internal/domain"
)

// DefaultEmailTimeout bounds one SMTP session, from dial to QUIT.
const DefaultEmailTimeout = 10 * time.Second

type EmailConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type sendMsgFunc func(ctx context.Context, msg *mail.Msg) error

// EmailTransport sends plain-text alerts through an authenticated SMTP relay.
type EmailTransport struct {
	client *mail.Client
	from   string
	send   sendMsgFunc
}

// NewEmailTransport returns ErrConfigurationMissing unless server, user and password are
// all set.
func NewEmailTransport(cfg EmailConfig) (*EmailTransport, error) {
	cfg.Server = strings.TrimSpace(cfg.Server)
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.Server == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("smtp server, user and password: %w", domain.ErrConfigurationMissing)
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEmailTimeout
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = cfg.Username
	}

	client, err := mail.NewClient(cfg.Server,
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithDialContextFunc(deadlineDialer(cfg.Timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	t := &EmailTransport{client: client, from: from}
	t.send = func(ctx context.Context, msg *mail.Msg) error {
		return t.client.DialAndSendWithContext(ctx, msg)
	}
	return t, nil
}

// deadlineDialer applies the dial deadline to the whole connection so a server that
// accepts and then stalls cannot hold the session open.
func deadlineDialer(timeout time.Duration) mail.DialContextFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (t *EmailTransport) Name() string { return "email" }

func (t *EmailTransport) Reaches(u domain.User) bool {
	return strings.Contains(u.Email, "@")
}

func (t *EmailTransport) Send(ctx context.Context, u domain.User, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(t.from, u.Email, subject, body)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- t.send(ctx, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", u.Email, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("smtp from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("smtp to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
