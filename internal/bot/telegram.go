package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"benji/internal/domain"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramTransport delivers alerts to users whose chat handle is a Telegram chat id.
type TelegramTransport struct {
	sender messageSender
}

func NewTelegramTransport(sender messageSender) *TelegramTransport {
	return &TelegramTransport{sender: sender}
}

func (t *TelegramTransport) Name() string { return "telegram" }

func (t *TelegramTransport) Reaches(u domain.User) bool {
	_, ok := chatID(u.ChatHandle)
	return ok
}

func (t *TelegramTransport) Send(ctx context.Context, u domain.User, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, ok := chatID(u.ChatHandle)
	if !ok {
		return fmt.Errorf("invalid chat handle %q", u.ChatHandle)
	}
	if _, err := t.sender.Send(&tele.Chat{ID: id}, body); err != nil {
		return fmt.Errorf("telegram send to %d: %w", id, err)
	}
	return nil
}

func chatID(handle string) (int64, bool) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// NewTelegramBot builds the bot client. An empty token is ErrConfigurationMissing, which
// disables chat alerts and commands without stopping the process.
func NewTelegramBot(token string, offline bool) (*tele.Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token: %w", domain.ErrConfigurationMissing)
	}
	return tele.NewBot(tele.Settings{
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: 10 * time.Second},
		Offline: offline,
		OnError: func(err error, c tele.Context) {
			log.Warn().Err(err).Msg("telegram handler error")
		},
	})
}

type commandRouter interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
}

// RegisterCommands wires the chat commands onto the bot.
func RegisterCommands(r commandRouter, cmds *Commands) {
	r.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	r.Handle("/start", func(c tele.Context) error {
		return c.Send(cmds.Start(context.Background(), identify(c)))
	})
	r.Handle("/active", func(c tele.Context) error {
		return c.Send(cmds.Active(context.Background()))
	})
	r.Handle("/latest", func(c tele.Context) error {
		return c.Send(cmds.Latest(context.Background()))
	})
	r.Handle("/ledger", func(c tele.Context) error {
		return c.Send(cmds.Ledger(context.Background(), identify(c)))
	})
	r.Handle("/history", func(c tele.Context) error {
		return c.Send(cmds.History(context.Background(), c.Args()))
	})
	r.Handle("/confirm", func(c tele.Context) error {
		return c.Send(cmds.Confirm(context.Background(), identify(c), c.Args()))
	})
	r.Handle("/alerts", func(c tele.Context) error {
		return c.Send(cmds.Alerts(context.Background(), identify(c), c.Args()))
	})
}

// identify maps a chat sender onto a stored user: the Telegram username when set, else
// "tg<id>". The chat id becomes the user's chat handle.
func identify(c tele.Context) domain.User {
	var u domain.User
	if chat := c.Chat(); chat != nil {
		u.ChatHandle = strconv.FormatInt(chat.ID, 10)
	}
	if sender := c.Sender(); sender != nil {
		u.Username = strings.TrimSpace(sender.Username)
		if u.Username == "" {
			u.Username = "tg" + strconv.FormatInt(sender.ID, 10)
		}
	}
	return u
}
