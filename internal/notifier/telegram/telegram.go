// Package telegram is the send-only Telegram notifier.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"habitd/pkg/logx"
)

type Config struct {
	Token       string
	SendTimeout time.Duration // per-message HTTP budget; default 10s
	RatePerSec  int           // Telegram broadcast budget; default 25
}

// Notifier sends plain-text messages to Telegram chats. It never polls
// for updates; the bot token is purely a delivery channel.
type Notifier struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
		log:     log,
	}, nil
}

// Notify delivers one message, best-effort. The error is informational:
// callers are expected to treat delivery as fire-and-forget.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	wctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.limiter.Wait(wctx); err != nil {
		return err
	}
	_, err := n.bot.Send(tele.ChatID(chatID), text)
	return err
}

// Nop is the notifier used when no bot token is configured: every send
// silently succeeds.
type Nop struct{}

func (Nop) Notify(context.Context, int64, string) error { return nil }
