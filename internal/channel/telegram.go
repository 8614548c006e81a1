package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen  = 4000
	telegramAPITimeout = 10 * time.Second
)

// TelegramNotifier implements domain.Notifier by posting operator alerts
// to a single Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

type TelegramConfig struct {
	Token      string
	ChatID     int64
	Endpoint   string // API endpoint format; empty means tgbotapi.APIEndpoint
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewTelegramNotifier connects to the Bot API (a getMe round trip) and
// returns a notifier bound to the configured chat.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: telegramAPITimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram operator notifier connected",
		"username", bot.Self.UserName,
		"chat", cfg.ChatID,
	)
	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(text) > telegramMaxMsgLen {
		text = strings.ToValidUTF8(text[:telegramMaxMsgLen], "")
	}

	// BotAPI.Send takes no context, so the call runs aside and ctx bounds the wait.
	// The HTTP client timeout bounds the abandoned call.
	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}
