package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"aihub/internal/domain"
)

// LogSink writes notifications to a structured logger, mapping severity to
// log level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(n domain.Notification) {
	attrs := []any{"title", n.Title, "severity", n.Severity}
	if n.Description != "" {
		attrs = append(attrs, "description", n.Description)
	}
	if n.Topic != "" {
		attrs = append(attrs, "topic", n.Topic)
	}
	switch n.Severity {
	case domain.SeverityError:
		s.logger.Error("notification", attrs...)
	case domain.SeverityWarning:
		s.logger.Warn("notification", attrs...)
	default:
		s.logger.Info("notification", attrs...)
	}
}

const defaultTelegramQueue = 32

// telegramSender is the part of *tgbotapi.BotAPI the sink uses.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramConfig struct {
	Token       string
	ChatID      int64
	ParseMode   string
	MinSeverity domain.Severity
	QueueSize   int
	Logger      *slog.Logger
}

// TelegramSink forwards notifications at or above a minimum severity to one
// Telegram chat. Delivery is queued so Notify never waits on the network.
type TelegramSink struct {
	bot       telegramSender
	chatID    int64
	parseMode string
	min       domain.Severity
	queue     chan domain.Notification
	logger    *slog.Logger
}

// NewTelegramSink connects to the Bot API. Call Run to start delivering.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return newTelegramSink(bot, cfg), nil
}

func newTelegramSink(bot telegramSender, cfg TelegramConfig) *TelegramSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultTelegramQueue
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = domain.SeverityWarning
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TelegramSink{
		bot:       bot,
		chatID:    cfg.ChatID,
		parseMode: cfg.ParseMode,
		min:       cfg.MinSeverity,
		queue:     make(chan domain.Notification, cfg.QueueSize),
		logger:    cfg.Logger,
	}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Deliver(n domain.Notification) {
	if n.Severity.Rank() < t.min.Rank() {
		return
	}
	select {
	case t.queue <- n:
	default:
		t.logger.Warn("telegram queue full, notification dropped", "title", n.Title)
	}
}

// Run sends queued notifications until ctx is done.
func (t *TelegramSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-t.queue:
			t.send(n)
		}
	}
}

func (t *TelegramSink) send(n domain.Notification) {
	text := FormatTelegram(n, t.parseMode != "")
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = t.parseMode

	_, err := t.bot.Send(msg)
	if err == nil {
		return
	}
	// Markdown parse error: resend as plain text.
	if msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		plain := tgbotapi.NewMessage(t.chatID, FormatTelegram(n, false))
		if _, err2 := t.bot.Send(plain); err2 == nil {
			return
		}
	}
	t.logger.Error("telegram send failed", "title", n.Title, "err", err)
}

// FormatTelegram renders n as a bold title line followed by the description.
func FormatTelegram(n domain.Notification, markdown bool) string {
	title, desc := n.Title, n.Description
	if markdown {
		title = "*" + escapeMarkdown(title) + "*"
		desc = escapeMarkdown(desc)
	}
	if desc == "" {
		return title
	}
	return title + "\n" + desc
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
