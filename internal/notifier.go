package internal

import (
	"context"
	"html"
	"log/slog"
	"strconv"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageRef identifies a sent chat message so it can be edited later.
// The empty ref means "nothing was sent".
type MessageRef string

// Notifier is the fire-and-forget chat channel. Failures are logged by the
// implementation and never returned.
type Notifier interface {
	Send(ctx context.Context, text string, escape bool) MessageRef
	Edit(ctx context.Context, ref MessageRef, text string) MessageRef
}

// TelegramNotifier posts HTML messages into a single Telegram chat
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	suffix string
}

// NewTelegramNotifier connects to the Bot API. Outside production every
// message gets a test suffix so operators can tell environments apart.
func NewTelegramNotifier(token string, chatID int64, production bool) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	n := &TelegramNotifier{bot: bot, chatID: chatID}
	if !production {
		n.suffix = msgTestSuffix
	}
	slog.Info("Telegram notifier started", "bot", bot.Self.UserName)
	return n, nil
}

func (n *TelegramNotifier) Send(ctx context.Context, text string, escape bool) MessageRef {
	slog.Info("Send message", "text", text)
	if escape {
		text = html.EscapeString(text)
	}
	msg := tgbotapi.NewMessage(n.chatID, text+n.suffix)
	msg.ParseMode = tgbotapi.ModeHTML
	sent, err := n.bot.Send(msg)
	if err != nil {
		slog.Error("Failed to send message", "error", err)
		return ""
	}
	return MessageRef(strconv.Itoa(sent.MessageID))
}

func (n *TelegramNotifier) Edit(ctx context.Context, ref MessageRef, text string) MessageRef {
	id, err := strconv.Atoi(string(ref))
	if err != nil {
		slog.Warn("Cannot edit message, sending a new one", "ref", ref)
		return n.Send(ctx, text, false)
	}
	slog.Info("Edit message", "message_id", id, "text", text)
	edit := tgbotapi.NewEditMessageText(n.chatID, id, text+n.suffix)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(edit); err != nil {
		slog.Error("Failed to edit message", "message_id", id, "error", err)
	}
	return ref
}

// LogNotifier only writes messages to the log. Used when no chat is configured.
type LogNotifier struct {
	seq atomic.Int64
}

func (n *LogNotifier) Send(ctx context.Context, text string, escape bool) MessageRef {
	id := n.seq.Add(1)
	slog.Info("Notification", "ref", id, "text", text)
	return MessageRef(strconv.FormatInt(id, 10))
}

func (n *LogNotifier) Edit(ctx context.Context, ref MessageRef, text string) MessageRef {
	slog.Info("Notification edited", "ref", ref, "text", text)
	return ref
}
