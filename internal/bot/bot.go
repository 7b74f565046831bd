package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hetzner_bot/internal/config"
	"hetzner_bot/internal/storage"
)

// ErrRecipientGone marks a permanent delivery failure: the recipient
// blocked the bot or the chat no longer exists. The subscriber is removed
// instead of retried.
var ErrRecipientGone = errors.New("recipient gone")

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api   telegramAPI
	store storage.Storage
	cfg   *config.Config
	log   *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a plain text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	return b.send(msg)
}

// SendMarkdown sends a Markdown-formatted message to the given chat.
func (b *Bot) SendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) error {
	if _, err := b.api.Send(msg); err != nil {
		if isRecipientGone(err) {
			return fmt.Errorf("%w: %v", ErrRecipientGone, err)
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// isRecipientGone classifies Telegram API errors that will never succeed
// on retry for this chat.
func isRecipientGone(err error) bool {
	text := err.Error()
	return strings.Contains(text, "Forbidden") ||
		strings.Contains(text, "bot was blocked") ||
		strings.Contains(text, "bot was kicked") ||
		strings.Contains(text, "chat not found") ||
		strings.Contains(text, "user is deactivated")
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	sub, err := b.store.GetOrCreateSubscriber(ctx, chatID)
	if err != nil {
		b.log.Error("load subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, "An internal error occurred. Please try again later.")
		return
	}

	isAdmin := b.cfg.AdminChatID != 0 && chatID == b.cfg.AdminChatID
	if !sub.Authorized {
		if !isAdmin {
			b.reply(chatID, "Sorry, this bot is invite only.")
			return
		}
		// The admin chat is authorized implicitly. Persist it so the poll
		// cycle delivers to the admin like any other subscriber.
		sub.Authorized = true
		if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
			b.log.Error("authorize admin", "chat_id", chatID, "error", err)
		}
	}

	switch cmd {
	case "start":
		b.handleStart(ctx, sub)
	case "stop":
		b.handleStop(ctx, sub)
	case "set":
		b.handleSet(ctx, sub, args)
	case "get":
		b.handleGet(ctx, sub)
	case "info":
		b.handleInfo(sub)
	case "help":
		b.reply(chatID, helpText)
	case "addcpu":
		if !isAdmin {
			b.reply(chatID, "Unknown command. Use /help for a list of commands.")
			return
		}
		b.handleAddCPU(ctx, chatID, args)
	case "authorize":
		if !isAdmin {
			b.reply(chatID, "Unknown command. Use /help for a list of commands.")
			return
		}
		b.handleAuthorize(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
