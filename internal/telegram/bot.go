// Package telegram lets Telegram chats subscribe to free game alerts and
// delivers them.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gameclaim/internal/fetcher"
	"gameclaim/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles chat commands.
type Bot struct {
	api      telegramAPI
	registry storage.Registry
	sources  []fetcher.Source
	sink     *Sink
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Bot with the given Telegram token.
func New(token string, registry storage.Registry, sources []fetcher.Source, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, registry, sources, log), nil
}

func newBot(api telegramAPI, registry storage.Registry, sources []fetcher.Source, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		registry: registry,
		sources:  sources,
		sink:     NewSink(api),
		log:      log,
		now:      time.Now,
	}
}

// Sink returns the delivery sink backed by this bot's API client.
func (b *Bot) Sink() *Sink {
	return b.sink
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
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdSubscribe:
		b.handleSubscribe(ctx, msg)
	case cmdUnsubscribe:
		b.handleUnsubscribe(ctx, msg)
	case "status":
		b.handleStatus(ctx, chatID)
	case "free":
		b.handleFree(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
