package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gameclaim/internal/delivery"
	"gameclaim/internal/model"
	"gameclaim/internal/storage"
)

const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to GameClaim!

Get notified when games are free to keep on Epic Games and Steam.

Quick start:
1. /subscribe - send free game alerts to this chat
2. /free - see what is free right now

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Alerts:
/subscribe - send free game alerts to this chat
/unsubscribe - stop alerts in this chat
/status - show the subscription of this chat

Offers:
/free [epic|steam|all] - show the current free games

In groups only administrators can change the subscription.`)
}

// canManage reports whether the sender may change this chat's subscription.
func (b *Bot) canManage(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() || msg.Chat.IsChannel() {
		return true
	}
	if msg.From == nil {
		return false
	}
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: msg.Chat.ID, UserID: msg.From.ID},
	})
	if err != nil {
		b.log.Warn("get chat member", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "error", err)
		return false
	}
	return member.IsAdministrator() || member.IsCreator()
}

func (b *Bot) handleSubscribe(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.canManage(msg) {
		b.reply(chatID, "Only chat administrators can change alerts.")
		return
	}

	dest := &model.Destination{
		GuildID:   GuildKey(chatID),
		ChannelID: strconv.FormatInt(chatID, 10),
		Platform:  model.PlatformTelegram,
	}
	if err := b.registry.UpsertDestination(ctx, dest); err != nil {
		b.log.Error("save destination", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to save the subscription. Please try again.")
		return
	}
	b.log.Info("chat subscribed", "chat_id", chatID)
	b.reply(chatID, "Subscribed! Free game alerts will be sent to this chat.")
}

func (b *Bot) handleUnsubscribe(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.canManage(msg) {
		b.reply(chatID, "Only chat administrators can change alerts.")
		return
	}
	if _, err := b.registry.GetDestination(ctx, GuildKey(chatID)); errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "This chat is not subscribed.")
		return
	}

	confirm := tgbotapi.NewMessage(chatID, "Stop free game alerts in this chat?")
	confirm.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, unsubscribe", actionUnsubscribe+":"+strconv.FormatInt(chatID, 10)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", actionNoop+":0"),
		),
	)
	if _, err := b.api.Send(confirm); err != nil {
		b.log.Error("send unsubscribe confirmation", "error", err)
	}
}

func (b *Bot) unsubscribe(ctx context.Context, chatID int64) {
	err := b.registry.DeleteDestination(ctx, GuildKey(chatID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, "This chat is not subscribed.")
	case err != nil:
		b.log.Error("delete destination", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to remove the subscription. Please try again.")
	default:
		b.log.Info("chat unsubscribed", "chat_id", chatID)
		b.reply(chatID, "Unsubscribed. No more alerts will be sent here.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	dest, err := b.registry.GetDestination(ctx, GuildKey(chatID))
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "This chat is not subscribed. Use /subscribe to get alerts.")
		return
	}
	if err != nil {
		b.log.Error("get destination", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to load the subscription. Please try again.")
		return
	}
	b.reply(chatID, FormatStatus(dest))
}

func (b *Bot) handleFree(ctx context.Context, chatID int64, args string) {
	platform := strings.ToLower(args)
	if platform == "" {
		platform = "all"
	}
	if platform != "all" && platform != string(model.SourceEpic) && platform != string(model.SourceSteam) {
		b.reply(chatID, "Usage: /free [epic|steam|all]")
		return
	}

	var offers []model.Offer
	for _, src := range b.sources {
		if platform != "all" && src.Name() != platform {
			continue
		}
		got, err := src.Fetch(ctx)
		if err != nil {
			b.log.Error("fetch offers", "source", src.Name(), "error", err)
			continue
		}
		offers = append(offers, got...)
	}
	if len(offers) == 0 {
		b.reply(chatID, "No free games found at the moment.")
		return
	}

	ch := delivery.Channel{Platform: model.PlatformTelegram, ID: strconv.FormatInt(chatID, 10)}
	now := b.now()
	for _, o := range offers {
		if err := b.sink.Send(ctx, ch, delivery.FormatOffer(o, now)); err != nil {
			b.log.Error("send offer", "chat_id", chatID, "offer", o.Key, "error", err)
			return
		}
	}
}

// FormatStatus describes a chat subscription.
func FormatStatus(d *model.Destination) string {
	var sb strings.Builder
	sb.WriteString("This chat receives free game alerts.")
	if !d.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "\nSubscribed since %s.", d.CreatedAt.UTC().Format("2006-01-02"))
	}
	sb.WriteString("\nUse /unsubscribe to stop.")
	return sb.String()
}
