package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	actionUnsubscribe = "unsubscribe"
	actionNoop        = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	var userID int64
	var username string
	if cb.From != nil {
		userID, username = cb.From.ID, cb.From.UserName
	}
	b.log.Info("callback",
		"action", action,
		"chat_id", chatID,
		"user_id", userID,
		"username", username,
	)

	switch action {
	case actionUnsubscribe:
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id != chatID {
			return
		}
		// Anyone in the chat can press the button.
		msg := &tgbotapi.Message{Chat: cb.Message.Chat, From: cb.From}
		if !b.canManage(msg) {
			b.reply(chatID, "Only chat administrators can change alerts.")
			return
		}
		b.unsubscribe(ctx, chatID)
	case actionNoop:
	}
}
