package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gameclaim/internal/delivery"
	"gameclaim/internal/model"
)

// guildPrefix namespaces Telegram chats in the destination registry.
const guildPrefix = "tg:"

// GuildKey is the registry key of a chat.
func GuildKey(chatID int64) string {
	return guildPrefix + strconv.FormatInt(chatID, 10)
}

// Sink delivers messages to Telegram chats as plain text.
type Sink struct {
	api telegramAPI
}

// NewSink creates a Sink.
func NewSink(api telegramAPI) *Sink {
	return &Sink{api: api}
}

// ParseChatID validates a chat id.
func ParseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%q: %w", s, delivery.ErrInvalidChannel)
	}
	return id, nil
}

// Parse implements delivery.Sink.
func (s *Sink) Parse(t delivery.Target) (delivery.Channel, error) {
	id, err := ParseChatID(t.ChannelID)
	if err != nil {
		return delivery.Channel{}, err
	}
	return delivery.Channel{Platform: model.PlatformTelegram, GuildID: t.GuildID, ID: strconv.FormatInt(id, 10)}, nil
}

// Resolve implements delivery.Sink.
func (s *Sink) Resolve(_ context.Context, ch delivery.Channel) (delivery.Channel, error) {
	id, err := ParseChatID(ch.ID)
	if err != nil {
		return delivery.Channel{}, err
	}
	chat, err := s.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return delivery.Channel{}, mapError("get chat", err)
	}
	ch.Name = chat.Title
	if ch.Name == "" {
		ch.Name = chat.UserName
	}
	return ch, nil
}

// Send implements delivery.Sink.
func (s *Sink) Send(_ context.Context, ch delivery.Channel, msg delivery.Message) error {
	id, err := ParseChatID(ch.ID)
	if err != nil {
		return err
	}
	if _, err := s.api.Send(toMessageConfig(id, msg)); err != nil {
		return mapError("send message", err)
	}
	return nil
}

func mapError(op string, err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch tgErr.Code {
		case http.StatusBadRequest:
			// Telegram reports missing and migrated chats as 400.
			return fmt.Errorf("%s: %s: %w", op, tgErr.Message, delivery.ErrChannelNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %s: %w", op, tgErr.Message, delivery.ErrForbidden)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toMessageConfig renders msg as text with link buttons as an inline keyboard.
func toMessageConfig(chatID int64, msg delivery.Message) tgbotapi.MessageConfig {
	btns := msg.Buttons
	msg.Buttons = nil
	out := tgbotapi.NewMessage(chatID, delivery.FormatText(msg))
	out.DisableWebPagePreview = msg.Embed == nil || msg.Embed.URL == ""

	var row []tgbotapi.InlineKeyboardButton
	for _, b := range btns {
		if b.URL != "" {
			row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
		}
	}
	if len(row) > 0 {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	return out
}
