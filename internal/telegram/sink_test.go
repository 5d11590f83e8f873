package telegram

import (
	"context"
	"errors"
	"net/http"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"gameclaim/internal/delivery"
	"gameclaim/internal/model"
)

func TestSinkParse(t *testing.T) {
	s := NewSink(newMockAPI())

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "private", id: "100"},
		{name: "group", id: "-1001234567890"},
		{name: "empty", id: "", wantErr: true},
		{name: "zero", id: "0", wantErr: true},
		{name: "username", id: "@channel", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := s.Parse(delivery.Target{GuildID: "tg:" + tt.id, ChannelID: tt.id})
			if tt.wantErr {
				if !errors.Is(err, delivery.ErrInvalidChannel) {
					t.Errorf("expected ErrInvalidChannel, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(delivery.Channel{Platform: model.PlatformTelegram, GuildID: "tg:" + tt.id, ID: tt.id}, ch); diff != "" {
				t.Errorf("channel mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSinkResolve(t *testing.T) {
	s := NewSink(newMockAPI())
	ctx := context.Background()

	ch, err := s.Resolve(ctx, delivery.Channel{Platform: model.PlatformTelegram, ID: "100"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff("alice", ch.Name); diff != "" {
		t.Errorf("name mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Resolve(ctx, delivery.Channel{Platform: model.PlatformTelegram, ID: "555"})
	if !errors.Is(err, delivery.ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestSinkSend(t *testing.T) {
	ctx := context.Background()
	ch := delivery.Channel{Platform: model.PlatformTelegram, ID: "100"}

	t.Run("renders text and keyboard", func(t *testing.T) {
		api := newMockAPI()
		s := NewSink(api)
		msg := delivery.Message{
			Content: "Price alert",
			Buttons: []delivery.Button{{Label: "View Deal", URL: "https://example.com/deal"}},
		}
		if err := s.Send(ctx, ch, msg); err != nil {
			t.Fatalf("send: %v", err)
		}
		want := []sentMsg{{
			ChatID: 100,
			Text:   "Price alert",
			Markup: tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("View Deal", "https://example.com/deal"),
			)),
		}}
		if diff := cmp.Diff(want, api.sent); diff != "" {
			t.Errorf("sent mismatch (-want +got):\n%s", diff)
		}
	})

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "blocked", err: &tgbotapi.Error{Code: http.StatusForbidden, Message: "Forbidden: bot was blocked by the user"}, want: delivery.ErrForbidden},
		{name: "gone", err: &tgbotapi.Error{Code: http.StatusBadRequest, Message: "Bad Request: chat not found"}, want: delivery.ErrChannelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newMockAPI()
			api.sendErr = tt.err
			err := NewSink(api).Send(ctx, ch, delivery.Message{Content: "x"})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
