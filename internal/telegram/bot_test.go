package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"gameclaim/internal/fetcher"
	"gameclaim/internal/model"
	"gameclaim/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu      sync.Mutex
	sent    []sentMsg
	acks    int
	chats   map[int64]tgbotapi.Chat
	status  string
	sendErr error
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		chats:  map[int64]tgbotapi.Chat{100: {ID: 100, Type: "private", UserName: "alice"}},
		status: "member",
	}
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		if m.sendErr != nil {
			return tgbotapi.Message{}, m.sendErr
		}
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
	case tgbotapi.CallbackConfig:
		m.acks++
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetChat(c tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[c.ChatID]
	if !ok {
		return tgbotapi.Chat{}, &tgbotapi.Error{Code: http.StatusBadRequest, Message: "Bad Request: chat not found"}
	}
	return chat, nil
}

func (m *mockAPI) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tgbotapi.ChatMember{Status: m.status}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type stubSource struct {
	name   string
	offers []model.Offer
	err    error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Fetch(context.Context) ([]model.Offer, error) {
	return s.offers, s.err
}

// --- helpers ---

func newTestBot(t *testing.T, sources ...stubSource) (*Bot, *mockAPI, *storage.SQL) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := newMockAPI()
	var srcs []fetcher.Source
	for _, s := range sources {
		srcs = append(srcs, s)
	}
	b := newBot(api, store, srcs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.now = func() time.Time { return time.Date(2025, 1, 9, 16, 0, 0, 0, time.UTC) }
	return b, api, store
}

func makeMsg(chat tgbotapi.Chat, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		Chat: &chat,
		From: &tgbotapi.User{ID: 7},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

var (
	privateChat = tgbotapi.Chat{ID: 100, Type: "private"}
	groupChat   = tgbotapi.Chat{ID: -200, Type: "supergroup", Title: "Gamers"}
)

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	cmds := []struct {
		cmd      string
		contains string
	}{
		{"start", "Welcome to GameClaim"},
		{"help", "/subscribe"},
		{"status", "not subscribed"},
		{"unknown_cmd", "Unknown command"},
	}
	for _, tc := range cmds {
		api.reset()
		b.handleCommand(ctx, makeMsg(privateChat, tc.cmd, ""))
		requireContains(t, api.lastText(), tc.contains)
	}
}

func TestHandleSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("private chat", func(t *testing.T) {
		b, api, store := newTestBot(t)
		b.handleCommand(ctx, makeMsg(privateChat, "subscribe", ""))
		requireContains(t, api.lastText(), "Subscribed")

		d, err := store.GetDestination(ctx, "tg:100")
		if err != nil {
			t.Fatalf("get destination: %v", err)
		}
		want := model.Destination{GuildID: "tg:100", ChannelID: "100", Platform: model.PlatformTelegram}
		got := model.Destination{GuildID: d.GuildID, ChannelID: d.ChannelID, Platform: d.Platform}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("destination mismatch (-want +got):\n%s", diff)
		}

		api.reset()
		b.handleCommand(ctx, makeMsg(privateChat, "status", ""))
		requireContains(t, api.lastText(), "receives free game alerts")
	})

	t.Run("group member is rejected", func(t *testing.T) {
		b, api, store := newTestBot(t)
		b.handleCommand(ctx, makeMsg(groupChat, "subscribe", ""))
		requireContains(t, api.lastText(), "Only chat administrators")
		if _, err := store.GetDestination(ctx, "tg:-200"); err == nil {
			t.Error("destination should not be saved")
		}
	})

	t.Run("group admin", func(t *testing.T) {
		b, api, store := newTestBot(t)
		api.status = "administrator"
		b.handleCommand(ctx, makeMsg(groupChat, "subscribe", ""))
		requireContains(t, api.lastText(), "Subscribed")
		if _, err := store.GetDestination(ctx, "tg:-200"); err != nil {
			t.Errorf("destination not saved: %v", err)
		}
	})
}

func TestHandleUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleCommand(ctx, makeMsg(privateChat, "unsubscribe", ""))
	requireContains(t, api.lastText(), "not subscribed")

	b.handleCommand(ctx, makeMsg(privateChat, "subscribe", ""))
	api.reset()
	b.handleCommand(ctx, makeMsg(privateChat, "unsubscribe", ""))
	requireContains(t, api.lastText(), "Stop free game alerts")
	if api.sent[0].Markup == nil {
		t.Fatal("confirmation should carry a keyboard")
	}

	b.handleCallback(ctx, &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "unsubscribe:100",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &privateChat},
	})
	requireContains(t, api.lastText(), "Unsubscribed")
	if _, err := store.GetDestination(ctx, "tg:100"); err == nil {
		t.Error("destination should be removed")
	}
	if diff := cmp.Diff(1, api.acks); diff != "" {
		t.Errorf("callback acks (-want +got):\n%s", diff)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		data string
	}{
		{name: "invalid data format", data: "nocolon"},
		{name: "noop", data: "noop:0"},
		{name: "other chat", data: "unsubscribe:999"},
		{name: "invalid id", data: "unsubscribe:abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t)
			b.handleCallback(ctx, &tgbotapi.CallbackQuery{
				ID:      "cb",
				Data:    tt.data,
				Message: &tgbotapi.Message{Chat: &privateChat},
			})
			if diff := cmp.Diff(0, len(api.sent)); diff != "" {
				t.Errorf("expected no text messages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleFree(t *testing.T) {
	ctx := context.Background()
	epic := stubSource{name: "epic", offers: []model.Offer{{
		Key:    "celeste@2025-01-09T16:00:00Z",
		Title:  "Celeste",
		URL:    "https://store.epicgames.com/en-US/p/celeste",
		Source: model.SourceEpic,
	}}}
	steam := stubSource{name: "steam", err: context.DeadlineExceeded}

	t.Run("all sources", func(t *testing.T) {
		b, api, _ := newTestBot(t, epic, steam)
		b.handleCommand(ctx, makeMsg(privateChat, "free", ""))
		if diff := cmp.Diff(1, len(api.sent)); diff != "" {
			t.Fatalf("sent count (-want +got):\n%s", diff)
		}
		requireContains(t, api.lastText(), "Celeste")
		if api.sent[0].Markup == nil {
			t.Error("claim button missing")
		}
	})

	t.Run("nothing free", func(t *testing.T) {
		b, api, _ := newTestBot(t, epic, steam)
		b.handleCommand(ctx, makeMsg(privateChat, "free", "steam"))
		requireContains(t, api.lastText(), "No free games")
	})

	t.Run("bad platform", func(t *testing.T) {
		b, api, _ := newTestBot(t, epic)
		b.handleCommand(ctx, makeMsg(privateChat, "free", "gog"))
		requireContains(t, api.lastText(), "Usage: /free")
	})
}
