package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"gameclaim/internal/model"
	"gameclaim/internal/pricing"
)

func TestMentionPrefix(t *testing.T) {
	tests := []struct {
		name    string
		guild   string
		targets []string
		want    string
	}{
		{name: "no targets", guild: "1", targets: nil, want: ""},
		{name: "single role", guild: "1", targets: []string{"123456789012345678"}, want: "<@&123456789012345678> "},
		{name: "roles keep order", guild: "1", targets: []string{"22", "11"}, want: "<@&22> <@&11> "},
		{name: "everyone sentinel", guild: "1", targets: []string{model.PingEveryone}, want: "@everyone "},
		{name: "guild id means everyone", guild: "900", targets: []string{"900"}, want: "@everyone "},
		{name: "malformed dropped", guild: "1", targets: []string{"abc", "", "-5", "7"}, want: "<@&7> "},
		{name: "duplicates collapsed", guild: "1", targets: []string{"7", "7"}, want: "<@&7> "},
		{name: "only malformed", guild: "1", targets: []string{"x"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, MentionPrefix(tt.guild, tt.targets)); diff != "" {
				t.Errorf("MentionPrefix mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 0, want: "Ends soon!"},
		{d: 30 * time.Second, want: "Ends soon!"},
		{d: 5 * time.Minute, want: "5 mins"},
		{d: time.Hour + time.Minute, want: "1 hour 1 min"},
		{d: 24 * time.Hour, want: "1 day"},
		{d: 50*time.Hour + 10*time.Minute, want: "2 days 2 hours"},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatDuration(tt.d)); diff != "" {
				t.Errorf("FormatDuration mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatOffer(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	o := model.Offer{
		Key:           "celeste@2025-01-09T16:00:00Z",
		Title:         "Celeste",
		URL:           "https://store.epicgames.com/en-US/p/celeste",
		Source:        model.SourceEpic,
		ImageURL:      "https://img.example/c.jpg",
		OriginalPrice: "$19.99",
		EndsAt:        now.Add(3*24*time.Hour + 2*time.Hour),
	}

	want := Message{
		Embed: &Embed{
			Title:       "🎮 Celeste",
			Description: "Grab it before it's gone!",
			URL:         o.URL,
			Color:       ColorFreebie,
			ImageURL:    o.ImageURL,
			Footer:      "GameClaim • Epic Freebie",
			Fields: []Field{
				{Name: "💲 Original Price", Value: "$19.99", Inline: true},
				{Name: "🕒 Offer Period", Value: "3 days 2 hours", Inline: true},
			},
		},
		Buttons: []Button{{Label: "Claim Game", URL: o.URL}},
	}
	if diff := cmp.Diff(want, FormatOffer(o, now)); diff != "" {
		t.Errorf("FormatOffer mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatText(t *testing.T) {
	msg := Message{
		Mention: "@everyone ",
		Embed: &Embed{
			Title:       "🎮 Portal",
			Description: "Free on Steam",
			URL:         "https://x.example/portal",
			Fields:      []Field{{Name: "Value", Value: "$9.99"}},
		},
		Buttons: []Button{{Label: "Claim Game", URL: "https://x.example/portal"}, {Label: "Vote", URL: "https://vote.example"}},
	}
	want := "@everyone \n\n🎮 Portal\n\nFree on Steam\n\nValue: $9.99\n\nhttps://x.example/portal\nVote: https://vote.example"
	if diff := cmp.Diff(want, FormatText(msg)); diff != "" {
		t.Errorf("FormatText mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatPrice(t *testing.T) {
	gd := &model.GameDeals{
		Title:         "Hades",
		AllTimeLow:    decimal.RequireFromString("9.99"),
		HasAllTimeLow: true,
		Deals: []model.Deal{
			{StoreID: "7", DealID: "d1", Price: decimal.RequireFromString("9.99"), RetailPrice: decimal.RequireFromString("24.99"), SavingsPercent: decimal.RequireFromString("60.02")},
			{StoreID: "1", DealID: "d2", Price: decimal.RequireFromString("24.99"), RetailPrice: decimal.RequireFromString("24.99")},
		},
	}
	msg := FormatPrice(gd, pricing.USD)

	wantFields := []Field{
		{Name: "🏷️ Lowest Price Ever", Value: "$9.99 (USD)", Inline: true},
		{Name: "🛒 Current Deals", Value: "**GOG**: ~~$24.99~~ ➜ **$9.99** (60% off)\n**Steam**: $24.99\n"},
	}
	if diff := cmp.Diff(wantFields, msg.Embed.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Button{{Label: "View Best Deal", URL: pricing.RedirectURL("d1")}}, msg.Buttons); diff != "" {
		t.Errorf("buttons mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatTrackAlertMentionsSubscriber(t *testing.T) {
	sub := model.TrackingSubscription{UserID: "42", GameName: "Hades", Mode: model.TrackAllTimeLow}
	d := model.Deal{StoreID: "7", DealID: "d1", Price: decimal.RequireFromString("9.99"), RetailPrice: decimal.RequireFromString("24.99"), SavingsPercent: decimal.RequireFromString("60")}
	msg := FormatTrackAlert(sub, &model.GameDeals{}, d)

	if diff := cmp.Diff("<@42> price alert for **Hades**!", msg.Content); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
}

type stubSink struct {
	parsed []Target
	err    error
}

func (s *stubSink) Parse(t Target) (Channel, error) {
	s.parsed = append(s.parsed, t)
	return Channel{Platform: t.Platform, ID: t.ChannelID}, s.err
}
func (s *stubSink) Resolve(_ context.Context, ch Channel) (Channel, error) { return ch, s.err }
func (s *stubSink) Send(context.Context, Channel, Message) error         { return s.err }

func TestRouter(t *testing.T) {
	discord := &stubSink{}
	tg := &stubSink{err: ErrForbidden}
	r := NewRouter()
	r.Register(model.PlatformDiscord, discord)
	r.Register(model.PlatformTelegram, tg)

	if _, err := r.Parse(Target{ChannelID: "1"}); err != nil {
		t.Fatalf("empty platform should route to discord: %v", err)
	}
	if len(discord.parsed) != 1 {
		t.Errorf("discord sink parsed %d targets, want 1", len(discord.parsed))
	}

	ch := Channel{Platform: model.PlatformTelegram, ID: "5"}
	if err := r.Send(context.Background(), ch, Message{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected telegram sink error, got %v", err)
	}

	_, err := r.Parse(Target{Platform: "matrix", ChannelID: "1"})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("unknown platform: expected ErrInvalidChannel, got %v", err)
	}
	if !Unreachable(err) {
		t.Error("unknown platform should be unreachable")
	}
}
