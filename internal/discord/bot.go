// Package discord is the Discord surface of the bot: slash commands,
// interactive components and the delivery sink.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"gameclaim/internal/cache"
	"gameclaim/internal/delivery"
	"gameclaim/internal/fetcher"
	"gameclaim/internal/model"
	"gameclaim/internal/pricing"
	"gameclaim/internal/session"
	"gameclaim/internal/storage"
)

// Catalog searches games and their current deals.
type Catalog interface {
	SearchGames(ctx context.Context, query string, limit int) ([]model.CandidateGame, error)
	FetchGameDeals(ctx context.Context, gameID string) (*model.GameDeals, error)
}

// Currencies converts USD prices for display.
type Currencies interface {
	Money(ctx context.Context, currency string) pricing.Money
}

// Trackings manages price tracking subscriptions.
type Trackings interface {
	Cancel(ctx context.Context, userID string, id int64) error
	List(ctx context.Context, userID string) ([]model.TrackingSubscription, error)
}

// Broadcaster sends one message to every destination.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg delivery.Message) (sent, total int)
}

// Deps are the components the bot drives.
type Deps struct {
	Registry    storage.Registry
	Sources     []fetcher.Source
	Catalog     Catalog
	Currencies  Currencies
	Trackings   Trackings
	Sessions    *session.Manager
	Broadcaster Broadcaster
	IsOwner     func(userID string) bool
}

// Bot handles Discord interactions.
type Bot struct {
	session *discordgo.Session
	api     discordAPI
	deps    Deps
	sink    *Sink
	log     *slog.Logger

	// opTimeout bounds the work done for one interaction.
	opTimeout time.Duration
	latency   func() time.Duration
	clock     func() time.Time

	mu     sync.RWMutex
	selfID string

	announcements *cache.TTL[string, announcement]
}

// New creates a Bot with the given token. Call Start to connect.
func New(token string, deps Deps, log *slog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	b := newBot(s, deps, log)
	b.session = s
	b.latency = s.HeartbeatLatency

	s.AddHandler(b.onReady)
	s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(context.Background(), i.Interaction)
	})
	return b, nil
}

func newBot(api discordAPI, deps Deps, log *slog.Logger) *Bot {
	if deps.IsOwner == nil {
		deps.IsOwner = func(string) bool { return false }
	}
	b := &Bot{
		api:           api,
		deps:          deps,
		log:           log,
		opTimeout:     30 * time.Second,
		latency:       func() time.Duration { return 0 },
		clock:         time.Now,
		announcements: cache.New[string, announcement](),
	}
	b.sink = NewSink(api, b.self)
	if deps.Sessions != nil {
		deps.Sessions.OnExpire(b.expireView)
	}
	return b
}

// Sink returns the delivery sink backed by this bot's session.
func (b *Bot) Sink() *Sink {
	return b.sink
}

// Start opens the gateway connection and registers slash commands.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) self() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	b.selfID = r.User.ID
	b.mu.Unlock()
	b.log.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) registerCommands() error {
	cmds, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefinitions())
	if err != nil {
		return err
	}
	b.log.Info("slash commands registered", "count", len(cmds))
	return nil
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(ctx, i)
	}
}

func (b *Bot) handleComponent(ctx context.Context, i *discordgo.Interaction) {
	data := i.MessageComponentData()
	id, err := ParseCustomID(data.CustomID)
	if err != nil {
		b.log.Debug("ignoring component", "custom_id", data.CustomID, "error", err)
		return
	}

	switch id.Kind {
	case kindTrack:
		b.handleTrackComponent(ctx, i, id)
	case kindPrice:
		if len(data.Values) > 0 {
			b.handlePriceCurrency(ctx, i, id.Key, data.Values[0])
		}
	case kindAnnounce:
		b.handleAnnounceComponent(ctx, i, id)
	}
}

func (b *Bot) handleModal(ctx context.Context, i *discordgo.Interaction) {
	data := i.ModalSubmitData()
	id, err := ParseCustomID(data.CustomID)
	if err != nil {
		return
	}
	switch id.Kind {
	case kindTrack:
		b.handleTrackResearch(ctx, i, id.Key, modalValue(data, fieldQuery))
	case kindAnnounce:
		b.handleAnnounceSubmit(i, data)
	}
}

// userID returns the acting user of an interaction in a guild or a DM.
func userID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func isAdmin(i *discordgo.Interaction) bool {
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0
}

func (b *Bot) respond(i *discordgo.Interaction, data *discordgo.InteractionResponseData) {
	if data.AllowedMentions == nil {
		data.AllowedMentions = &discordgo.MessageAllowedMentions{}
	}
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.log.Error("respond to interaction", "interaction_id", i.ID, "error", err)
	}
}

func (b *Bot) reply(i *discordgo.Interaction, content string) {
	b.respond(i, &discordgo.InteractionResponseData{Content: content})
}

func (b *Bot) replyPrivate(i *discordgo.Interaction, content string) {
	b.respond(i, &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral})
}

func (b *Bot) deferReply(i *discordgo.Interaction) bool {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		b.log.Error("defer interaction", "interaction_id", i.ID, "error", err)
		return false
	}
	return true
}

func (b *Bot) update(i *discordgo.Interaction, data *discordgo.InteractionResponseData) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: data,
	})
	if err != nil {
		b.log.Error("update interaction message", "interaction_id", i.ID, "error", err)
	}
}

func (b *Bot) editDeferred(i *discordgo.Interaction, msg delivery.Message, extra ...discordgo.MessageComponent) *discordgo.Message {
	content := msg.Mention + msg.Content
	var embeds []*discordgo.MessageEmbed
	if msg.Embed != nil {
		embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	components := append(linkButtons(msg.Buttons), extra...)
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	m, err := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		b.log.Error("edit interaction response", "interaction_id", i.ID, "error", err)
		return nil
	}
	return m
}

func (b *Bot) followup(i *discordgo.Interaction, msg delivery.Message, ephemeral bool) {
	params := &discordgo.WebhookParams{
		Content:         msg.Mention + msg.Content,
		Components:      linkButtons(msg.Buttons),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if msg.Embed != nil {
		params.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := b.api.FollowupMessageCreate(i, true, params); err != nil {
		b.log.Error("send followup", "interaction_id", i.ID, "error", err)
	}
}
