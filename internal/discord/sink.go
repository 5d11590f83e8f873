package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"

	"gameclaim/internal/cache"
	"gameclaim/internal/delivery"
	"gameclaim/internal/model"
)

// channelTTL bounds how long a fetched channel is reused.
const channelTTL = 10 * time.Minute

// postPerms are required to announce in a channel.
const postPerms = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks

// discordAPI is the subset of *discordgo.Session the package uses.
type discordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(i *discordgo.Interaction, edit *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink delivers messages to Discord text channels.
type Sink struct {
	api      discordAPI
	selfID   func() string
	channels *cache.TTL[string, *discordgo.Channel]
}

// NewSink creates a Sink. selfID returns the bot's user id once connected;
// permission checks are skipped while it is empty.
func NewSink(api discordAPI, selfID func() string) *Sink {
	return &Sink{api: api, selfID: selfID, channels: cache.New[string, *discordgo.Channel]()}
}

// ParseID validates a Discord snowflake.
func ParseID(s string) (string, error) {
	id, err := snowflake.ParseString(s)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("%q: %w", s, delivery.ErrInvalidChannel)
	}
	return id.String(), nil
}

// Parse implements delivery.Sink.
func (s *Sink) Parse(t delivery.Target) (delivery.Channel, error) {
	id, err := ParseID(t.ChannelID)
	if err != nil {
		return delivery.Channel{}, err
	}
	return delivery.Channel{Platform: model.PlatformDiscord, GuildID: t.GuildID, ID: id}, nil
}

// Resolve implements delivery.Sink.
func (s *Sink) Resolve(ctx context.Context, ch delivery.Channel) (delivery.Channel, error) {
	c, err := s.channel(ctx, ch.ID)
	if err != nil {
		return delivery.Channel{}, err
	}
	if ch.GuildID != "" && c.GuildID != "" && c.GuildID != ch.GuildID {
		return delivery.Channel{}, fmt.Errorf("channel %s belongs to another guild: %w", ch.ID, delivery.ErrChannelNotFound)
	}
	ch.Name = c.Name

	// Direct messages have no guild to compute permissions against.
	if c.Type == discordgo.ChannelTypeDM || c.Type == discordgo.ChannelTypeGroupDM {
		return ch, nil
	}
	if self := s.selfID(); self != "" {
		perms, err := s.api.UserChannelPermissions(self, ch.ID, discordgo.WithContext(ctx))
		if err != nil {
			return delivery.Channel{}, mapError("channel permissions", err)
		}
		if perms&discordgo.PermissionAdministrator == 0 && perms&postPerms != postPerms {
			return delivery.Channel{}, fmt.Errorf("channel %s: %w", ch.ID, delivery.ErrForbidden)
		}
	}
	return ch, nil
}

// channel returns a cached channel, fetching it by id on a miss.
func (s *Sink) channel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if c, ok := s.channels.Get(id); ok {
		return c, nil
	}
	c, err := s.api.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("get channel", err)
	}
	s.channels.Set(id, c, channelTTL)
	return c, nil
}

// Send implements delivery.Sink.
func (s *Sink) Send(ctx context.Context, ch delivery.Channel, msg delivery.Message) error {
	if _, err := s.api.ChannelMessageSendComplex(ch.ID, toMessageSend(msg), discordgo.WithContext(ctx)); err != nil {
		err = mapError("send message", err)
		if errors.Is(err, delivery.ErrChannelNotFound) {
			s.channels.Delete(ch.ID)
		}
		return err
	}
	return nil
}

func mapError(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, delivery.ErrChannelNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, delivery.ErrForbidden)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toMessageSend(msg delivery.Message) *discordgo.MessageSend {
	out := &discordgo.MessageSend{
		Content:         msg.Mention + msg.Content,
		Components:      linkButtons(msg.Buttons),
		AllowedMentions: allowedMentions(),
	}
	if msg.Embed != nil {
		out.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	return out
}

func allowedMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{
			discordgo.AllowedMentionTypeRoles,
			discordgo.AllowedMentionTypeUsers,
			discordgo.AllowedMentionTypeEveryone,
		},
	}
}

func toEmbed(e *delivery.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.ThumbnailURL != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func linkButtons(btns []delivery.Button) []discordgo.MessageComponent {
	if len(btns) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range btns {
		if b.URL == "" {
			continue
		}
		row.Components = append(row.Components, discordgo.Button{Label: b.Label, Style: discordgo.LinkButton, URL: b.URL})
	}
	if len(row.Components) == 0 {
		return nil
	}
	return []discordgo.MessageComponent{row}
}
