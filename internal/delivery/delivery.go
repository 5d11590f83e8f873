// Package delivery defines the platform-neutral message sink used by the
// dispatcher, the tracker and broadcasts.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"gameclaim/internal/model"
)

// Sink errors. Parse fails with ErrInvalidChannel; Resolve fails with
// ErrChannelNotFound or ErrForbidden when the channel cannot receive posts.
var (
	ErrInvalidChannel  = errors.New("invalid channel id")
	ErrChannelNotFound = errors.New("channel not found")
	ErrForbidden       = errors.New("missing permission to post")
)

// Target is an unparsed destination address.
type Target struct {
	Platform  model.Platform
	GuildID   string
	ChannelID string
}

// Channel is a parsed, and after Resolve verified, handle to a channel.
type Channel struct {
	Platform model.Platform
	GuildID  string
	ID       string
	Name     string
}

// Field is one name/value block of an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is rich message content. Platforms without embeds render it as text.
type Embed struct {
	Title        string
	Description  string
	URL          string
	Color        int
	ImageURL     string
	ThumbnailURL string
	Fields       []Field
	Footer       string
}

// Button is a link button attached under a message.
type Button struct {
	Label string
	URL   string
}

// Message is one outbound post.
type Message struct {
	// Mention is prefixed to Content, e.g. role pings.
	Mention string
	Content string
	Embed   *Embed
	Buttons []Button
}

// Sink delivers messages to channels on one platform.
type Sink interface {
	// Parse validates a target without I/O.
	Parse(t Target) (Channel, error)
	// Resolve checks the channel exists and accepts posts from the bot.
	Resolve(ctx context.Context, ch Channel) (Channel, error)
	Send(ctx context.Context, ch Channel, msg Message) error
}

// Router dispatches to the Sink registered for a target's platform.
type Router struct {
	sinks map[model.Platform]Sink
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{sinks: make(map[model.Platform]Sink)}
}

// Register installs the sink for a platform.
func (r *Router) Register(p model.Platform, s Sink) {
	r.sinks[p] = s
}

func (r *Router) sink(p model.Platform) (Sink, error) {
	if p == "" {
		p = model.PlatformDiscord
	}
	s, ok := r.sinks[p]
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", p, ErrInvalidChannel)
	}
	return s, nil
}

// Parse implements Sink.
func (r *Router) Parse(t Target) (Channel, error) {
	s, err := r.sink(t.Platform)
	if err != nil {
		return Channel{}, err
	}
	return s.Parse(t)
}

// Resolve implements Sink.
func (r *Router) Resolve(ctx context.Context, ch Channel) (Channel, error) {
	s, err := r.sink(ch.Platform)
	if err != nil {
		return Channel{}, err
	}
	return s.Resolve(ctx, ch)
}

// Send implements Sink.
func (r *Router) Send(ctx context.Context, ch Channel, msg Message) error {
	s, err := r.sink(ch.Platform)
	if err != nil {
		return err
	}
	return s.Send(ctx, ch, msg)
}

// Unreachable reports whether err means the channel should be skipped rather
// than retried.
func Unreachable(err error) bool {
	return errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrInvalidChannel)
}
