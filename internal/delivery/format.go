package delivery

import (
	"fmt"
	"strings"
	"time"

	"gameclaim/internal/model"
)

// Embed colors.
const (
	ColorFreebie  = 0x00FFFF
	ColorPrice    = 0x2ECC71
	ColorAlert    = 0xF1C40F
	ColorInfo     = 0x3498DB
	ColorAnnounce = 0x3498DB
)

// FormatOffer renders a free game announcement.
func FormatOffer(o model.Offer, now time.Time) Message {
	e := &Embed{
		Title:       "🎮 " + o.Title,
		Description: o.Description,
		URL:         o.URL,
		Color:       ColorFreebie,
		ImageURL:    o.ImageURL,
		Footer:      "GameClaim • " + sourceLabel(o.Source),
	}
	if e.Description == "" {
		e.Description = "Grab it before it's gone!"
	}

	price := o.OriginalPrice
	if price == "" {
		price = "N/A"
	}
	e.Fields = append(e.Fields, Field{Name: "💲 Original Price", Value: price, Inline: true})
	if !o.EndsAt.IsZero() {
		e.Fields = append(e.Fields, Field{Name: "🕒 Offer Period", Value: FormatDuration(o.EndsAt.Sub(now)), Inline: true})
	}

	msg := Message{Embed: e}
	if o.URL != "" {
		msg.Buttons = []Button{{Label: "Claim Game", URL: o.URL}}
	}
	return msg
}

func sourceLabel(s model.Source) string {
	switch s {
	case model.SourceEpic:
		return "Epic Freebie"
	case model.SourceSteam:
		return "Steam Freebie"
	default:
		return "Free Game"
	}
}

// FormatDuration renders a remaining time like "2 days 3 hours".
// Minutes are shown only when less than a day remains.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "Ends soon!"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d%(24*time.Hour)) / int(time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 && days == 0 {
		parts = append(parts, plural(minutes, "min"))
	}
	if len(parts) == 0 {
		return "Ends soon!"
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatText renders a message as plain text for platforms without embeds.
func FormatText(msg Message) string {
	var b strings.Builder
	b.WriteString(msg.Mention)
	b.WriteString(msg.Content)
	if e := msg.Embed; e != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(e.Title)
		if e.Description != "" {
			b.WriteString("\n\n")
			b.WriteString(e.Description)
		}
		if len(e.Fields) > 0 {
			b.WriteString("\n")
			for _, f := range e.Fields {
				fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
			}
		}
		if e.URL != "" {
			b.WriteString("\n\n")
			b.WriteString(e.URL)
		}
	}
	for _, btn := range msg.Buttons {
		if msg.Embed != nil && btn.URL == msg.Embed.URL {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", btn.Label, btn.URL)
	}
	return b.String()
}
