package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gameclaim/internal/model"
)

// GamerPowerURL lists active Steam giveaways.
const GamerPowerURL = "https://www.gamerpower.com/api/giveaways?platform=steam"

// gamerPowerLimit caps how many giveaways one poll announces.
const gamerPowerLimit = 5

const gamerPowerTimeLayout = "2006-01-02 15:04:05"

type gamerPowerGiveaway struct {
	ID              json.Number `json:"id"`
	Title           string      `json:"title"`
	Worth           string      `json:"worth"`
	Thumbnail       string      `json:"thumbnail"`
	Description     string      `json:"description"`
	OpenGiveawayURL string      `json:"open_giveaway_url"`
	PublishedDate   string      `json:"published_date"`
	EndDate         string      `json:"end_date"`
}

// GamerPowerSource reports free Steam giveaways tracked by GamerPower.
type GamerPowerSource struct {
	f   *Fetcher
	url string
}

// NewGamerPowerSource creates a Steam giveaway source reading from GamerPowerURL.
func NewGamerPowerSource(f *Fetcher) *GamerPowerSource {
	return &GamerPowerSource{f: f, url: GamerPowerURL}
}

// Name implements Source.
func (s *GamerPowerSource) Name() string { return string(model.SourceSteam) }

// Fetch implements Source.
func (s *GamerPowerSource) Fetch(ctx context.Context) ([]model.Offer, error) {
	body, err := s.f.Get(ctx, s.url, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch gamerpower: %w", err)
	}
	return parseGamerPower(body, s.f.now().UTC())
}

func parseGamerPower(body []byte, now time.Time) ([]model.Offer, error) {
	var giveaways []gamerPowerGiveaway
	if err := json.Unmarshal(body, &giveaways); err != nil {
		// The API answers {"status":0,...} when nothing is listed.
		var status struct {
			Status json.Number `json:"status"`
		}
		if json.Unmarshal(body, &status) == nil && status.Status != "" {
			return nil, nil
		}
		return nil, fmt.Errorf("decode gamerpower: %w", err)
	}

	if len(giveaways) > gamerPowerLimit {
		giveaways = giveaways[:gamerPowerLimit]
	}

	offers := make([]model.Offer, 0, len(giveaways))
	for _, g := range giveaways {
		id := g.ID.String()
		if _, err := strconv.ParseInt(id, 10, 64); err != nil || id == "" {
			continue
		}
		announced := parseGamerPowerTime(g.PublishedDate)
		if announced.IsZero() {
			announced = now
		}
		offers = append(offers, model.Offer{
			Key:           "steam:" + id,
			Title:         g.Title,
			URL:           g.OpenGiveawayURL,
			Source:        model.SourceSteam,
			AnnouncedAt:   announced,
			Description:   g.Description,
			ImageURL:      g.Thumbnail,
			OriginalPrice: g.Worth,
			EndsAt:        parseGamerPowerTime(g.EndDate),
		})
	}
	return offers, nil
}

// parseGamerPowerTime returns the zero time for "N/A" and other unparseable values.
func parseGamerPowerTime(s string) time.Time {
	t, err := time.Parse(gamerPowerTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
