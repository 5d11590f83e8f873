package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"gameclaim/internal/filter"
	"gameclaim/internal/model"
)

const (
	feedDescriptionLimit = 300
	// feedItemLimit caps the items one feed contributes per poll.
	feedItemLimit = 10
	// feedMaxAge skips backlog items of a newly added feed.
	feedMaxAge = 7 * 24 * time.Hour
)

// FeedSource reads giveaway announcements from RSS or Atom feeds.
type FeedSource struct {
	f     *Fetcher
	urls  []string
	rules filter.Rules
	log   *slog.Logger
}

// NewFeedSource creates a source over the given feed URLs. Items that do not
// pass rules are dropped.
func NewFeedSource(f *Fetcher, urls []string, rules filter.Rules, log *slog.Logger) *FeedSource {
	return &FeedSource{f: f, urls: urls, rules: rules, log: log}
}

// Name implements Source.
func (s *FeedSource) Name() string { return "feeds" }

// Fetch implements Source. A failing feed is logged and skipped; an error is
// returned only when every feed failed.
func (s *FeedSource) Fetch(ctx context.Context) ([]model.Offer, error) {
	var offers []model.Offer
	var errs []error
	for _, url := range s.urls {
		if ctx.Err() != nil {
			return offers, ctx.Err()
		}
		feed, err := s.f.FetchFeed(ctx, url)
		if err != nil {
			s.log.Warn("fetch feed", "url", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		offers = append(offers, s.offers(feed)...)
	}
	if len(errs) > 0 && len(errs) == len(s.urls) {
		return nil, errors.Join(errs...)
	}
	return offers, nil
}

// FetchFeed downloads and parses an RSS or Atom feed from the given URL.
func (f *Fetcher) FetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	body, err := f.Get(ctx, url, "")
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// offers converts the recent items of feed that pass the rules, in feed order.
func (s *FeedSource) offers(feed *gofeed.Feed) []model.Offer {
	cutoff := s.f.now().Add(-feedMaxAge)
	var out []model.Offer
	for _, item := range feed.Items {
		if len(out) == feedItemLimit {
			break
		}
		if item.PublishedParsed != nil && item.PublishedParsed.Before(cutoff) {
			continue
		}
		if !s.rules.Match(filter.Item{Title: item.Title, Description: item.Description}) {
			s.log.Debug("feed item filtered", "title", item.Title)
			continue
		}
		out = append(out, feedOffer(item))
	}
	return out
}

// feedOffer converts a feed item into an offer of source OTHER.
func feedOffer(item *gofeed.Item) model.Offer {
	var image string
	if item.Image != nil {
		image = item.Image.URL
	}
	var announced time.Time
	if item.PublishedParsed != nil {
		announced = item.PublishedParsed.UTC()
	}
	return model.Offer{
		Key:         ItemGUID(item),
		Title:       item.Title,
		URL:         item.Link,
		Source:      model.SourceOther,
		AnnouncedAt: announced,
		Description: truncate(item.Description, feedDescriptionLimit),
		ImageURL:    image,
	}
}

// truncate shortens s to at most limit runes.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// ItemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
