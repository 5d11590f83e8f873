package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gameclaim/internal/model"
)

// EpicURL is the public free games promotions endpoint.
const EpicURL = "https://store-site-backend-static.ak.epicgames.com/freeGamesPromotions?locale=en-US&country=US&allowCountries=US"

const epicStoreRoot = "https://store.epicgames.com/"

type epicResponse struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []epicElement `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

type epicElement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ProductSlug string `json:"productSlug"`
	CatalogNs   struct {
		Mappings []struct {
			PageSlug string `json:"pageSlug"`
		} `json:"mappings"`
	} `json:"catalogNs"`
	KeyImages []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"keyImages"`
	Price struct {
		TotalPrice struct {
			OriginalPrice int64  `json:"originalPrice"`
			DiscountPrice *int64 `json:"discountPrice"`
		} `json:"totalPrice"`
	} `json:"price"`
	Promotions *struct {
		PromotionalOffers []struct {
			PromotionalOffers []struct {
				StartDate string `json:"startDate"`
				EndDate   string `json:"endDate"`
			} `json:"promotionalOffers"`
		} `json:"promotionalOffers"`
	} `json:"promotions"`
}

// EpicSource reports games that are currently free on the Epic Games Store.
type EpicSource struct {
	f   *Fetcher
	url string
}

// NewEpicSource creates an Epic source reading from EpicURL.
func NewEpicSource(f *Fetcher) *EpicSource {
	return &EpicSource{f: f, url: EpicURL}
}

// Name implements Source.
func (s *EpicSource) Name() string { return string(model.SourceEpic) }

// Fetch implements Source.
func (s *EpicSource) Fetch(ctx context.Context) ([]model.Offer, error) {
	body, err := s.f.Get(ctx, s.url, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch epic: %w", err)
	}
	return parseEpic(body, s.f.now().UTC())
}

func parseEpic(body []byte, now time.Time) ([]model.Offer, error) {
	var resp epicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode epic: %w", err)
	}

	var offers []model.Offer
	for _, el := range resp.Data.Catalog.SearchStore.Elements {
		start, end, ok := currentPromotion(el, now)
		if !ok {
			continue
		}
		// Discounted but not free promotions share the endpoint.
		if dp := el.Price.TotalPrice.DiscountPrice; dp != nil && *dp > 0 {
			continue
		}

		title := el.Title
		if title == "" {
			title = "Unknown"
		}
		slug := el.ProductSlug
		if slug == "" && len(el.CatalogNs.Mappings) > 0 {
			slug = el.CatalogNs.Mappings[0].PageSlug
		}
		link := epicStoreRoot
		if slug != "" {
			link = epicStoreRoot + "en-US/p/" + slug
		}
		base := slug
		if base == "" {
			base = title
		}

		offers = append(offers, model.Offer{
			Key:           base + "@" + start.Format(time.RFC3339),
			Title:         title,
			URL:           link,
			Source:        model.SourceEpic,
			AnnouncedAt:   start,
			Description:   el.Description,
			ImageURL:      epicThumbnail(el),
			OriginalPrice: "$" + decimal.New(el.Price.TotalPrice.OriginalPrice, -2).StringFixed(2),
			EndsAt:        end,
		})
	}
	return offers, nil
}

// currentPromotion returns the first promotional window if now lies inside it.
func currentPromotion(el epicElement, now time.Time) (time.Time, time.Time, bool) {
	if el.Promotions == nil || len(el.Promotions.PromotionalOffers) == 0 {
		return time.Time{}, time.Time{}, false
	}
	inner := el.Promotions.PromotionalOffers[0].PromotionalOffers
	if len(inner) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, inner[0].StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, inner[0].EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	start, end = start.UTC(), end.UTC()
	if now.Before(start) || now.After(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func epicThumbnail(el epicElement) string {
	for _, img := range el.KeyImages {
		if img.Type == "Thumbnail" {
			return img.URL
		}
	}
	if len(el.KeyImages) > 0 {
		return el.KeyImages[0].URL
	}
	return ""
}
