// Package pricing talks to the CheapShark deals API and converts USD prices
// into other currencies.
package pricing

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"gameclaim/internal/fetcher"
	"gameclaim/internal/model"
)

// CheapSharkURL is the base of the CheapShark API.
const CheapSharkURL = "https://www.cheapshark.com/api/1.0"

// RedirectURL returns the CheapShark redirect link for a deal.
func RedirectURL(dealID string) string {
	return "https://www.cheapshark.com/redirect?dealID=" + url.QueryEscape(dealID)
}

var storeNames = map[string]string{
	"1":  "Steam",
	"2":  "GamersGate",
	"3":  "GreenManGaming",
	"4":  "Amazon",
	"5":  "GameStop",
	"6":  "Direct2Drive",
	"7":  "GOG",
	"8":  "Origin",
	"11": "Humble Store",
	"13": "Uplay",
	"15": "Fanatical",
	"25": "Epic Games",
}

// StoreName returns a display name for a CheapShark store id.
func StoreName(id string) string {
	if n, ok := storeNames[id]; ok {
		return n
	}
	return "Store " + id
}

// Client is a CheapShark API client.
type Client struct {
	f       *fetcher.Fetcher
	base    string
	timeout time.Duration
}

// NewClient creates a CheapShark client on top of f.
func NewClient(f *fetcher.Fetcher) *Client {
	return &Client{f: f, base: CheapSharkURL, timeout: 10 * time.Second}
}

type searchResult struct {
	GameID   string `json:"gameID"`
	Cheapest string `json:"cheapest"`
	External string `json:"external"`
	Thumb    string `json:"thumb"`
}

type gameDetails struct {
	Info struct {
		Title string `json:"title"`
		Thumb string `json:"thumb"`
	} `json:"info"`
	CheapestPriceEver *struct {
		Price string `json:"price"`
	} `json:"cheapestPriceEver"`
	Deals []struct {
		StoreID     string `json:"storeID"`
		DealID      string `json:"dealID"`
		Price       string `json:"price"`
		RetailPrice string `json:"retailPrice"`
		Savings     string `json:"savings"`
	} `json:"deals"`
}

// SearchGames returns up to limit catalog matches for query in source order.
func (c *Client) SearchGames(ctx context.Context, query string, limit int) ([]model.CandidateGame, error) {
	q := url.Values{}
	q.Set("title", query)
	q.Set("limit", strconv.Itoa(limit))

	var results []searchResult
	if err := c.getJSON(ctx, "/games?"+q.Encode(), &results); err != nil {
		return nil, fmt.Errorf("search games: %w", err)
	}

	out := make([]model.CandidateGame, 0, len(results))
	for _, r := range results {
		if r.GameID == "" {
			continue
		}
		out = append(out, model.CandidateGame{
			GameID:   r.GameID,
			Title:    r.External,
			Thumb:    r.Thumb,
			Cheapest: parseDecimal(r.Cheapest),
		})
	}
	return out, nil
}

// FetchGameDeals returns the all-time low and current deals of a game.
// Deals keep the order the API returned them in.
func (c *Client) FetchGameDeals(ctx context.Context, gameID string) (*model.GameDeals, error) {
	q := url.Values{}
	q.Set("id", gameID)

	var d gameDetails
	if err := c.getJSON(ctx, "/games?"+q.Encode(), &d); err != nil {
		return nil, fmt.Errorf("fetch game deals: %w", err)
	}

	gd := &model.GameDeals{
		GameID: gameID,
		Title:  d.Info.Title,
		Thumb:  d.Info.Thumb,
	}
	if d.CheapestPriceEver != nil && d.CheapestPriceEver.Price != "" {
		if p, err := decimal.NewFromString(d.CheapestPriceEver.Price); err == nil {
			gd.AllTimeLow = p
			gd.HasAllTimeLow = true
		}
	}
	for _, deal := range d.Deals {
		gd.Deals = append(gd.Deals, model.Deal{
			StoreID:        deal.StoreID,
			DealID:         deal.DealID,
			Price:          parseDecimal(deal.Price),
			RetailPrice:    parseDecimal(deal.RetailPrice),
			SavingsPercent: parseDecimal(deal.Savings),
		})
	}
	return gd, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.f.GetJSON(ctx, c.base+path, v)
}

// parseDecimal degrades missing or malformed values to zero.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
