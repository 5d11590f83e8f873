// Package model defines the domain types used across the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the marketplace an offer was observed on.
type Source string

// Supported offer sources.
const (
	SourceEpic  Source = "epic"
	SourceSteam Source = "steam"
	SourceOther Source = "other"
)

// Offer is a normalized free or discounted game event.
type Offer struct {
	// Key is stable for one promotion and distinct across promotions. It is the dedup key.
	Key         string
	Title       string
	URL         string
	Source      Source
	AnnouncedAt time.Time

	Description   string
	ImageURL      string
	OriginalPrice string
	EndsAt        time.Time
}

// Platform is the chat platform a destination lives on.
type Platform string

// Supported platforms.
const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// PingEveryone is the ping target sentinel that mentions everyone in the guild.
const PingEveryone = "everyone"

// Destination is the notification target configured for one guild.
type Destination struct {
	GuildID     string
	ChannelID   string
	Platform    Platform
	PingTargets []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationRecord is a dedup ledger entry: one offer already delivered to one guild.
type NotificationRecord struct {
	GuildID     string
	OfferKey    string
	Title       string
	URL         string
	AnnouncedAt time.Time
	// NotifiedAt is when the delivery happened. Retention is measured from it.
	NotifiedAt time.Time
}

// TrackMode selects the trigger condition of a price tracking subscription.
type TrackMode string

// Supported tracking modes.
const (
	TrackSale       TrackMode = "sale"
	TrackAllTimeLow TrackMode = "atl"
)

// Valid reports whether m is a known tracking mode.
func (m TrackMode) Valid() bool {
	return m == TrackSale || m == TrackAllTimeLow
}

// Label returns a human-readable name of the mode.
func (m TrackMode) Label() string {
	if m == TrackAllTimeLow {
		return "all-time low"
	}
	return "any sale"
}

// TrackingSubscription is a user's one-shot price watch.
type TrackingSubscription struct {
	ID        int64
	UserID    string
	ChannelID string
	GameID    string
	GameName  string
	Mode      TrackMode
	CreatedAt time.Time
}

// CandidateGame is one result of a catalog search.
type CandidateGame struct {
	GameID   string
	Title    string
	Thumb    string
	Cheapest decimal.Decimal
}

// Deal is a current store listing of a game.
type Deal struct {
	StoreID        string
	DealID         string
	Price          decimal.Decimal
	RetailPrice    decimal.Decimal
	SavingsPercent decimal.Decimal
}

// GameDeals is the price picture of one game.
type GameDeals struct {
	GameID        string
	Title         string
	Thumb         string
	AllTimeLow    decimal.Decimal
	HasAllTimeLow bool
	Deals         []Deal
}
