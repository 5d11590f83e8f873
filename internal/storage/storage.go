// Package storage defines the persistence interfaces and their SQL implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"gameclaim/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Registry persists the per-guild notification destinations.
type Registry interface {
	ListDestinations(ctx context.Context) ([]model.Destination, error)
	GetDestination(ctx context.Context, guildID string) (*model.Destination, error)
	UpsertDestination(ctx context.Context, d *model.Destination) error
	DeleteDestination(ctx context.Context, guildID string) error
}

// Ledger is the dedup authority for delivered offers.
type Ledger interface {
	IsNotified(ctx context.Context, guildID, offerKey string) (bool, error)
	// RecordNotified inserts a record and reports whether it was new.
	// An existing (guild, offer) pair is not an error.
	RecordNotified(ctx context.Context, rec model.NotificationRecord) (bool, error)
	PurgeNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Trackings persists price tracking subscriptions.
type Trackings interface {
	ListTrackings(ctx context.Context) ([]model.TrackingSubscription, error)
	ListTrackingsForUser(ctx context.Context, userID string) ([]model.TrackingSubscription, error)
	GetTracking(ctx context.Context, id int64) (*model.TrackingSubscription, error)
	CreateTracking(ctx context.Context, sub *model.TrackingSubscription) error
	// ReplaceTrackings atomically swaps all of a user's subscriptions for sub.
	ReplaceTrackings(ctx context.Context, sub *model.TrackingSubscription) ([]model.TrackingSubscription, error)
	DeleteTracking(ctx context.Context, id int64) error
}

// Storage is the interface for all persistence operations.
type Storage interface {
	Registry
	Ledger
	Trackings

	Ping(ctx context.Context) error
	Close() error
}
