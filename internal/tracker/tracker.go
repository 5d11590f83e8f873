// Package tracker evaluates price tracking subscriptions and fires one-shot
// alerts when their condition is met.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gameclaim/internal/delivery"
	"gameclaim/internal/metrics"
	"gameclaim/internal/model"
	"gameclaim/internal/storage"
)

// PriceSource returns the live price picture of a game.
type PriceSource interface {
	FetchGameDeals(ctx context.Context, gameID string) (*model.GameDeals, error)
}

// Evaluate decides whether a subscription in mode fires for gd. It returns
// the first qualifying deal in source order.
//
// All-time-low fires on a deal priced at or below the recorded low that also
// carries a discount. Sale fires on any discounted deal.
func Evaluate(mode model.TrackMode, gd *model.GameDeals) (model.Deal, bool) {
	if gd == nil {
		return model.Deal{}, false
	}
	for _, d := range gd.Deals {
		if !d.SavingsPercent.IsPositive() {
			continue
		}
		switch mode {
		case model.TrackAllTimeLow:
			if gd.HasAllTimeLow && d.Price.LessThanOrEqual(gd.AllTimeLow) {
				return d, true
			}
		case model.TrackSale:
			return d, true
		}
	}
	return model.Deal{}, false
}

// CycleResult counts what one evaluation cycle did.
type CycleResult struct {
	Checked int
	Fired   int
	Removed int
	Errors  int
}

// Tracker owns the active subscriptions.
type Tracker struct {
	store   storage.Trackings
	prices  PriceSource
	sink    delivery.Sink
	metrics *metrics.Metrics
	log     *slog.Logger

	cycle sync.Mutex
	subMu sync.Mutex
}

// New creates a Tracker. m may be nil.
func New(store storage.Trackings, prices PriceSource, sink delivery.Sink, m *metrics.Metrics, log *slog.Logger) *Tracker {
	return &Tracker{store: store, prices: prices, sink: sink, metrics: m, log: log}
}

// Subscribe persists sub. A non-privileged user keeps at most one
// subscription: the existing ones are swapped out in the same transaction.
func (t *Tracker) Subscribe(ctx context.Context, sub *model.TrackingSubscription, privileged bool) (replaced []model.TrackingSubscription, err error) {
	if !sub.Mode.Valid() {
		return nil, fmt.Errorf("invalid tracking mode %q", sub.Mode)
	}

	t.subMu.Lock()
	defer t.subMu.Unlock()

	if privileged {
		err = t.store.CreateTracking(ctx, sub)
	} else {
		replaced, err = t.store.ReplaceTrackings(ctx, sub)
	}
	if err != nil {
		return nil, fmt.Errorf("create tracking: %w", err)
	}
	t.log.Info("tracking created",
		"user_id", sub.UserID,
		"tracking_id", sub.ID,
		"game_id", sub.GameID,
		"mode", sub.Mode,
		"replaced", len(replaced),
	)
	return replaced, nil
}

// Cancel removes a subscription owned by userID.
func (t *Tracker) Cancel(ctx context.Context, userID string, id int64) error {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	sub, err := t.store.GetTracking(ctx, id)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return storage.ErrNotFound
	}
	if err := t.store.DeleteTracking(ctx, id); err != nil {
		return fmt.Errorf("delete tracking: %w", err)
	}
	t.log.Info("tracking cancelled", "user_id", userID, "tracking_id", id)
	return nil
}

// List returns the subscriptions of one user.
func (t *Tracker) List(ctx context.Context, userID string) ([]model.TrackingSubscription, error) {
	return t.store.ListTrackingsForUser(ctx, userID)
}

// RunCycle evaluates every active subscription once. Overlapping calls
// return immediately.
func (t *Tracker) RunCycle(ctx context.Context) CycleResult {
	var res CycleResult
	if !t.cycle.TryLock() {
		t.log.Warn("tracker cycle already running")
		return res
	}
	defer t.cycle.Unlock()

	subs, err := t.store.ListTrackings(ctx)
	if err != nil {
		t.log.Error("list trackings", "error", err)
		res.Errors++
		return res
	}
	if len(subs) == 0 {
		return res
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		t.evaluate(ctx, sub, &res)
	}

	t.log.Info("tracker cycle",
		"checked", res.Checked,
		"fired", res.Fired,
		"removed", res.Removed,
		"errors", res.Errors,
	)
	return res
}

func (t *Tracker) evaluate(ctx context.Context, sub model.TrackingSubscription, res *CycleResult) {
	log := t.log.With("tracking_id", sub.ID, "user_id", sub.UserID, "game_id", sub.GameID)

	gd, err := t.prices.FetchGameDeals(ctx, sub.GameID)
	if err != nil {
		log.Warn("fetch game deals", "error", err)
		res.Errors++
		return
	}

	deal, ok := Evaluate(sub.Mode, gd)
	if !ok {
		return
	}
	res.Fired++
	t.metrics.TrackerFired(string(sub.Mode))

	ch, err := t.sink.Parse(delivery.Target{Platform: model.PlatformDiscord, ChannelID: sub.ChannelID})
	if err == nil {
		ch, err = t.sink.Resolve(ctx, ch)
	}
	if err != nil {
		if !delivery.Unreachable(err) {
			// Transient lookup failure: keep the subscription for the next cycle.
			log.Error("resolve tracking channel", "error", err)
			res.Errors++
			return
		}
		log.Warn("tracking channel unreachable; removing subscription", "channel_id", sub.ChannelID, "error", err)
		t.remove(ctx, log, sub, res)
		return
	}

	if err := t.sink.Send(ctx, ch, delivery.FormatTrackAlert(sub, gd, deal)); err != nil {
		log.Error("send tracking alert", "error", err)
		res.Errors++
	} else {
		log.Info("tracking alert sent", "store_id", deal.StoreID, "price", deal.Price.String())
	}
	t.remove(ctx, log, sub, res)
}

func (t *Tracker) remove(ctx context.Context, log *slog.Logger, sub model.TrackingSubscription, res *CycleResult) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	if err := t.store.DeleteTracking(ctx, sub.ID); err != nil {
		log.Error("delete fired tracking", "error", err)
		res.Errors++
		return
	}
	res.Removed++
}
