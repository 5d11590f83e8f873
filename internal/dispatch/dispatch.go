// Package dispatch fans offers out to every configured destination exactly
// once per (guild, offer) pair, and broadcasts announcements.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gameclaim/internal/delivery"
	"gameclaim/internal/fetcher"
	"gameclaim/internal/metrics"
	"gameclaim/internal/model"
	"gameclaim/internal/storage"
)

// Summary counts per-destination outcomes of one dispatch.
type Summary struct {
	Succeeded int
	Skipped   int
	Duplicate int
	Failed    int
	Total     int
}

// Add accumulates another summary.
func (s *Summary) Add(o Summary) {
	s.Succeeded += o.Succeeded
	s.Skipped += o.Skipped
	s.Duplicate += o.Duplicate
	s.Failed += o.Failed
	s.Total += o.Total
}

// Dispatcher delivers offers to destinations and records them in the ledger.
type Dispatcher struct {
	registry storage.Registry
	ledger   storage.Ledger
	sink     delivery.Sink
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Dispatcher. m may be nil.
func New(registry storage.Registry, ledger storage.Ledger, sink delivery.Sink, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		ledger:   ledger,
		sink:     sink,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Dispatch delivers one offer to every destination that has not seen it yet.
// Destinations are read fresh on every call. A failure for one destination
// never stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, offer model.Offer) Summary {
	dests, err := d.registry.ListDestinations(ctx)
	if err != nil {
		d.log.Error("list destinations", "offer_key", offer.Key, "error", err)
		return Summary{}
	}
	if len(dests) == 0 {
		d.log.Debug("no destinations configured", "offer_key", offer.Key)
		return Summary{}
	}

	msg := delivery.FormatOffer(offer, d.now())
	sum := Summary{Total: len(dests)}
	for _, dest := range dests {
		if ctx.Err() != nil {
			break
		}
		switch d.deliver(ctx, offer, dest, msg) {
		case outcomeSent:
			sum.Succeeded++
		case outcomeDuplicate:
			sum.Duplicate++
		case outcomeSkipped:
			sum.Skipped++
		case outcomeFailed:
			sum.Failed++
		}
	}

	d.log.Info("dispatch summary",
		"offer_key", offer.Key,
		"source", offer.Source,
		"succeeded", sum.Succeeded,
		"total", sum.Total,
		"duplicate", sum.Duplicate,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeDuplicate
	outcomeSkipped
	outcomeFailed
)

func (d *Dispatcher) deliver(ctx context.Context, offer model.Offer, dest model.Destination, msg delivery.Message) outcome {
	source := string(offer.Source)
	log := d.log.With("guild_id", dest.GuildID, "channel_id", dest.ChannelID, "offer_key", offer.Key)

	ch, err := d.sink.Parse(delivery.Target{Platform: dest.Platform, GuildID: dest.GuildID, ChannelID: dest.ChannelID})
	if err != nil {
		log.Warn("invalid destination channel", "error", err)
		d.metrics.Delivery(source, metrics.ResultSkipped)
		return outcomeSkipped
	}

	seen, err := d.ledger.IsNotified(ctx, dest.GuildID, offer.Key)
	if err != nil {
		// Without a ledger answer delivery could duplicate; retry next cycle.
		log.Error("check ledger", "error", err)
		d.metrics.Delivery(source, metrics.ResultFailed)
		return outcomeFailed
	}
	if seen {
		log.Debug("already notified")
		d.metrics.Delivery(source, metrics.ResultDuplicate)
		return outcomeDuplicate
	}

	ch, err = d.sink.Resolve(ctx, ch)
	if err != nil {
		if delivery.Unreachable(err) {
			log.Warn("destination unreachable", "error", err)
		} else {
			log.Error("resolve destination", "error", err)
		}
		d.metrics.Delivery(source, metrics.ResultSkipped)
		return outcomeSkipped
	}

	msg.Mention = delivery.MentionPrefix(dest.GuildID, dest.PingTargets)
	if err := d.sink.Send(ctx, ch, msg); err != nil {
		log.Error("deliver offer", "error", err)
		d.metrics.Delivery(source, metrics.ResultFailed)
		return outcomeFailed
	}

	_, err = d.ledger.RecordNotified(ctx, model.NotificationRecord{
		GuildID:     dest.GuildID,
		OfferKey:    offer.Key,
		Title:       offer.Title,
		URL:         offer.URL,
		AnnouncedAt: offer.AnnouncedAt,
		NotifiedAt:  d.now(),
	})
	if err != nil {
		log.Warn("ledger write failed after delivery; possible duplicate", "risk", "duplicate", "error", err)
		d.metrics.Delivery(source, metrics.ResultLedgerError)
		return outcomeSent
	}
	d.metrics.Delivery(source, metrics.ResultSent)
	return outcomeSent
}

// PollSource fetches the current offers of src and dispatches each of them.
// A fetch failure counts as zero offers.
func (d *Dispatcher) PollSource(ctx context.Context, src fetcher.Source) Summary {
	offers, err := src.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.log.Error("fetch offers", "source", src.Name(), "error", err)
			d.metrics.FetchError(src.Name())
		}
		return Summary{}
	}

	var total Summary
	for _, o := range offers {
		if ctx.Err() != nil {
			break
		}
		total.Add(d.Dispatch(ctx, o))
	}
	d.log.Debug("poll complete", "source", src.Name(), "offers", len(offers), "succeeded", total.Succeeded)
	return total
}

// PurgeLedger drops ledger records delivered more than retention ago.
func (d *Dispatcher) PurgeLedger(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := d.ledger.PurgeNotifiedBefore(ctx, d.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	d.metrics.LedgerPurged(n)
	d.log.Info("ledger purged", "removed", n, "retention", retention)
	return n, nil
}
