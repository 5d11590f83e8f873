package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"gameclaim/internal/delivery"
	"gameclaim/internal/storage"
)

// Broadcaster posts one message to every destination with bounded
// parallelism. It bypasses the dedup ledger.
type Broadcaster struct {
	registry storage.Registry
	sink     delivery.Sink
	limit    int
	log      *slog.Logger
}

// NewBroadcaster creates a Broadcaster sending to at most limit destinations at once.
func NewBroadcaster(registry storage.Registry, sink delivery.Sink, limit int, log *slog.Logger) *Broadcaster {
	if limit < 1 {
		limit = 1
	}
	return &Broadcaster{registry: registry, sink: sink, limit: limit, log: log}
}

// Broadcast sends msg to all destinations and reports how many succeeded.
func (b *Broadcaster) Broadcast(ctx context.Context, msg delivery.Message) (sent, total int) {
	dests, err := b.registry.ListDestinations(ctx)
	if err != nil {
		b.log.Error("list destinations", "error", err)
		return 0, 0
	}

	var ok atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for _, dest := range dests {
		g.Go(func() error {
			log := b.log.With("guild_id", dest.GuildID, "channel_id", dest.ChannelID)
			ch, err := b.sink.Parse(delivery.Target{Platform: dest.Platform, GuildID: dest.GuildID, ChannelID: dest.ChannelID})
			if err != nil {
				log.Warn("invalid destination channel", "error", err)
				return nil
			}
			ch, err = b.sink.Resolve(gctx, ch)
			if err != nil {
				log.Warn("destination unreachable", "error", err)
				return nil
			}
			if err := b.sink.Send(gctx, ch, msg); err != nil {
				log.Error("broadcast send", "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sent, total = int(ok.Load()), len(dests)
	b.log.Info("broadcast summary", "succeeded", sent, "total", total)
	return sent, total
}
