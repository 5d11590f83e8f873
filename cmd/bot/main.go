package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gameclaim/internal/config"
	"gameclaim/internal/delivery"
	"gameclaim/internal/discord"
	"gameclaim/internal/dispatch"
	"gameclaim/internal/fetcher"
	"gameclaim/internal/filter"
	"gameclaim/internal/metrics"
	"gameclaim/internal/model"
	"gameclaim/internal/pricing"
	"gameclaim/internal/scheduler"
	"gameclaim/internal/server"
	"gameclaim/internal/session"
	"gameclaim/internal/storage"
	"gameclaim/internal/telegram"
	"gameclaim/internal/tracker"
)

const (
	httpTimeout   = 30 * time.Second
	sweepInterval = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	store, err := openStore(cfg)
	if err != nil {
		log.Error("open database", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()
	store.SetOpTimeout(cfg.StoreTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	httpClient := &http.Client{Timeout: httpTimeout}
	f := fetcher.New(httpClient)
	sources := []fetcher.Source{fetcher.NewEpicSource(f), fetcher.NewGamerPowerSource(f)}
	if len(cfg.FeedURLs) > 0 {
		rules, err := filter.Parse(cfg.FeedInclude, cfg.FeedExclude)
		if err != nil {
			log.Error("parse feed rules", "error", err)
			os.Exit(1)
		}
		sources = append(sources, fetcher.NewFeedSource(f, cfg.FeedURLs, rules, log))
	}
	prices := pricing.NewClient(f)
	currencies := pricing.NewConverter(f, log)

	router := delivery.NewRouter()
	dispatcher := dispatch.New(store, store, router, m, log)
	broadcaster := dispatch.NewBroadcaster(store, router, cfg.BroadcastConcurrency, log)
	trk := tracker.New(store, prices, router, m, log)
	sessions := session.NewManager(prices, trk, cfg.SessionTimeout, m, log)

	dc, err := discord.New(cfg.DiscordBotToken, discord.Deps{
		Registry:    store,
		Sources:     sources,
		Catalog:     prices,
		Currencies:  currencies,
		Trackings:   trk,
		Sessions:    sessions,
		Broadcaster: broadcaster,
		IsOwner:     cfg.IsOwner,
	}, log)
	if err != nil {
		log.Error("create discord bot", "error", err)
		os.Exit(1)
	}
	router.Register(model.PlatformDiscord, dc.Sink())

	var tg *telegram.Bot
	if cfg.TelegramBotToken != "" {
		tg, err = telegram.New(cfg.TelegramBotToken, store, sources, log)
		if err != nil {
			log.Error("create telegram bot", "error", err)
			os.Exit(1)
		}
		router.Register(model.PlatformTelegram, tg.Sink())
	}

	sched := scheduler.New(m, log)
	if err := addJobs(sched, cfg, sources, dispatcher, trk, sessions); err != nil {
		log.Error("register jobs", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "driver", cfg.DatabaseDriver, "sources", len(sources), "telegram", tg != nil)

	if err := dc.Start(); err != nil {
		log.Error("start discord bot", "error", err)
		os.Exit(1)
	}
	defer func() { _ = dc.Stop() }()

	if tg != nil {
		go tg.Run(ctx)
	}
	if cfg.HTTPAddr != "" {
		srv := server.New(cfg.HTTPAddr, server.NewRouter(store, sched, reg, log), log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("ops server", "error", err)
			}
		}()
	}

	sched.Start(ctx)
	<-ctx.Done()

	log.Info("shutting down")
	sched.StopAll()
	log.Info("bot stopped")
}

func openStore(cfg *config.Config) (*storage.SQL, error) {
	if cfg.DatabaseDriver == config.DriverPostgres {
		return storage.NewPostgres(cfg.DatabaseURL)
	}
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return storage.NewSQLite(cfg.DatabasePath)
}

func addJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	sources []fetcher.Source,
	d *dispatch.Dispatcher,
	trk *tracker.Tracker,
	sessions *session.Manager,
) error {
	jobs := make([]scheduler.Job, 0, len(sources)+3)
	for _, src := range sources {
		jobs = append(jobs, scheduler.Job{
			Name:       "offers:" + src.Name(),
			Interval:   cfg.OfferPollInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				d.PollSource(ctx, src)
				return nil
			},
		})
	}
	jobs = append(jobs,
		scheduler.Job{
			Name:     "tracker",
			Interval: cfg.PriceCheckInterval,
			Run: func(ctx context.Context) error {
				if res := trk.RunCycle(ctx); res.Errors > 0 {
					return fmt.Errorf("%d of %d subscriptions failed", res.Errors, res.Checked)
				}
				return nil
			},
		},
		scheduler.Job{
			Name:       "ledger:purge",
			Interval:   cfg.LedgerPurgeInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := d.PurgeLedger(ctx, cfg.LedgerRetention)
				return err
			},
		},
		scheduler.Job{
			Name:     "sessions:sweep",
			Interval: sweepInterval,
			Run: func(context.Context) error {
				sessions.Sweep()
				return nil
			},
		},
	)

	var errs []error
	for _, j := range jobs {
		errs = append(errs, sched.Add(j))
	}
	return errors.Join(errs...)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
