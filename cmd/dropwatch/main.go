package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dropwatch/internal/api"
	"github.com/mcdev12/dropwatch/internal/config"
	"github.com/mcdev12/dropwatch/internal/coordinator"
	"github.com/mcdev12/dropwatch/internal/expiry"
	"github.com/mcdev12/dropwatch/internal/notify"
	"github.com/mcdev12/dropwatch/internal/realtime"
	"github.com/mcdev12/dropwatch/internal/reservation"
	"github.com/mcdev12/dropwatch/internal/stockcache"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(os.Getenv("DROPWATCH_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

	clock := clockwork.NewRealClock()

	client := api.NewClient(cfg.API.BaseURL)
	client.SetTimeout(cfg.API.Timeout)
	if token := os.Getenv("DROPWATCH_TOKEN"); token != "" {
		client.SetToken(token)
	}

	cache := stockcache.New()
	store := reservation.NewStore()
	sched := expiry.NewScheduler(clock)
	lifecycle := reservation.NewLifecycle(client, store, sched)

	channel := realtime.New(realtime.Config{
		URL:                   cfg.Socket.URL,
		HandshakeTimeout:      cfg.Socket.HandshakeTimeout,
		PingInterval:          cfg.Socket.PingInterval,
		WriteTimeout:          cfg.Socket.HandshakeTimeout,
		ReconnectInitialDelay: cfg.Socket.ReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.Socket.ReconnectMaxDelay,
		ReconnectMaxAttempts:  cfg.Socket.ReconnectMaxAttempts,
	}, clock)

	coord := coordinator.New(coordinator.Config{
		API:       client,
		Cache:     cache,
		Store:     store,
		Lifecycle: lifecycle,
		Channel:   channel,
		Scheduler: sched,
		Notifier:  notify.Log{},
	})

	// Stand-in for the render layer: log the catalog on every change.
	unsubscribe := cache.Subscribe(func() {
		for _, d := range cache.List() {
			log.Debug().
				Str("drop_id", d.ID).
				Str("name", d.Name).
				Int("stock", d.Stock).
				Int("initial_stock", d.InitialStock).
				Msg("drop")
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start coordinator")
	}
	log.Info().Str("api", cfg.API.BaseURL).Str("socket", cfg.Socket.URL).Msg("dropwatch running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	coord.Stop()
	channel.Close()
}
