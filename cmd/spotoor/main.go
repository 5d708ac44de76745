// Spotoor - spot-market half of the signal trading bot.
//
// Reads trades the listener persisted, opens limit buys for viable ones,
// places take-profit sells once entries fill, and polices expiry and
// stop-losses every cycle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"signaloor/internal/config"
	"signaloor/internal/engine"
	"signaloor/internal/exchange"
	"signaloor/internal/storage"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("order_size", cfg.OrderSize.String()).
		Msg("⚡ spotoor starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Live price cache; REST is the fallback while it warms up.
	stream := exchange.NewPriceStream(exchange.DefaultStreamURL)
	stream.Start()
	defer stream.Stop()
	log.Info().Msg("📈 Price stream connected")

	client := exchange.NewSpotClient(cfg.APIURL, cfg.APIKey, cfg.APISecret, stream)
	executor := engine.NewSpotExecutor(client, store, cfg)

	go engine.New(store, executor, cfg, cfg.OrderSize).Run(ctx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	cancel()
}
