// Futoor - USD-M futures half of the signal trading bot.
//
// Same lifecycle as spotoor, but entries are leveraged isolated-margin
// positions and every fill is bracketed with reduce-only stop-market and
// take-profit-market orders triggered off the mark price.
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
		Str("order_size", cfg.FuturesOrderSize.String()).
		Int("leverage", cfg.Leverage).
		Msg("⚡ futoor starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Live mark-adjacent price cache; REST premium index is the fallback.
	stream := exchange.NewPriceStream(exchange.FuturesStreamURL)
	stream.Start()
	defer stream.Stop()
	log.Info().Msg("📈 Price stream connected")

	client := exchange.NewFuturesClient(cfg.FuturesAPIURL, cfg.FuturesAPIKey, cfg.FuturesAPISecret, stream)
	executor := engine.NewFuturesExecutor(client, store, cfg)

	go engine.New(store, executor, cfg, cfg.FuturesOrderSize).Run(ctx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	cancel()
}
