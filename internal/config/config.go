package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot. Loaded once at process start
// and passed explicitly into every component.
type Config struct {
	// Spot API
	APIKey    string
	APISecret string
	APIURL    string

	// USD-M futures API
	FuturesAPIKey    string
	FuturesAPISecret string
	FuturesAPIURL    string

	// Telegram ingestion
	TelegramToken     string
	TelegramChannelID int64

	// Lifecycle engine
	OrderSize        decimal.Decimal // quote-currency notional per spot trade
	FuturesOrderSize decimal.Decimal // quote-currency notional per futures trade
	Leverage         int
	QuoteAsset       string
	OrderExpiry      time.Duration // resting order age before the cull
	StepInterval     time.Duration // sleep between polling cycles
	TargetIndex      int           // take-profit target used for exits
	ViabilityIndex   int           // target bounding the viability window
	Lookback         time.Duration // how far back unseen signals are considered
	UnseenLimit      int
	DedupWindow      time.Duration

	// Database
	DatabasePath string

	Debug bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:    os.Getenv("API_KEY"),
		APISecret: os.Getenv("API_SECRET"),
		APIURL:    getEnv("API_URL", "https://api.binance.com"),

		FuturesAPIKey:    os.Getenv("FUTURES_API_KEY"),
		FuturesAPISecret: os.Getenv("FUTURES_API_SECRET"),
		FuturesAPIURL:    getEnv("FUTURES_API_URL", "https://fapi.binance.com"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		OrderSize:        getEnvDecimal("ORDER_SIZE", decimal.NewFromInt(100)),
		FuturesOrderSize: getEnvDecimal("FUTURES_ORDER_SIZE", decimal.NewFromInt(1000)),
		Leverage:         getEnvInt("LEVERAGE", 10),
		QuoteAsset:       getEnv("QUOTE_ASSET", "USDT"),
		OrderExpiry:      getEnvDuration("ORDER_EXPIRY", 24*time.Hour),
		StepInterval:     getEnvDuration("STEP_INTERVAL", 10*time.Second),
		TargetIndex:      getEnvInt("TARGET_INDEX", 3),
		ViabilityIndex:   getEnvInt("VIABILITY_TARGET_INDEX", 0),
		Lookback:         getEnvDuration("LOOKBACK", 12*time.Hour),
		UnseenLimit:      getEnvInt("UNSEEN_LIMIT", 100),
		DedupWindow:      getEnvDuration("DEDUP_WINDOW", 5*time.Minute),

		DatabasePath: getEnv("DATABASE_PATH", "data/signaloor.db"),

		Debug: getEnvBool("DEBUG", false),
	}

	if channelID := os.Getenv("TELEGRAM_CHANNEL_ID"); channelID != "" {
		id, err := strconv.ParseInt(channelID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHANNEL_ID: %w", err)
		}
		cfg.TelegramChannelID = id
	}

	if cfg.OrderSize.Sign() <= 0 {
		return nil, fmt.Errorf("ORDER_SIZE must be positive")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
