// Package ingest listens to a Telegram signal channel and turns its posts
// into persisted trades. Posts announcing a setup are parsed and stored;
// replies in which the channel reports an outcome flag the original trade so
// the engine stops considering it fresh.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"signaloor/internal/config"
	"signaloor/internal/signal"
	"signaloor/internal/storage"
)

// outcomeMarkers are the phrases the channel posts as a reply once a signal
// resolved one way or the other. Matching is case-insensitive.
var outcomeMarkers = []string{
	"take-profit number",
	"all take-profit targets achieved",
	"cancelled",
}

// Listener consumes channel posts from one Telegram channel.
type Listener struct {
	bot    *tgbotapi.BotAPI
	store  *storage.Store
	parser *signal.Parser
	cfg    *config.Config
}

// NewListener authenticates the bot and returns the listener.
func NewListener(cfg *config.Config, store *storage.Store) (*Listener, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	log.Info().Str("account", bot.Self.UserName).Msg("📡 Authenticated with Telegram")

	return &Listener{
		bot:    bot,
		store:  store,
		parser: signal.NewParser(),
		cfg:    cfg,
	}, nil
}

// Run consumes channel posts until the context is cancelled.
func (l *Listener) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := l.bot.GetUpdatesChan(u)

	log.Info().Int64("channel", l.cfg.TelegramChannelID).Msg("🚀 Listening for signals")

	for {
		select {
		case <-ctx.Done():
			l.bot.StopReceivingUpdates()
			log.Info().Msg("Listener stopped")
			return
		case update := <-updates:
			if update.ChannelPost == nil {
				continue
			}
			l.process(update.ChannelPost)
		}
	}
}

func (l *Listener) process(msg *tgbotapi.Message) {
	if l.cfg.TelegramChannelID != 0 && msg.Chat.ID != l.cfg.TelegramChannelID {
		return
	}

	if msg.ReplyToMessage != nil {
		l.handleOutcome(int64(msg.ReplyToMessage.MessageID), msg.Text)
		return
	}
	l.handleSignal(int64(msg.MessageID), msg.Text, msg.Time())
}

// handleSignal parses a setup post and stores the trade. Posts without a
// setup line and posts that fail to parse are dropped quietly; the channel
// mixes signals with commentary.
func (l *Listener) handleSignal(messageID int64, text string, ts time.Time) {
	if !strings.Contains(strings.ToLower(text), "setup") {
		return
	}

	trade, err := l.parser.Parse(messageID, text, ts)
	if err != nil {
		if errors.Is(err, signal.ErrParse) {
			log.Debug().Err(err).Int64("message", messageID).Msg("Skipping unparseable post")
			return
		}
		log.Error().Err(err).Int64("message", messageID).Msg("Could not parse post")
		return
	}

	if err := l.store.InsertTrade(trade, l.cfg.DedupWindow); err != nil {
		if errors.Is(err, storage.ErrDuplicateSignal) {
			log.Debug().Int64("message", messageID).Str("symbol", trade.Symbol).Msg("Skipping duplicate signal")
			return
		}
		log.Error().Err(err).Int64("message", messageID).Msg("Could not store trade")
		return
	}

	log.Info().
		Int64("message", messageID).
		Str("symbol", trade.Symbol).
		Str("side", trade.Side).
		Msg("📨 Stored new signal")
}

// handleOutcome flags the replied-to trade when the channel reports it
// resolved. An unknown referent is normal: the outcome may predate the bot.
func (l *Listener) handleOutcome(signalMessageID int64, text string) {
	lower := strings.ToLower(text)
	matched := false
	for _, marker := range outcomeMarkers {
		if strings.Contains(lower, marker) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	err := l.store.MarkBragged(signalMessageID)
	switch {
	case err == nil:
		log.Info().Int64("message", signalMessageID).Msg("🏁 Signal reported resolved")
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Debug().Int64("message", signalMessageID).Msg("Outcome for unknown signal")
	default:
		log.Error().Err(err).Int64("message", signalMessageID).Msg("Could not flag trade")
	}
}
