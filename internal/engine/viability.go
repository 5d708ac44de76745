package engine

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"signaloor/internal/models"
)

// viable reports whether the current market price still sits inside the
// band spanned by the signal's stop-loss and its reference target. A price
// outside that band means the setup already played out (or blew through its
// stop) before the engine got to it, and the signal is stale.
func (e *Engine) viable(ctx context.Context, trade *models.Trade) bool {
	price, err := e.exec.Price(ctx, trade.Symbol)
	if err != nil {
		log.Error().Err(err).
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Msg("Could not get price")
		return false
	}

	reference := trade.Target(e.cfg.ViabilityIndex)
	lower := decimal.Min(trade.StopLoss, reference)
	upper := decimal.Max(trade.StopLoss, reference)

	if price.LessThan(lower) || price.GreaterThan(upper) {
		log.Debug().
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Str("price", price.String()).
			Str("lower", lower.String()).
			Str("upper", upper.String()).
			Msg("Skipping non-viable trade")
		return false
	}
	return true
}
