// Package engine is the trade lifecycle engine: the state machine and
// polling loop that open viable trades, place exits once entries fill, cull
// expired orders and enforce stop-losses, all driven off persisted state so
// a restart resumes where the last cycle left off.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"signaloor/internal/config"
	"signaloor/internal/models"
	"signaloor/internal/storage"
)

// ErrUnsupportedSide marks SELL signals at order issuance. Short selling is
// deliberately unsupported; the branch is explicit so it never degrades into
// silently mis-handled orders.
var ErrUnsupportedSide = errors.New("short selling unsupported")

// Executor is one execution venue. Spot and futures differ only in order
// type mapping, fee handling and pre-trade margin setup.
type Executor interface {
	Name() string
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error)

	// Open places the entry order for a viable pending trade and persists
	// the authoritative snapshot. The trade is left untouched on error.
	Open(ctx context.Context, trade *models.Trade) error

	// Exit places the exit order(s) for a filled entry. Legs already
	// recorded on the trade are skipped, so a partial failure is resumed
	// leg by leg on later cycles.
	Exit(ctx context.Context, trade *models.Trade) error

	// Flatten closes the position with an immediate market order sized to
	// the filled quantity.
	Flatten(ctx context.Context, trade *models.Trade) error
}

// Engine runs the polling cycles for one executor.
type Engine struct {
	store    *storage.Store
	exec     Executor
	cfg      *config.Config
	notional decimal.Decimal
}

// New creates an engine. notional is the fixed quote-currency amount
// allocated per trade on this venue.
func New(store *storage.Store, exec Executor, cfg *config.Config, notional decimal.Decimal) *Engine {
	return &Engine{store: store, exec: exec, cfg: cfg, notional: notional}
}

// Run executes cycles separated by the configured interval until the context
// is cancelled. A failed cycle is logged and the next one proceeds; nothing
// short of context cancellation stops the loop.
func (e *Engine) Run(ctx context.Context) {
	log.Info().
		Str("executor", e.exec.Name()).
		Dur("interval", e.cfg.StepInterval).
		Str("notional", e.notional.String()).
		Msg("🚀 Lifecycle engine started")

	for {
		e.safeStep(ctx)

		select {
		case <-ctx.Done():
			log.Info().Str("executor", e.exec.Name()).Msg("Lifecycle engine stopped")
			return
		case <-time.After(e.cfg.StepInterval):
		}
	}
}

func (e *Engine) safeStep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("!!! step panicked !!!")
		}
	}()

	if err := e.Step(ctx); err != nil {
		log.Error().Err(err).Msg("!!! step failed !!!")
	}
}

// Step runs one polling cycle. Steps are ordered and each trade is isolated:
// one trade's failure is logged and the cycle moves on. Every step persists
// its mutations before the next step re-reads state.
func (e *Engine) Step(ctx context.Context) error {
	log.Debug().Str("executor", e.exec.Name()).Msg("--- new step ---")

	// 1. Reconcile outstanding entry orders; collect the ones that filled.
	pendingOpen, err := e.store.TradesWithPendingOpenOrder()
	if err != nil {
		return err
	}
	filled := e.reconcileOpenOrders(ctx, pendingOpen)

	// 2. Reconcile outstanding exit orders (status only).
	pendingExit, err := e.store.TradesWithPendingExitOrder()
	if err != nil {
		return err
	}
	e.reconcileExitOrders(ctx, pendingExit)

	// 3. Place exits for entries that just filled.
	for _, trade := range filled {
		if err := e.exec.Exit(ctx, trade); err != nil {
			log.Error().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not create exit order")
		}
	}

	// 4. Cull entry orders resting past expiry.
	e.cullExpiredOpenOrders(ctx)

	// 5. Cull exit orders resting past expiry; flatten what they guarded.
	// Flattens that failed on an earlier cycle are retried here too.
	e.cullExpiredExitOrders(ctx)

	// 6. Enforce stop-loss against the live price.
	e.enforceStopLoss(ctx)

	// 7. Open new trades as balance allows.
	return e.admitNewTrades(ctx)
}

// reconcileOpenOrders refreshes entry-order snapshots and returns trades
// whose entry just showed up FILLED.
func (e *Engine) reconcileOpenOrders(ctx context.Context, trades []*models.Trade) []*models.Trade {
	var filled []*models.Trade
	for _, trade := range trades {
		if err := e.refreshOrder(ctx, trade, &trade.OpenOrder, "open_order"); err != nil {
			log.Error().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not reconcile open order")
			continue
		}
		if trade.OpenOrder.IsFilled() {
			filled = append(filled, trade)
		}
	}
	return filled
}

// reconcileExitOrders refreshes exit-order snapshots. A filled exit leg is
// terminal: the trade is closed with the matching reason.
func (e *Engine) reconcileExitOrders(ctx context.Context, trades []*models.Trade) {
	for _, trade := range trades {
		if err := e.refreshOrder(ctx, trade, &trade.TakeProfitOrder, "take_profit_order"); err != nil {
			log.Error().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not reconcile take profit order")
		}
		if trade.StopLossOrder != nil {
			if err := e.refreshOrder(ctx, trade, &trade.StopLossOrder, "stop_loss_order"); err != nil {
				log.Error().Err(err).
					Int64("trade", trade.ID).
					Str("symbol", trade.Symbol).
					Msg("Could not reconcile stop loss order")
			}
		}

		switch {
		case trade.TakeProfitOrder.IsFilled():
			e.closeTrade(trade, models.ReasonTakeProfit)
		case trade.StopLossOrder.IsFilled():
			e.closeTrade(trade, models.ReasonStopLoss)
		}
	}
}

// refreshOrder re-fetches one order by id and persists the snapshot when the
// exchange reports a different status.
func (e *Engine) refreshOrder(ctx context.Context, trade *models.Trade, slot **models.Order, name string) error {
	current := *slot
	if current == nil {
		return nil
	}

	fresh, err := e.exec.GetOrder(ctx, trade.Symbol, current.OrderID)
	if err != nil {
		return err
	}
	if fresh.Status == current.Status {
		return nil
	}

	*slot = fresh
	if err := e.store.SaveTrade(trade); err != nil {
		return err
	}
	log.Info().
		Int64("trade", trade.ID).
		Str("order", name).
		Str("status", fresh.Status).
		Msg("Updated order status")
	return nil
}

func (e *Engine) expired(order *models.Order) bool {
	return order.IsResting() && time.Since(order.PlacedAt()) > e.cfg.OrderExpiry
}

// cullExpiredOpenOrders cancels entry orders that sat in the book past the
// expiry threshold and closes their trades.
func (e *Engine) cullExpiredOpenOrders(ctx context.Context) {
	trades, err := e.store.TradesWithPendingOpenOrder()
	if err != nil {
		log.Error().Err(err).Msg("Could not query pending open orders")
		return
	}

	for _, trade := range trades {
		if !e.expired(trade.OpenOrder) {
			continue
		}

		snapshot, err := e.exec.CancelOrder(ctx, trade.Symbol, trade.OpenOrder.OrderID)
		if err != nil {
			// Cancelling an already-gone order is a no-op error.
			log.Warn().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not cancel open order")
			continue
		}
		trade.OpenOrder = snapshot
		e.closeTrade(trade, models.ReasonExpired)
		log.Info().
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Msg("⏳ Cancelled expired open order")
	}
}

// cullExpiredExitOrders force-closes trades whose exit order never filled:
// cancel the resting legs, then flatten the position at market.
func (e *Engine) cullExpiredExitOrders(ctx context.Context) {
	trades, err := e.store.TradesWithPendingExitOrder()
	if err != nil {
		log.Error().Err(err).Msg("Could not query pending exit orders")
		return
	}

	for _, trade := range trades {
		// An open trade already carrying a close reason is a flatten that
		// failed last cycle: its exit legs are cancelled, so expiry and
		// stop-loss checks no longer match it. Retry until it closes.
		if trade.CloseReason != "" {
			e.cancelExitAndFlatten(ctx, trade, trade.CloseReason)
			continue
		}
		if !e.expired(trade.TakeProfitOrder) {
			continue
		}
		e.cancelExitAndFlatten(ctx, trade, models.ReasonExpired)
	}
}

// enforceStopLoss double-checks the live price against each outstanding
// exit. A resting stop can fail to trigger atomically with its paired
// take-profit on some account types, so the engine does its own check every
// cycle and market-closes when the price has crossed.
func (e *Engine) enforceStopLoss(ctx context.Context) {
	trades, err := e.store.TradesWithPendingExitOrder()
	if err != nil {
		log.Error().Err(err).Msg("Could not query pending exit orders")
		return
	}

	for _, trade := range trades {
		if trade.Side != "BUY" {
			continue
		}
		// Pending flattens are the cull pass's job; re-entering here would
		// swap the recorded close reason.
		if trade.CloseReason != "" {
			continue
		}

		price, err := e.exec.Price(ctx, trade.Symbol)
		if err != nil {
			log.Error().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not get price")
			continue
		}

		if price.GreaterThanOrEqual(trade.StopLoss) {
			continue
		}

		log.Warn().
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Str("price", price.String()).
			Str("stop_loss", trade.StopLoss.String()).
			Msg("🛑 Price crossed stop loss")
		e.cancelExitAndFlatten(ctx, trade, models.ReasonStopLoss)
	}
}

// cancelExitAndFlatten cancels whatever exit legs still rest, market-closes
// the position, and marks the trade terminal. Cancel failures are tolerated:
// a leg that already filled or vanished cancels as a no-op error. A failed
// flatten leaves the trade open with reason recorded, which keeps it
// selected for retry on later cycles.
func (e *Engine) cancelExitAndFlatten(ctx context.Context, trade *models.Trade, reason string) {
	if trade.TakeProfitOrder.Status != "CANCELED" {
		if snapshot, err := e.exec.CancelOrder(ctx, trade.Symbol, trade.TakeProfitOrder.OrderID); err != nil {
			log.Warn().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not cancel take profit order")
		} else {
			trade.TakeProfitOrder = snapshot
		}
	}

	if trade.StopLossOrder != nil && trade.StopLossOrder.Status != "CANCELED" {
		if snapshot, err := e.exec.CancelOrder(ctx, trade.Symbol, trade.StopLossOrder.OrderID); err != nil {
			log.Warn().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not cancel stop loss order")
		} else {
			trade.StopLossOrder = snapshot
		}
	}

	if err := e.exec.Flatten(ctx, trade); err != nil {
		log.Error().Err(err).
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Msg("Could not market close position")
		trade.CloseReason = reason
		if err := e.store.SaveTrade(trade); err != nil {
			log.Error().Err(err).Int64("trade", trade.ID).Msg("Could not persist trade")
		}
		return
	}

	e.closeTrade(trade, reason)
	log.Info().
		Int64("trade", trade.ID).
		Str("symbol", trade.Symbol).
		Str("reason", reason).
		Msg("Closed position")
}

// admitNewTrades reads the available balance and opens entry orders for as
// many viable unseen signals as the balance covers at the fixed notional.
func (e *Engine) admitNewTrades(ctx context.Context) error {
	balance, err := e.exec.Balance(ctx)
	if err != nil {
		return err
	}

	if balance.LessThanOrEqual(e.notional) {
		log.Debug().Str("balance", balance.String()).Msg("!!! insufficient balance !!!")
		return nil
	}

	budget := balance.Div(e.notional).IntPart()

	unseen, err := e.store.UnseenTrades(e.cfg.UnseenLimit, e.cfg.Lookback)
	if err != nil {
		return err
	}
	log.Debug().Int("unseen", len(unseen)).Int64("budget", budget).Msg("Fetched unseen trades")

	opened := int64(0)
	for _, trade := range unseen {
		if opened >= budget {
			break
		}
		if !e.viable(ctx, trade) {
			continue
		}

		if err := e.exec.Open(ctx, trade); err != nil {
			if errors.Is(err, ErrUnsupportedSide) {
				log.Debug().
					Int64("trade", trade.ID).
					Str("symbol", trade.Symbol).
					Msg("Skipping unsupported side")
				continue
			}
			log.Error().Err(err).
				Int64("trade", trade.ID).
				Str("symbol", trade.Symbol).
				Msg("Could not create opening order")
			continue
		}
		opened++
	}

	return nil
}

func (e *Engine) closeTrade(trade *models.Trade, reason string) {
	trade.Closed = true
	trade.CloseReason = reason
	if err := e.store.SaveTrade(trade); err != nil {
		log.Error().Err(err).Int64("trade", trade.ID).Msg("Could not persist trade")
	}
}
