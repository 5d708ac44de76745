package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"signaloor/internal/config"
	"signaloor/internal/exchange"
	"signaloor/internal/models"
	"signaloor/internal/precision"
	"signaloor/internal/storage"
)

// spotExecutor trades on the spot market. Entries are plain limit buys; the
// exit is a single take-profit sell sized to what actually landed in the
// wallet after fees, with the stop-loss enforced by the engine's own price
// check instead of a resting order.
type spotExecutor struct {
	client *exchange.SpotClient
	store  *storage.Store
	cfg    *config.Config
}

// NewSpotExecutor returns the spot-market executor.
func NewSpotExecutor(client *exchange.SpotClient, store *storage.Store, cfg *config.Config) Executor {
	return &spotExecutor{client: client, store: store, cfg: cfg}
}

func (x *spotExecutor) Name() string { return "spotoor" }

func (x *spotExecutor) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return x.client.GetPrice(ctx, symbol)
}

func (x *spotExecutor) Balance(ctx context.Context) (decimal.Decimal, error) {
	return x.client.AvailableBalance(ctx, x.cfg.QuoteAsset)
}

func (x *spotExecutor) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	return x.client.GetOrder(ctx, symbol, orderID)
}

func (x *spotExecutor) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	return x.client.CancelOrder(ctx, symbol, orderID)
}

// Open places a limit buy at the top of the entry zone, sized so the order
// notional equals the configured order size.
func (x *spotExecutor) Open(ctx context.Context, trade *models.Trade) error {
	if trade.OpenOrder != nil {
		return nil
	}
	if trade.Side != "BUY" {
		return fmt.Errorf("%s: %w", trade.Symbol, ErrUnsupportedSide)
	}

	filters, err := x.client.GetSymbolFilters(ctx, trade.Symbol)
	if err != nil {
		return err
	}

	price, err := precision.RoundDown(trade.MaxEntry(), filters.TickSize)
	if err != nil {
		return err
	}
	quantity, err := precision.RoundDown(x.cfg.OrderSize.Div(price), filters.StepSize)
	if err != nil {
		return err
	}

	placed, err := x.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol:      trade.Symbol,
		Side:        "BUY",
		Type:        "LIMIT",
		Quantity:    quantity,
		Price:       price,
		TimeInForce: "GTC",
	})
	if err != nil {
		return err
	}

	// The submission response can lag the real state; re-fetch before
	// persisting so the stored snapshot is authoritative.
	confirmed, err := x.client.GetOrder(ctx, trade.Symbol, placed.OrderID)
	if err != nil {
		return err
	}
	trade.OpenOrder = confirmed
	if err := x.store.SaveTrade(trade); err != nil {
		return err
	}

	log.Info().
		Int64("trade", trade.ID).
		Str("symbol", trade.Symbol).
		Str("price", price.String()).
		Str("quantity", quantity.String()).
		Msg("💸 Created opening order")
	return nil
}

// Exit places the take-profit sell for a filled entry. The quantity is the
// executed amount minus commissions taken in the base asset; selling the
// nominal fill amount would bounce with insufficient balance.
func (x *spotExecutor) Exit(ctx context.Context, trade *models.Trade) error {
	if trade.TakeProfitOrder != nil {
		return nil
	}

	filters, err := x.client.GetSymbolFilters(ctx, trade.Symbol)
	if err != nil {
		return err
	}

	quantity, err := x.netFilledQuantity(ctx, trade, filters)
	if err != nil {
		return err
	}

	target, err := precision.RoundDown(trade.Target(x.cfg.TargetIndex), filters.TickSize)
	if err != nil {
		return err
	}

	params := exchange.OrderParams{
		Symbol:      trade.Symbol,
		Side:        "SELL",
		Type:        "LIMIT",
		Quantity:    quantity,
		Price:       target,
		TimeInForce: "GTC",
	}

	// If the market already ran past the target, a limit sell at the
	// target would rest below the book. Take the profit immediately.
	price, err := x.client.GetPrice(ctx, trade.Symbol)
	if err != nil {
		return err
	}
	if price.GreaterThan(target) {
		params.Type = "MARKET"
		params.Price = decimal.Zero
		params.TimeInForce = ""
	}

	placed, err := x.client.PlaceOrder(ctx, params)
	if err != nil {
		return err
	}
	confirmed, err := x.client.GetOrder(ctx, trade.Symbol, placed.OrderID)
	if err != nil {
		return err
	}
	trade.TakeProfitOrder = confirmed
	if err := x.store.SaveTrade(trade); err != nil {
		return err
	}

	log.Info().
		Int64("trade", trade.ID).
		Str("symbol", trade.Symbol).
		Str("type", params.Type).
		Str("quantity", quantity.String()).
		Msg("🎯 Created take profit order")
	return nil
}

// Flatten market-sells the quantity the take-profit order was guarding.
func (x *spotExecutor) Flatten(ctx context.Context, trade *models.Trade) error {
	placed, err := x.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol:   trade.Symbol,
		Side:     "SELL",
		Type:     "MARKET",
		Quantity: trade.TakeProfitOrder.OrigQty,
	})
	if err != nil {
		return err
	}
	confirmed, err := x.client.GetOrder(ctx, trade.Symbol, placed.OrderID)
	if err != nil {
		return err
	}
	// The market close takes the stop-loss slot; spot has no resting stop.
	trade.StopLossOrder = confirmed
	return nil
}

// netFilledQuantity is the executed entry quantity minus base-asset
// commissions, rounded down to the step size.
func (x *spotExecutor) netFilledQuantity(ctx context.Context, trade *models.Trade, filters exchange.SymbolFilters) (decimal.Decimal, error) {
	fills, err := x.client.OrderFills(ctx, trade.Symbol, trade.OpenOrder.OrderID)
	if err != nil {
		return decimal.Zero, err
	}

	quantity := trade.OpenOrder.ExecutedQty
	for _, fill := range fills {
		if fill.CommissionAsset == filters.BaseAsset {
			quantity = quantity.Sub(fill.Commission)
		}
	}
	return precision.RoundDown(quantity, filters.StepSize)
}
