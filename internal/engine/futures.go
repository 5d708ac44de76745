package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"signaloor/internal/config"
	"signaloor/internal/exchange"
	"signaloor/internal/models"
	"signaloor/internal/precision"
	"signaloor/internal/storage"
)

// futuresExecutor trades USD-M perpetuals with isolated margin and fixed
// leverage. Exits are a reduce-only stop-market plus a reduce-only
// take-profit-market, both triggered off the mark price; either one closing
// the position ends the trade.
type futuresExecutor struct {
	client *exchange.FuturesClient
	store  *storage.Store
	cfg    *config.Config
}

// NewFuturesExecutor returns the USD-M futures executor.
func NewFuturesExecutor(client *exchange.FuturesClient, store *storage.Store, cfg *config.Config) Executor {
	return &futuresExecutor{client: client, store: store, cfg: cfg}
}

func (x *futuresExecutor) Name() string { return "futoor" }

func (x *futuresExecutor) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return x.client.GetPrice(ctx, symbol)
}

func (x *futuresExecutor) Balance(ctx context.Context) (decimal.Decimal, error) {
	return x.client.AvailableBalance(ctx, x.cfg.QuoteAsset)
}

func (x *futuresExecutor) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	return x.client.GetOrder(ctx, symbol, orderID)
}

func (x *futuresExecutor) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	return x.client.CancelOrder(ctx, symbol, orderID)
}

// Open sets up isolated margin and leverage for the symbol, then places a
// limit buy at the top of the entry zone sized to order size times leverage.
func (x *futuresExecutor) Open(ctx context.Context, trade *models.Trade) error {
	if trade.OpenOrder != nil {
		return nil
	}
	if trade.Side != "BUY" {
		return fmt.Errorf("%s: %w", trade.Symbol, ErrUnsupportedSide)
	}

	if err := x.setupMargin(ctx, trade.Symbol); err != nil {
		return err
	}

	filters, err := x.client.GetSymbolFilters(ctx, trade.Symbol)
	if err != nil {
		return err
	}

	price, err := precision.RoundDown(trade.MaxEntry(), filters.TickSize)
	if err != nil {
		return err
	}
	notional := x.cfg.FuturesOrderSize.Mul(decimal.NewFromInt(int64(x.cfg.Leverage)))
	quantity, err := precision.RoundDown(notional.Div(price), filters.StepSize)
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
		Int("leverage", x.cfg.Leverage).
		Msg("💸 Created opening order")
	return nil
}

// Exit arms both exit legs for a filled entry: stop-market first, then
// take-profit-market. Each leg is persisted as soon as it is confirmed, and
// a leg already on the trade is skipped, so a failure between the two legs
// is healed on the next cycle instead of double-placing the stop.
func (x *futuresExecutor) Exit(ctx context.Context, trade *models.Trade) error {
	filters, err := x.client.GetSymbolFilters(ctx, trade.Symbol)
	if err != nil {
		return err
	}

	// Both legs are reduce-only for the full position, so they share one
	// rounding: whichever triggers closes everything the entry bought.
	quantity, err := precision.RoundDown(trade.OpenOrder.ExecutedQty, filters.StepSize)
	if err != nil {
		return err
	}

	if trade.StopLossOrder == nil {
		stopPrice, err := precision.RoundDown(trade.StopLoss, filters.TickSize)
		if err != nil {
			return err
		}
		if err := x.placeExitLeg(ctx, trade, &trade.StopLossOrder, exchange.OrderParams{
			Symbol:      trade.Symbol,
			Side:        "SELL",
			Type:        "STOP_MARKET",
			Quantity:    quantity,
			StopPrice:   stopPrice,
			TimeInForce: "GTE_GTC",
			ReduceOnly:  true,
			WorkingType: "MARK_PRICE",
		}); err != nil {
			return fmt.Errorf("stop loss leg: %w", err)
		}
		log.Info().
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Str("stop_price", stopPrice.String()).
			Msg("🛡️ Created stop loss order")
	}

	if trade.TakeProfitOrder == nil {
		target, err := precision.RoundDown(trade.Target(x.cfg.TargetIndex), filters.TickSize)
		if err != nil {
			return err
		}
		params := exchange.OrderParams{
			Symbol:      trade.Symbol,
			Side:        "SELL",
			Type:        "TAKE_PROFIT_MARKET",
			Quantity:    quantity,
			StopPrice:   target,
			TimeInForce: "GTE_GTC",
			ReduceOnly:  true,
			WorkingType: "MARK_PRICE",
		}

		// A take-profit trigger below the current mark price is rejected
		// outright; if the move already happened, close at market.
		price, err := x.client.GetPrice(ctx, trade.Symbol)
		if err != nil {
			return err
		}
		if price.GreaterThan(target) {
			params.Type = "MARKET"
			params.StopPrice = decimal.Zero
			params.TimeInForce = ""
			params.WorkingType = ""
		}

		if err := x.placeExitLeg(ctx, trade, &trade.TakeProfitOrder, params); err != nil {
			return fmt.Errorf("take profit leg: %w", err)
		}
		log.Info().
			Int64("trade", trade.ID).
			Str("symbol", trade.Symbol).
			Str("type", params.Type).
			Str("target", target.String()).
			Msg("🎯 Created take profit order")
	}

	return nil
}

// Flatten market-sells the executed position size. The exit legs are
// reduce-only, so whatever still rests afterwards can never reopen exposure.
func (x *futuresExecutor) Flatten(ctx context.Context, trade *models.Trade) error {
	_, err := x.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol:     trade.Symbol,
		Side:       "SELL",
		Type:       "MARKET",
		Quantity:   trade.OpenOrder.ExecutedQty,
		ReduceOnly: true,
	})
	return err
}

func (x *futuresExecutor) placeExitLeg(ctx context.Context, trade *models.Trade, slot **models.Order, params exchange.OrderParams) error {
	placed, err := x.client.PlaceOrder(ctx, params)
	if err != nil {
		return err
	}
	confirmed, err := x.client.GetOrder(ctx, trade.Symbol, placed.OrderID)
	if err != nil {
		return err
	}
	*slot = confirmed
	return x.store.SaveTrade(trade)
}

// setupMargin switches the symbol to isolated margin at the configured
// leverage. Both calls are skipped when the account is already set, since
// the margin-type change errors out on symbols with open positions.
func (x *futuresExecutor) setupMargin(ctx context.Context, symbol string) error {
	risk, err := x.client.GetPositionRisk(ctx, symbol)
	if err != nil {
		return err
	}

	if risk.MarginType != "isolated" {
		if err := x.client.ChangeMarginType(ctx, symbol, "ISOLATED"); err != nil {
			return fmt.Errorf("change margin type: %w", err)
		}
		log.Debug().Str("symbol", symbol).Msg("Switched to isolated margin")
	}

	if risk.Leverage != strconv.Itoa(x.cfg.Leverage) {
		if err := x.client.ChangeLeverage(ctx, symbol, x.cfg.Leverage); err != nil {
			return fmt.Errorf("change leverage: %w", err)
		}
		log.Debug().Str("symbol", symbol).Int("leverage", x.cfg.Leverage).Msg("Set leverage")
	}

	return nil
}
