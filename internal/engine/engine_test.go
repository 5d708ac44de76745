package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"signaloor/internal/config"
	"signaloor/internal/models"
	"signaloor/internal/storage"
)

// fakeExecutor is a scriptable venue: prices and balance are fixed by the
// test, orders live in a map whose statuses the test flips between cycles.
type fakeExecutor struct {
	store   *storage.Store
	prices  map[string]decimal.Decimal
	balance decimal.Decimal

	orders map[int64]*models.Order
	nextID int64

	opened    []int64 // trade ids passed to Open
	exited    []int64 // trade ids passed to Exit
	flattened []int64 // trade ids passed to Flatten

	flattenErr error // when set, Flatten fails without closing anything
}

func newFakeExecutor(store *storage.Store) *fakeExecutor {
	return &fakeExecutor{
		store:   store,
		prices:  map[string]decimal.Decimal{},
		balance: decimal.NewFromInt(1000),
		orders:  map[int64]*models.Order{},
		nextID:  100,
	}
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (f *fakeExecutor) Balance(context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeExecutor) GetOrder(_ context.Context, _ string, orderID int64) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %d", orderID)
	}
	snapshot := *o
	return &snapshot, nil
}

func (f *fakeExecutor) CancelOrder(_ context.Context, _ string, orderID int64) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %d", orderID)
	}
	o.Status = "CANCELED"
	snapshot := *o
	return &snapshot, nil
}

func (f *fakeExecutor) place(symbol, side, typ string) *models.Order {
	f.nextID++
	o := &models.Order{
		OrderID: f.nextID,
		Symbol:  symbol,
		Side:    side,
		Type:    typ,
		Status:  "NEW",
		OrigQty: decimal.NewFromInt(1),
		Time:    time.Now().UnixMilli(),
	}
	f.orders[o.OrderID] = o
	snapshot := *o
	return &snapshot
}

func (f *fakeExecutor) Open(_ context.Context, trade *models.Trade) error {
	if trade.Side != "BUY" {
		return ErrUnsupportedSide
	}
	f.opened = append(f.opened, trade.ID)
	trade.OpenOrder = f.place(trade.Symbol, "BUY", "LIMIT")
	return f.store.SaveTrade(trade)
}

func (f *fakeExecutor) Exit(_ context.Context, trade *models.Trade) error {
	f.exited = append(f.exited, trade.ID)
	if trade.TakeProfitOrder == nil {
		trade.TakeProfitOrder = f.place(trade.Symbol, "SELL", "LIMIT")
	}
	return f.store.SaveTrade(trade)
}

func (f *fakeExecutor) Flatten(_ context.Context, trade *models.Trade) error {
	if f.flattenErr != nil {
		return f.flattenErr
	}
	f.flattened = append(f.flattened, trade.ID)
	return nil
}

// setStatus flips an order's exchange-side status for the next reconcile.
func (f *fakeExecutor) setStatus(orderID int64, status string) {
	f.orders[orderID].Status = status
}

func newTestEngine(t *testing.T) (*Engine, *fakeExecutor, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)

	cfg := &config.Config{
		OrderSize:      decimal.NewFromInt(100),
		QuoteAsset:     "USDT",
		OrderExpiry:    24 * time.Hour,
		StepInterval:   10 * time.Second,
		TargetIndex:    3,
		ViabilityIndex: 0,
		Lookback:       12 * time.Hour,
		UnseenLimit:    100,
	}

	exec := newFakeExecutor(store)
	return New(store, exec, cfg, cfg.OrderSize), exec, store
}

func insertSignal(t *testing.T, store *storage.Store, id int64, symbol string) *models.Trade {
	t.Helper()
	trade := &models.Trade{
		ID:        id,
		Symbol:    symbol,
		Side:      "BUY",
		Entry:     models.PriceList{decimal.NewFromInt(100), decimal.NewFromInt(101)},
		StopLoss:  decimal.NewFromInt(90),
		Targets:   models.PriceList{decimal.NewFromInt(105), decimal.NewFromInt(110), decimal.NewFromInt(115)},
		Timestamp: time.Now(),
		TextHash:  fmt.Sprintf("hash-%d", id),
	}
	require.NoError(t, store.InsertTrade(trade, 0))
	return trade
}

func TestStepOpensViableTrades(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)

	insertSignal(t, store, 1, "BTCUSDT")
	require.NoError(t, engine.Step(context.Background()))

	require.Equal(t, []int64{1}, exec.opened)
	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.NotNil(t, stored.OpenOrder)
	require.Equal(t, "NEW", stored.OpenOrder.Status)
	require.Nil(t, stored.TakeProfitOrder)
	require.False(t, stored.Closed)
}

func TestStepRespectsBalanceBudget(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.balance = decimal.NewFromInt(250) // room for two trades at notional 100
	exec.prices["AUSDT"] = decimal.NewFromInt(100)
	exec.prices["BUSDT"] = decimal.NewFromInt(100)
	exec.prices["CUSDT"] = decimal.NewFromInt(100)

	insertSignal(t, store, 1, "AUSDT")
	insertSignal(t, store, 2, "BUSDT")
	insertSignal(t, store, 3, "CUSDT")

	require.NoError(t, engine.Step(context.Background()))
	require.Len(t, exec.opened, 2)
}

func TestStepSkipsNonViableTrades(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	// Viability band is [stop_loss, first target] = [90, 105].
	exec.prices["STALEUSDT"] = decimal.NewFromInt(120)
	exec.prices["LIVEUSDT"] = decimal.NewFromInt(104)

	insertSignal(t, store, 1, "STALEUSDT")
	insertSignal(t, store, 2, "LIVEUSDT")

	require.NoError(t, engine.Step(context.Background()))
	require.Equal(t, []int64{2}, exec.opened)
}

func TestStepSkipsShortSignalsWithoutConsumingBudget(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.balance = decimal.NewFromInt(150) // budget for one trade
	exec.prices["SHORTUSDT"] = decimal.NewFromInt(100)
	exec.prices["LONGUSDT"] = decimal.NewFromInt(100)

	// Unseen signals are walked newest first, so the short is tried before
	// the long and must not eat the single budget slot.
	insertSignal(t, store, 1, "LONGUSDT")
	short := insertSignal(t, store, 2, "SHORTUSDT")
	short.Side = "SELL"
	require.NoError(t, store.SaveTrade(short))

	require.NoError(t, engine.Step(context.Background()))
	require.Equal(t, []int64{1}, exec.opened)
}

func TestStepPlacesExitOnlyAfterEntryFills(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	require.Empty(t, exec.exited)

	// Entry still resting: another cycle must not place an exit.
	require.NoError(t, engine.Step(context.Background()))
	require.Empty(t, exec.exited)

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")

	require.NoError(t, engine.Step(context.Background()))
	require.Equal(t, []int64{1}, exec.exited)

	stored, err = store.GetTrade(1)
	require.NoError(t, err)
	require.Equal(t, "FILLED", stored.OpenOrder.Status)
	require.NotNil(t, stored.TakeProfitOrder)
	require.False(t, stored.Closed)
}

func TestStepClosesTradeWhenTakeProfitFills(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	stored, _ = store.GetTrade(1)
	exec.setStatus(stored.TakeProfitOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, models.ReasonTakeProfit, stored.CloseReason)
	require.Empty(t, exec.flattened)
}

func TestStepCullsExpiredOpenOrders(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)

	// Age the resting entry past the expiry threshold.
	exec.orders[stored.OpenOrder.OrderID].Time = time.Now().Add(-25 * time.Hour).UnixMilli()
	stored.OpenOrder.Time = exec.orders[stored.OpenOrder.OrderID].Time
	require.NoError(t, store.SaveTrade(stored))

	exec.balance = decimal.Zero // keep the cycle from opening anything new
	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, models.ReasonExpired, stored.CloseReason)
	require.Equal(t, "CANCELED", stored.OpenOrder.Status)
	require.Empty(t, exec.flattened)
}

func TestStepCullsExpiredExitOrdersAndFlattens(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	stored, _ = store.GetTrade(1)
	exec.orders[stored.TakeProfitOrder.OrderID].Time = time.Now().Add(-25 * time.Hour).UnixMilli()
	stored.TakeProfitOrder.Time = exec.orders[stored.TakeProfitOrder.OrderID].Time
	require.NoError(t, store.SaveTrade(stored))

	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, models.ReasonExpired, stored.CloseReason)
	require.Equal(t, []int64{1}, exec.flattened)
}

func TestStepRetriesFailedFlatten(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	stored, _ = store.GetTrade(1)
	exec.orders[stored.TakeProfitOrder.OrderID].Time = time.Now().Add(-25 * time.Hour).UnixMilli()
	stored.TakeProfitOrder.Time = exec.orders[stored.TakeProfitOrder.OrderID].Time
	require.NoError(t, store.SaveTrade(stored))

	// The cull cancels the take-profit leg, then the market close bounces.
	exec.flattenErr = fmt.Errorf("exchange unavailable")
	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.False(t, stored.Closed)
	require.Equal(t, "CANCELED", stored.TakeProfitOrder.Status)
	require.Equal(t, models.ReasonExpired, stored.CloseReason)
	require.Empty(t, exec.flattened)

	// Price sits between stop and target, so neither the expiry check (the
	// leg is no longer resting) nor the stop-loss check would fire again.
	// The recorded reason alone must bring the flatten back.
	exec.flattenErr = nil
	require.NoError(t, engine.Step(context.Background()))

	stored, err = store.GetTrade(1)
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, models.ReasonExpired, stored.CloseReason)
	require.Equal(t, []int64{1}, exec.flattened)
}

func TestStepEnforcesStopLoss(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	// Price a hair below the stop must trigger; the stop itself must not.
	exec.prices["BTCUSDT"] = decimal.NewFromInt(90)
	require.NoError(t, engine.Step(context.Background()))
	stored, _ = store.GetTrade(1)
	require.False(t, stored.Closed)

	exec.prices["BTCUSDT"] = decimal.RequireFromString("89.99")
	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, models.ReasonStopLoss, stored.CloseReason)
	require.Equal(t, []int64{1}, exec.flattened)
}

func TestStepClosesTradeWhenStopLegFills(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	// Arm a stop leg the way the futures venue does, then fill it.
	stored, _ = store.GetTrade(1)
	stored.StopLossOrder = exec.place("BTCUSDT", "SELL", "STOP_MARKET")
	require.NoError(t, store.SaveTrade(stored))
	exec.setStatus(stored.StopLossOrder.OrderID, "FILLED")

	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, models.ReasonStopLoss, stored.CloseReason)
}

func TestStepRetriesMissingExitLeg(t *testing.T) {
	engine, exec, store := newTestEngine(t)
	exec.prices["BTCUSDT"] = decimal.NewFromInt(100)
	insertSignal(t, store, 1, "BTCUSDT")

	require.NoError(t, engine.Step(context.Background()))
	stored, _ := store.GetTrade(1)
	exec.setStatus(stored.OpenOrder.OrderID, "FILLED")
	require.NoError(t, engine.Step(context.Background()))

	// Simulate a crash after the entry filled but before the exit stuck:
	// wipe the persisted exit leg and step again.
	stored, _ = store.GetTrade(1)
	stored.TakeProfitOrder = nil
	require.NoError(t, store.SaveTrade(stored))

	require.NoError(t, engine.Step(context.Background()))

	stored, err := store.GetTrade(1)
	require.NoError(t, err)
	require.NotNil(t, stored.TakeProfitOrder)
	require.Equal(t, []int64{1, 1}, exec.exited)
}
