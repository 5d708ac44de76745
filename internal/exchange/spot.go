package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"signaloor/internal/models"
)

// SpotClient is the spot-account REST API.
type SpotClient struct {
	rest   *restClient
	stream *PriceStream
}

// NewSpotClient creates a spot client. stream may be nil; when set, fresh
// websocket ticks are preferred over a REST round trip for current price.
func NewSpotClient(baseURL, apiKey, apiSecret string, stream *PriceStream) *SpotClient {
	return &SpotClient{
		rest:   newRESTClient(baseURL, apiKey, apiSecret),
		stream: stream,
	}
}

// GetPrice returns the current market price for symbol.
func (c *SpotClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.stream != nil {
		if price, ok := c.stream.Price(symbol); ok {
			return price, nil
		}
	}

	var resp struct {
		Price decimal.Decimal `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.rest.do(ctx, http.MethodGet, "/api/v3/avgPrice", params, false, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Price, nil
}

// GetSymbolFilters fetches the symbol's trading filters.
func (c *SpotClient) GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var info exchangeInfo
	params := url.Values{"symbol": {symbol}}
	if err := c.rest.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &info); err != nil {
		return SymbolFilters{}, err
	}
	filters, ok := info.filtersFor(symbol)
	if !ok {
		return SymbolFilters{}, fmt.Errorf("exchange: no filters for %s", symbol)
	}
	return filters, nil
}

// PlaceOrder submits an order. The response may be partial; callers should
// re-fetch by id for an authoritative snapshot.
func (c *SpotClient) PlaceOrder(ctx context.Context, p OrderParams) (*models.Order, error) {
	var order models.Order
	if err := c.rest.do(ctx, http.MethodPost, "/api/v3/order", p.values(), true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches an order snapshot by id.
func (c *SpotClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	var order models.Order
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	if err := c.rest.do(ctx, http.MethodGet, "/api/v3/order", params, true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels a resting order and returns its final snapshot.
func (c *SpotClient) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	var order models.Order
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	if err := c.rest.do(ctx, http.MethodDelete, "/api/v3/order", params, true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// AvailableBalance returns the free balance of asset.
func (c *SpotClient) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var resp struct {
		Balances []struct {
			Asset string          `json:"asset"`
			Free  decimal.Decimal `json:"free"`
		} `json:"balances"`
	}
	if err := c.rest.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &resp); err != nil {
		return decimal.Zero, err
	}
	for _, b := range resp.Balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

// OrderFills lists the individual executions of an order, commissions
// included. Spot commissions on a BUY are deducted from the base asset, so
// the sellable quantity is executedQty minus base-asset commissions.
func (c *SpotClient) OrderFills(ctx context.Context, symbol string, orderID int64) ([]Fill, error) {
	var fills []Fill
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	if err := c.rest.do(ctx, http.MethodGet, "/api/v3/myTrades", params, true, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}
