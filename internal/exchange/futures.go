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

// FuturesClient is the USD-M futures REST API.
type FuturesClient struct {
	rest   *restClient
	stream *PriceStream
}

// NewFuturesClient creates a futures client. stream may be nil.
func NewFuturesClient(baseURL, apiKey, apiSecret string, stream *PriceStream) *FuturesClient {
	return &FuturesClient{
		rest:   newRESTClient(baseURL, apiKey, apiSecret),
		stream: stream,
	}
}

// GetPrice returns the current mark price for symbol. Mark price is what
// triggers MARK_PRICE-working stop and take-profit orders, so the engine's
// own stop check uses the same reference.
func (c *FuturesClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.stream != nil {
		if price, ok := c.stream.Price(symbol); ok {
			return price, nil
		}
	}

	var resp struct {
		MarkPrice decimal.Decimal `json:"markPrice"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.rest.do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.MarkPrice, nil
}

// GetSymbolFilters fetches the symbol's trading filters. The futures
// exchange-info endpoint has no per-symbol variant, so the full listing is
// fetched and narrowed.
func (c *FuturesClient) GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var info exchangeInfo
	if err := c.rest.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return SymbolFilters{}, err
	}
	filters, ok := info.filtersFor(symbol)
	if !ok {
		return SymbolFilters{}, fmt.Errorf("exchange: no filters for %s", symbol)
	}
	return filters, nil
}

// PlaceOrder submits an order.
func (c *FuturesClient) PlaceOrder(ctx context.Context, p OrderParams) (*models.Order, error) {
	var order models.Order
	if err := c.rest.do(ctx, http.MethodPost, "/fapi/v1/order", p.values(), true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches an order snapshot by id.
func (c *FuturesClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	var order models.Order
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	if err := c.rest.do(ctx, http.MethodGet, "/fapi/v1/order", params, true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels a resting order and returns its final snapshot.
func (c *FuturesClient) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	var order models.Order
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	if err := c.rest.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// AvailableBalance returns the available balance of asset.
func (c *FuturesClient) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var resp struct {
		Assets []struct {
			Asset            string          `json:"asset"`
			AvailableBalance decimal.Decimal `json:"availableBalance"`
		} `json:"assets"`
	}
	if err := c.rest.do(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &resp); err != nil {
		return decimal.Zero, err
	}
	for _, a := range resp.Assets {
		if a.Asset == asset {
			return a.AvailableBalance, nil
		}
	}
	return decimal.Zero, nil
}

// PositionRisk describes the current margin setup for a symbol.
type PositionRisk struct {
	Symbol     string `json:"symbol"`
	MarginType string `json:"marginType"`
	Leverage   string `json:"leverage"`
}

// GetPositionRisk fetches the margin configuration for symbol.
func (c *FuturesClient) GetPositionRisk(ctx context.Context, symbol string) (*PositionRisk, error) {
	var risks []PositionRisk
	params := url.Values{"symbol": {symbol}}
	if err := c.rest.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &risks); err != nil {
		return nil, err
	}
	if len(risks) == 0 {
		return nil, fmt.Errorf("exchange: no position risk for %s", symbol)
	}
	return &risks[0], nil
}

// ChangeMarginType switches symbol to the given margin type (e.g. ISOLATED).
func (c *FuturesClient) ChangeMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{
		"symbol":     {symbol},
		"marginType": {marginType},
	}
	return c.rest.do(ctx, http.MethodPost, "/fapi/v1/marginType", params, true, nil)
}

// ChangeLeverage sets the initial leverage for symbol.
func (c *FuturesClient) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	return c.rest.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}
