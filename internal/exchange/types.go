package exchange

import (
	"net/url"

	"github.com/shopspring/decimal"
)

// SymbolFilters carries the exchange-mandated granularity for one symbol.
type SymbolFilters struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	TickSize   decimal.Decimal // price increment
	StepSize   decimal.Decimal // quantity increment
}

// OrderParams is everything place-order accepts. Zero-valued optional fields
// are omitted from the request.
type OrderParams struct {
	Symbol      string
	Side        string // BUY or SELL
	Type        string // LIMIT, MARKET, STOP_MARKET, TAKE_PROFIT_MARKET
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce string
	ReduceOnly  bool
	WorkingType string // futures trigger source, e.g. MARK_PRICE
}

func (p OrderParams) values() url.Values {
	v := url.Values{}
	v.Set("symbol", p.Symbol)
	v.Set("side", p.Side)
	v.Set("type", p.Type)
	v.Set("newOrderRespType", "FULL")
	if !p.Quantity.IsZero() {
		v.Set("quantity", p.Quantity.String())
	}
	if !p.Price.IsZero() {
		v.Set("price", p.Price.String())
	}
	if !p.StopPrice.IsZero() {
		v.Set("stopPrice", p.StopPrice.String())
	}
	if p.TimeInForce != "" {
		v.Set("timeInForce", p.TimeInForce)
	}
	if p.ReduceOnly {
		v.Set("reduceOnly", "true")
	}
	if p.WorkingType != "" {
		v.Set("workingType", p.WorkingType)
	}
	return v
}

// Fill is one execution of an order, with the commission the exchange took.
type Fill struct {
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
}

// exchangeInfo is the shared shape of spot and futures exchange-info
// responses, reduced to the filters we use.
type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (info *exchangeInfo) filtersFor(symbol string) (SymbolFilters, bool) {
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f := SymbolFilters{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, filter := range s.Filters {
			switch filter.FilterType {
			case "PRICE_FILTER":
				f.TickSize, _ = decimal.NewFromString(filter.TickSize)
			case "LOT_SIZE":
				f.StepSize, _ = decimal.NewFromString(filter.StepSize)
			}
		}
		return f, true
	}
	return SymbolFilters{}, false
}
