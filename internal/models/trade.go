package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Close reasons written to trades.close_reason when a trade goes terminal.
const (
	ReasonExpired    = "expired"
	ReasonStopLoss   = "stop loss"
	ReasonTakeProfit = "take profit"
)

// Trade is one row per detected signal. The primary key is the originating
// Telegram message id, which makes re-ingestion of the same message a no-op.
// Rows are never deleted; Closed marks terminal state.
type Trade struct {
	ID              int64           `gorm:"primaryKey"`
	Symbol          string          `gorm:"index;not null"`
	Side            string          `gorm:"not null"` // "BUY" or "SELL"
	Entry           PriceList       `gorm:"not null"` // exactly two bounds
	StopLoss        decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Targets         PriceList       `gorm:"not null"` // sorted ascending
	Timestamp       time.Time       `gorm:"index;not null"`
	TextHash        string          `gorm:"index;not null"`
	Bragged         bool            `gorm:"not null;default:false"`
	OpenOrder       *Order
	TakeProfitOrder *Order
	StopLossOrder   *Order
	Closed          bool `gorm:"index;not null;default:false"`
	CloseReason     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MaxEntry returns the least favorable acceptable entry price for a BUY,
// the most favorable for a SELL.
func (t *Trade) MaxEntry() decimal.Decimal {
	return decimal.Max(t.Entry[0], t.Entry[1:]...)
}

// MinEntry mirrors MaxEntry for the other bound.
func (t *Trade) MinEntry() decimal.Decimal {
	return decimal.Min(t.Entry[0], t.Entry[1:]...)
}

// Target returns the take-profit price at idx, clamped to the last target so
// a short signal (fewer targets than the configured index) still exits.
func (t *Trade) Target(idx int) decimal.Decimal {
	if idx >= len(t.Targets) {
		idx = len(t.Targets) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return t.Targets[idx]
}

// PriceList is a JSON-encoded list of decimal prices (entry bounds, targets).
type PriceList []decimal.Decimal

func (p PriceList) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PriceList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into PriceList", value)
	}
}

// Order is the last-known snapshot of an exchange order, stored as a JSON
// column. A nil *Order means the order has not been placed yet.
type Order struct {
	OrderID      int64           `json:"orderId"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Price        decimal.Decimal `json:"price"`
	StopPrice    decimal.Decimal `json:"stopPrice"`
	OrigQty      decimal.Decimal `json:"origQty"`
	ExecutedQty  decimal.Decimal `json:"executedQty"`
	TimeInForce  string          `json:"timeInForce"`
	Time         int64           `json:"time"`         // placement time, ms
	UpdateTime   int64           `json:"updateTime"`   // last transition, ms
	TransactTime int64           `json:"transactTime"` // submit-response time, ms
}

// PlacedAt returns the order's own timestamp; expiry is measured from here,
// not from the trade's signal timestamp.
func (o *Order) PlacedAt() time.Time {
	ms := o.Time
	if ms == 0 {
		ms = o.TransactTime
	}
	return time.UnixMilli(ms)
}

// IsFilled reports whether the exchange marked the order fully filled.
func (o *Order) IsFilled() bool {
	return o != nil && o.Status == "FILLED"
}

// IsResting reports whether the order is still sitting in the book untouched.
func (o *Order) IsResting() bool {
	return o != nil && o.Status == "NEW"
}

func (o Order) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (o *Order) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	case nil:
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Order", value)
	}
}
