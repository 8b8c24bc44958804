// Package domain holds the trading-state data model: orders, positions and
// account snapshots, plus the invariants that must hold across failures.
package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the reduce-only side for a protective stop.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType enumerates the venue order types the pipeline submits.
type OrderType string

const (
	OrderTypeMarket      OrderType = "market"
	OrderTypeLimit       OrderType = "limit"
	OrderTypeStopMarket  OrderType = "stop_market"
	OrderTypeStopLimit   OrderType = "stop_limit"
	OrderTypeTakeProfit  OrderType = "take_profit"
)

// OrderStatus tracks an order's monotone lifecycle:
// new -> pending -> (partially_filled)* -> filled | canceled | rejected.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order represents an intent to trade submitted, or about to be submitted,
// to an exchange. ClientOrderID is the idempotency key (I2): unique across
// the system, deterministic given its inputs (see idutil.MakeClientOrderID).
type Order struct {
	ID              string
	ClientOrderID   string
	ExternalOrderID string
	Strategy        string
	Symbol          string
	Exchange        string
	Side            OrderSide
	Type            OrderType
	Status          OrderStatus
	Quantity        float64
	FilledQuantity  float64
	Price           *float64
	StopPrice       *float64
	ReduceOnly      bool
	TimeInForce     string
	RawRequest      []byte
	RawResponse     []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Position represents net exposure for (Symbol, Exchange, Strategy).
//
// Invariant P1: while ClosedAt is nil and Quantity != 0,
// ReduceOnlyStopInstalled must be true and a matching reduce-only stop must
// exist on the exchange.
// Invariant P2: at most one open Position per (Symbol, Exchange, Strategy) —
// enforced by a partial unique index in the store.
type Position struct {
	ID                      string
	Symbol                  string
	Exchange                string
	Strategy                string
	Quantity                float64
	EntryPrice              float64
	StopPrice               float64
	TakeProfitPrice         *float64
	ReduceOnlyStopInstalled bool
	OpenedAt                time.Time
	UpdatedAt               time.Time
	ClosedAt                *time.Time
}

// IsOpen reports whether the position is still carrying exposure.
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil && p.Quantity != 0
}

// Risk returns the currency-at-risk for this position: |qty| * |entry-stop|,
// the per-position term of the portfolio heat sum (I1).
func (p *Position) Risk() float64 {
	return abs(p.Quantity) * abs(p.EntryPrice-p.StopPrice)
}

// AccountState is an append-only equity/cash/leverage snapshot for an account.
type AccountState struct {
	ID          string
	AccountID   string
	Equity      float64
	Cash        float64
	BuyingPower float64
	Leverage    float64
	Timestamp   time.Time
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
