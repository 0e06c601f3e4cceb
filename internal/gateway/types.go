// Package gateway defines the normalized trading model shared between the
// host application and broker-specific adapters. Adapters translate vendor
// payloads into these types so the rest of the system never sees a vendor
// field name or status code.
package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the listing venue of an instrument.
type Exchange string

const (
	ExchangeSSE  Exchange = "SSE"  // Shanghai
	ExchangeSZSE Exchange = "SZSE" // Shenzhen
	ExchangeSEHK Exchange = "SEHK" // Hong Kong
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus follows the normalized lifecycle. Transitions are monotonic:
// once an order reaches a terminal status it never changes again.
type OrderStatus string

const (
	StatusSubmitted  OrderStatus = "submitted"
	StatusAccepted   OrderStatus = "accepted"
	StatusPartFilled OrderStatus = "partially-filled"
	StatusFilled     OrderStatus = "filled"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRejected   OrderStatus = "rejected"
)

// Terminal reports whether no further status transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// rank orders statuses along the lifecycle so stale callbacks can be detected.
func (s OrderStatus) rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusAccepted:
		return 1
	case StatusPartFilled:
		return 2
	case StatusFilled, StatusCancelled, StatusRejected:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from s to next respects monotonicity.
// Repeating the same non-terminal status is allowed (brokers re-push state).
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Order is the adapter's view of one entrusted order. LocalID is assigned by
// the adapter; VendorOrderID arrives asynchronously with the first broker ack
// and never rebinds once set.
type Order struct {
	LocalID       uint64
	VendorOrderID string
	Symbol        string
	Exchange      Exchange
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	Status        OrderStatus
	Reason        string // populated on rejection/cancellation
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// Trade is a single fill against an order. Immutable once created.
type Trade struct {
	LocalOrderID  uint64
	VendorTradeID string
	Symbol        string
	Exchange      Exchange
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Time          time.Time
}

// DepthLevel is one price level of a market snapshot.
type DepthLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// MarketTick is the latest snapshot for one instrument. It replaces the
// previous tick for the same symbol; the adapter keeps no history.
type MarketTick struct {
	Symbol   string
	Exchange Exchange
	Last     decimal.Decimal
	Bids     []DepthLevel
	Asks     []DepthLevel
	Volume   decimal.Decimal
	Time     time.Time
}

// Position is a holding row returned by position queries.
type Position struct {
	Symbol    string
	Exchange  Exchange
	Volume    decimal.Decimal
	Available decimal.Decimal
	Frozen    decimal.Decimal
	CostPrice decimal.Decimal
	PnL       decimal.Decimal
}

// Account is the fund snapshot returned by account queries.
type Account struct {
	AccountID string
	Balance   decimal.Decimal
	Frozen    decimal.Decimal
	Available decimal.Decimal
}

// Contract describes a tradable instrument from the broker's catalog.
type Contract struct {
	Symbol    string
	Exchange  Exchange
	Name      string
	PriceTick decimal.Decimal
	LotSize   decimal.Decimal
}

// OrderRequest is what the host submits to place an order.
type OrderRequest struct {
	Symbol   string
	Exchange Exchange
	Side     Side
	Type     OrderType
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// CancelRequest asks the broker to withdraw a previously placed order.
type CancelRequest struct {
	LocalID uint64
}

// SubscribeRequest registers interest in market data for one instrument.
type SubscribeRequest struct {
	Symbol   string
	Exchange Exchange
}

// QueryKind selects what a Query call asks the broker for.
type QueryKind string

const (
	QueryAccount   QueryKind = "account"
	QueryPositions QueryKind = "positions"
	QueryOrders    QueryKind = "orders"
	QueryTrades    QueryKind = "trades"
	QueryContracts QueryKind = "contracts"
)
