package common

import (
	"fmt"
	"time"

	"matchcore/internal/money"
)

// Side is which side of the book an order rests on or crosses against.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// OrderType distinguishes market/limit orders from the parked stop
// variants. The engine executes market and limit orders; stop and
// stop-limit orders are carried in the data model but only ever rest
// once an external collaborator converts a triggered stop into a Submit.
type OrderType int

const (
	Limit OrderType = iota
	Market
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Stop:
		return "stop"
	case StopLimit:
		return "stop-limit"
	default:
		return "limit"
	}
}

// TimeInForce is the lifetime policy for an order's unmatched residual.
type TimeInForce int

const (
	// GTC rests the unmatched residual on the book. Default.
	GTC TimeInForce = iota
	// IOC crosses what it can and cancels the residual.
	IOC
	// FOK requires the whole order to fill or none of it does.
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "GTC"
	}
}

// SelfTradePolicy governs what happens when a taker would match its own
// resting order.
type SelfTradePolicy int

const (
	// STPAllow lets the self-trade happen. Default.
	STPAllow SelfTradePolicy = iota
	// STPCancelTaker rejects the aggressing order on a self-trade.
	STPCancelTaker
	// STPCancelMaker removes the resting maker and continues matching.
	STPCancelMaker
	// STPCancelBoth removes the resting maker and rejects the taker's remainder.
	STPCancelBoth
)

// OrderStatus is a position in the order lifecycle DAG:
//
//	new   -> (open | rejected | filled)
//	open  -> (partially-filled | filled | cancelled)
//	partially-filled -> (filled | cancelled)
//
// filled, cancelled, and rejected are terminal and immutable.
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusOpen
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially-filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusRejected:
		return "rejected"
	default:
		return "new"
	}
}

// Terminal reports whether status is one from which no further transition
// is permitted.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Resting reports whether an order in status s is expected to occupy a
// price level (open or partially-filled).
func (s OrderStatus) Resting() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// Order is the engine's resting/aggressing order entity (spec §3).
type Order struct {
	ID         string          // Order tracked uuid
	ClientID   string          // Caller-supplied idempotency/display id, opaque to the engine
	AccountID  string          // Owning account
	Symbol     string          // Trading symbol
	Side       Side            // Order side
	Type       OrderType       // Order type
	LimitPrice money.Decimal   // Limiting price; zero value for market orders
	Quantity   money.Decimal   // Original requested quantity
	Filled     money.Decimal   // Cumulative filled quantity, 0 <= Filled <= Quantity
	Status     OrderStatus     // Lifecycle status
	TIF        TimeInForce     // Time-in-force
	STP        SelfTradePolicy // Self-trade prevention policy for this order
	Sequence   uint64          // Engine sequence at creation (logical clock / FIFO tiebreak)
	UpdateSeq  uint64          // Engine sequence at last mutation
	CreatedAt  time.Time       // Wall-clock time of arrival, informational only
	UpdatedAt  time.Time       // Wall-clock time of last mutation, informational only
}

// Remaining returns the order's unfilled quantity.
func (o *Order) Remaining() money.Decimal {
	rem, err := o.Quantity.Sub(o.Filled)
	if err != nil {
		// Quantity and Filled are both validated, bounded inputs; a
		// subtraction between them cannot overflow the mantissa.
		panic(fmt.Sprintf("common: corrupt order %s: %v", o.ID, err))
	}
	return rem
}

func (o *Order) String() string {
	return fmt.Sprintf(
		`ID:         %s
ClientID:   %s
AccountID:  %s
Symbol:     %s
Side:       %v
Type:       %v
LimitPrice: %s
Quantity:   %s (Filled: %s)
Status:     %v
TIF:        %v
Sequence:   %d
CreatedAt:  %v
UpdatedAt:  %v`,
		o.ID,
		o.ClientID,
		o.AccountID,
		o.Symbol,
		o.Side,
		o.Type,
		o.LimitPrice,
		o.Quantity,
		o.Filled,
		o.Status,
		o.TIF,
		o.Sequence,
		o.CreatedAt.Format(time.RFC3339),
		o.UpdatedAt.Format(time.RFC3339),
	)
}
