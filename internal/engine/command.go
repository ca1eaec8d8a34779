package engine

import (
	"matchcore/internal/common"
	"matchcore/internal/money"
)

// SubmitRequest is the logical Submit command (spec §6).
type SubmitRequest struct {
	ClientID  string
	AccountID string
	Symbol    string
	Side      common.Side
	Type      common.OrderType
	Price     money.Decimal // ignored for market orders
	Quantity  money.Decimal
	TIF       common.TimeInForce
	STP       *common.SelfTradePolicy // nil selects the symbol's configured default
}

// CancelRequest is the logical Cancel command.
type CancelRequest struct {
	OrderID string
}

// ReplaceRequest is the logical Replace command. Per spec §4.D, a pure
// quantity decrease at an unchanged price is amended in place; anything
// else is modeled as cancel-then-submit with a new id and lost time
// priority.
type ReplaceRequest struct {
	OrderID     string
	NewPrice    *money.Decimal // nil keeps the existing price
	NewQuantity *money.Decimal // nil: amend leaves the order as is; a resubmit uses its remaining quantity
}

// SubmitResult is the synchronous response to a Submit, returned only
// after the command is fully processed (spec §4.D: "no fills are
// emitted before the response").
type SubmitResult struct {
	Accepted   bool
	RestingID  string
	Fills      []common.Trade
	Rejected   bool
	RejectKind error
	Cancelled  bool // true for a market/IOC order whose residual could not rest, or a self-trade-halted remainder
	CancelKind error
}

// CancelResult is the response to a Cancel.
type CancelResult struct {
	OrderID string
	Err     error
}

// ReplaceResult is the response to a Replace. When Resubmitted is true
// the replace fell through to cancel+submit and NewOrderID names the
// freshly created order.
type ReplaceResult struct {
	Amended     bool
	Resubmitted bool
	NewOrderID  string
	Submit      *SubmitResult
	Err         error
}
