package common

import "errors"

// Validation errors: reject the command with no side effects (spec §7).
var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrTifUnfillable   = errors.New("time-in-force cannot be satisfied")

	// ErrUnsupportedOrderType is returned for stop/stop-limit submits: the
	// core only executes market and limit orders (spec §1 Non-goals).
	ErrUnsupportedOrderType = errors.New("order type not directly executable")
)

// Lookup errors: no side effects.
var (
	ErrNotFound       = errors.New("order not found")
	ErrNotCancellable = errors.New("order is not in a cancellable state")
)

// Capacity error: rejected at inbox admission.
var ErrOverloaded = errors.New("engine inbox overloaded")

// ErrEngineFatal wraps an invariant violation. Once returned, the engine
// that produced it has stopped accepting commands.
var ErrEngineFatal = errors.New("matching engine invariant violated")

// ErrSinkFailure wraps a persistent event-sink failure after retries are
// exhausted; the engine that produced it has become fatal.
var ErrSinkFailure = errors.New("event sink failure")
