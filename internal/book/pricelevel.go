// Package book implements the price-level FIFO queues and the ordered
// half-book map that sit underneath a single symbol's matching engine
// (spec §4.B, §4.C). Nothing in this package is safe for concurrent use;
// callers serialize access per symbol, per spec §5.
package book

import (
	"matchcore/internal/common"
	"matchcore/internal/money"
)

// PriceLevel is the FIFO queue of resting orders at one price on one
// side. The aggregate open quantity is maintained incrementally and must
// equal the recomputed sum after every mutation (spec invariant 4 of §8).
type PriceLevel struct {
	Price  money.Decimal
	Orders []*common.Order

	aggregate money.Decimal
}

// NewPriceLevel creates an empty level at price.
func NewPriceLevel(price money.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, aggregate: money.Zero}
}

// Aggregate returns the sum of (original - filled) over the queue.
func (l *PriceLevel) Aggregate() money.Decimal { return l.aggregate }

// OrderCount returns the number of resting orders at this level.
func (l *PriceLevel) OrderCount() int { return len(l.Orders) }

// Empty reports whether the level has no resting orders.
func (l *PriceLevel) Empty() bool { return len(l.Orders) == 0 }

// Push appends order to the tail of the queue and adds its open quantity
// to the aggregate. The caller must have already validated order.Price
// equals l.Price.
func (l *PriceLevel) Push(order *common.Order) {
	l.Orders = append(l.Orders, order)
	l.addAggregate(order.Remaining())
}

// Peek returns the head order without removing it, or nil if the level is empty.
func (l *PriceLevel) Peek() *common.Order {
	if len(l.Orders) == 0 {
		return nil
	}
	return l.Orders[0]
}

// Pop removes and returns the head order, adjusting the aggregate.
func (l *PriceLevel) Pop() *common.Order {
	if len(l.Orders) == 0 {
		return nil
	}
	head := l.Orders[0]
	l.subAggregate(head.Remaining())
	l.Orders = l.Orders[1:]
	return head
}

// RemoveByID removes the order with the given id from anywhere in the
// queue, O(n) in queue length, adjusting the aggregate. Reports whether
// an order was found.
func (l *PriceLevel) RemoveByID(id string) (*common.Order, bool) {
	for i, o := range l.Orders {
		if o.ID == id {
			l.subAggregate(o.Remaining())
			l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
			return o, true
		}
	}
	return nil, false
}

// ApplyFill reduces the head order's remaining quantity by qty, updates
// the aggregate, and pops the head if it becomes fully filled. Returns
// the head order (now mutated) and whether it was popped.
func (l *PriceLevel) ApplyFill(qty money.Decimal) (*common.Order, bool) {
	head := l.Peek()
	if head == nil {
		return nil, false
	}
	filled, err := head.Filled.Add(qty)
	if err != nil {
		panic(err)
	}
	head.Filled = filled
	l.subAggregate(qty)

	if head.Remaining().IsZero() {
		l.Orders = l.Orders[1:]
		return head, true
	}
	return head, false
}

// ShrinkAggregateBy reduces the level's aggregate by delta directly,
// without touching the queue. Used when a resting order's quantity is
// amended down in place (spec §4.D replace algorithm): the order itself
// is mutated by the caller, and the level's incremental aggregate must
// be kept in step without disturbing FIFO position.
func (l *PriceLevel) ShrinkAggregateBy(delta money.Decimal) {
	l.subAggregate(delta)
}

func (l *PriceLevel) addAggregate(qty money.Decimal) {
	sum, err := l.aggregate.Add(qty)
	if err != nil {
		panic(err)
	}
	l.aggregate = sum
}

func (l *PriceLevel) subAggregate(qty money.Decimal) {
	diff, err := l.aggregate.Sub(qty)
	if err != nil {
		panic(err)
	}
	l.aggregate = diff
}

// recomputeAggregate is used only by tests to assert the incremental
// aggregate never drifts from the ground truth (spec invariant 4).
func (l *PriceLevel) recomputeAggregate() money.Decimal {
	sum := money.Zero
	for _, o := range l.Orders {
		var err error
		sum, err = sum.Add(o.Remaining())
		if err != nil {
			panic(err)
		}
	}
	return sum
}
