package book

import (
	"github.com/tidwall/btree"

	"matchcore/internal/money"
)

// levels is the ordered price -> PriceLevel map backing one side of the
// book. Bids compare greatest-first, asks compare least-first, so
// Min() on the underlying tree always yields the best price for either
// side (spec §4.C).
type levels = btree.BTreeG[*PriceLevel]

// HalfBook is one side (bid or ask) of a single symbol's order book.
type HalfBook struct {
	side  *levels
	isBid bool
}

// NewBidBook returns a HalfBook ordered highest-price-first.
func NewBidBook() *HalfBook {
	return &HalfBook{
		isBid: true,
		side: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
	}
}

// NewAskBook returns a HalfBook ordered lowest-price-first.
func NewAskBook() *HalfBook {
	return &HalfBook{
		isBid: false,
		side: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
	}
}

// BestLevel returns the best (highest bid / lowest ask) level, or nil if
// the side is empty.
func (h *HalfBook) BestLevel() *PriceLevel {
	lvl, ok := h.side.Min()
	if !ok {
		return nil
	}
	return lvl
}

// Level returns the exact level at price, or nil if none exists.
func (h *HalfBook) Level(price money.Decimal) *PriceLevel {
	lvl, ok := h.side.Get(NewPriceLevel(price))
	if !ok {
		return nil
	}
	return lvl
}

// Insert creates the level at price if missing, then returns it so the
// caller can Push an order onto it.
func (h *HalfBook) Insert(price money.Decimal) *PriceLevel {
	if lvl := h.Level(price); lvl != nil {
		return lvl
	}
	lvl := NewPriceLevel(price)
	h.side.Set(lvl)
	return lvl
}

// DropLevelIfEmpty removes the level at price from the tree if it has no
// resting orders left.
func (h *HalfBook) DropLevelIfEmpty(price money.Decimal) {
	lvl := h.Level(price)
	if lvl != nil && lvl.Empty() {
		h.side.Delete(NewPriceLevel(price))
	}
}

// Crosses reports whether an incoming order at price is marketable
// against this book's best level: for a bid book (checked by a sell),
// price <= best bid; for an ask book (checked by a buy), price >= best
// ask. limitless (market orders) pass priceIsMarket=true and always cross
// while the side is non-empty.
func (h *HalfBook) Crosses(price money.Decimal, priceIsMarket bool) bool {
	best := h.BestLevel()
	if best == nil {
		return false
	}
	if priceIsMarket {
		return true
	}
	if h.isBid {
		// h represents the BID side being checked by an incoming sell:
		// sell crosses if its price <= best bid.
		return price.LessOrEqual(best.Price)
	}
	// h represents the ASK side being checked by an incoming buy:
	// buy crosses if its price >= best ask.
	return price.GreaterOrEqual(best.Price)
}

// Levels returns every level in priority order (best first) as a new
// slice. The slice is a copy, but the levels in it are the live ones: a
// later Push, Pop, RemoveByID or ApplyFill on a level is visible through
// it.
func (h *HalfBook) Levels() []*PriceLevel {
	out := make([]*PriceLevel, 0, h.side.Len())
	h.side.Scan(func(lvl *PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

// Len returns the number of distinct price levels on this side.
func (h *HalfBook) Len() int { return h.side.Len() }

// Empty reports whether the half-book has no resting orders at all.
func (h *HalfBook) Empty() bool { return h.side.Len() == 0 }
