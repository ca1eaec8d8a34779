package engine

import (
	"matchcore/internal/book"
	"matchcore/internal/money"
)

// TopOfBook is the best-bid/best-ask snapshot (spec §4.F).
type TopOfBook struct {
	Symbol       string
	BestBidPrice money.Decimal
	BestBidSize  money.Decimal
	HasBid       bool
	BestAskPrice money.Decimal
	BestAskSize  money.Decimal
	HasAsk       bool
	Sequence     uint64
}

// DepthLevel is one price level in a Depth snapshot.
type DepthLevel struct {
	Price      money.Decimal
	OpenQty    money.Decimal
	OrderCount int
}

// Depth is up to N price levels per side, in priority order, tagged with
// the engine sequence observed at snapshot time so a consumer can join
// subsequent incremental updates to a consistent base (spec §4.F).
type Depth struct {
	Symbol   string
	Bids     []DepthLevel
	Asks     []DepthLevel
	Sequence uint64
}

// TopOfBook produces a consistent top-of-book snapshot. Must be called
// from the engine's owning goroutine, interleaved between commands (spec
// §5): it never observes a half-applied trade because it runs to
// completion between two fully-processed commands, same as any other
// operation this engine executes.
func (e *Engine) TopOfBook() TopOfBook {
	snap := TopOfBook{Symbol: e.symbol, Sequence: e.seq.Current()}
	if best := e.bids.BestLevel(); best != nil {
		snap.HasBid = true
		snap.BestBidPrice = best.Price
		snap.BestBidSize = best.Aggregate()
	}
	if best := e.asks.BestLevel(); best != nil {
		snap.HasAsk = true
		snap.BestAskPrice = best.Price
		snap.BestAskSize = best.Aggregate()
	}
	return snap
}

// Depth produces up to n price levels per side, in priority order.
func (e *Engine) Depth(n int) Depth {
	snap := Depth{Symbol: e.symbol, Sequence: e.seq.Current()}
	snap.Bids = depthLevels(e.bids.Levels(), n)
	snap.Asks = depthLevels(e.asks.Levels(), n)
	return snap
}

func depthLevels(levels []*book.PriceLevel, n int) []DepthLevel {
	if n > 0 && n < len(levels) {
		levels = levels[:n]
	}
	out := make([]DepthLevel, len(levels))
	for i, lvl := range levels {
		out[i] = DepthLevel{Price: lvl.Price, OpenQty: lvl.Aggregate(), OrderCount: lvl.OrderCount()}
	}
	return out
}
