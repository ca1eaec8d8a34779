// Package engine is the crux of the matching core: the per-symbol
// orchestrator that accepts Submit/Cancel/Replace commands, crosses an
// aggressing order against the resting book, and emits a deterministic
// stream of trade and order-state events (spec §4.D).
//
// An Engine owns its half-books and its order-id index exclusively; it is
// designed to be driven by exactly one goroutine at a time (spec §5). It
// performs no internal locking — the dispatcher (package dispatcher) is
// responsible for serializing access per symbol.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"matchcore/internal/book"
	"matchcore/internal/common"
	"matchcore/internal/money"
	"matchcore/internal/registry"
	"matchcore/internal/sink"
)

// maxSinkRetries bounds how many times the engine attempts an event-sink
// emission, the first attempt included, before treating the sink as
// permanently failed (spec §7).
const maxSinkRetries = 3

// orderLocation is the order-id -> (side, price) index spec §4.D names as
// the auxiliary structure a Cancel looks an order up through.
type orderLocation struct {
	side  common.Side
	price money.Decimal
}

// Engine is a single symbol's matching engine instance.
type Engine struct {
	symbol string
	meta   registry.SymbolMetadata

	bids *book.HalfBook
	asks *book.HalfBook

	index map[string]orderLocation
	sink  sink.EventSink
	seq   *Sequence

	// orderSeq and tradeSeq derive order and trade ids deterministically
	// from this engine's own call order rather than randomly (spec §8
	// property 6): replaying an identical command sequence against a
	// fresh engine must regenerate the exact ids the original run
	// produced, so a journaled Cancel/Replace naming an order id still
	// resolves after a restart (spec §4.D, §4.L).
	orderSeq uint64
	tradeSeq uint64

	// fatal is non-nil once an invariant violation or a permanently
	// failed sink emission has occurred. Once set, the engine rejects
	// every further command (spec §7).
	fatal error
}

// nextOrderID derives the next order id deterministically from the
// symbol and this engine's own order counter: a UUID in shape, but a
// pure function of call order rather than of randomness.
func (e *Engine) nextOrderID() string {
	e.orderSeq++
	name := fmt.Sprintf("%s:order:%d", e.symbol, e.orderSeq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// nextTradeID is nextOrderID's counterpart for trades.
func (e *Engine) nextTradeID() string {
	e.tradeSeq++
	name := fmt.Sprintf("%s:trade:%d", e.symbol, e.tradeSeq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// New builds an Engine for meta.Symbol. The sequence domain is the
// caller's choice: a Sequence shared across symbols gives a single
// global ordering, a Sequence per symbol gives per-symbol monotonicity
// only. Spec §4.D requires only the latter, so dispatcher.Dispatcher
// wires one Sequence per engine by default.
func New(meta registry.SymbolMetadata, evSink sink.EventSink, seq *Sequence) *Engine {
	return &Engine{
		symbol: meta.Symbol,
		meta:   meta,
		bids:   book.NewBidBook(),
		asks:   book.NewAskBook(),
		index:  make(map[string]orderLocation),
		sink:   evSink,
		seq:    seq,
	}
}

// Symbol returns the symbol this engine instance owns.
func (e *Engine) Symbol() string { return e.symbol }

// Fatal returns the invariant/sink failure that halted the engine, or nil.
func (e *Engine) Fatal() error { return e.fatal }

func (e *Engine) emit(event common.Event) {
	if e.fatal != nil {
		return
	}
	var err error
	for attempt := 0; attempt < maxSinkRetries; attempt++ {
		if err = e.sink.Emit(event); err == nil {
			return
		}
	}
	e.fatal = fmt.Errorf("%w: %v", common.ErrSinkFailure, err)
	log.Error().Str("symbol", e.symbol).Err(err).Msg("event sink failed permanently; engine is now fatal")
}

func (e *Engine) emitTrade(t common.Trade) {
	e.emit(common.Event{Trade: &t})
}

func (e *Engine) emitState(order *common.Order) {
	order.UpdateSeq = e.seq.Next()
	e.emit(common.Event{OrderState: &common.OrderStateEvent{
		OrderID: order.ID, Status: order.Status, Filled: order.Filled, Sequence: order.UpdateSeq,
	}})
}

// ownBook returns the half-book a resting order of the given side would
// occupy.
func (e *Engine) ownBook(side common.Side) *book.HalfBook {
	if side == common.Buy {
		return e.bids
	}
	return e.asks
}

// opposingBook returns the half-book an aggressing order of the given
// side crosses against.
func (e *Engine) opposingBook(side common.Side) *book.HalfBook {
	if side == common.Buy {
		return e.asks
	}
	return e.bids
}

// Submit runs the full submit algorithm (spec §4.D steps 1-4) and
// returns only once every resulting event has been emitted.
func (e *Engine) Submit(req SubmitRequest) SubmitResult {
	if e.fatal != nil {
		return SubmitResult{Rejected: true, RejectKind: common.ErrEngineFatal}
	}

	if req.Type != common.Market && req.Type != common.Limit {
		// Stop/stop-limit triggering is an external collaborator's
		// responsibility (spec §1 Non-goals); the core never rests or
		// matches an untriggered conditional order.
		return SubmitResult{Rejected: true, RejectKind: common.ErrUnsupportedOrderType}
	}

	if req.Type == common.Limit {
		if err := e.meta.ValidatePrice(req.Price); err != nil {
			return SubmitResult{Rejected: true, RejectKind: err}
		}
	}
	if err := e.meta.ValidateQuantity(req.Quantity); err != nil {
		return SubmitResult{Rejected: true, RejectKind: err}
	}

	stp := e.meta.DefaultSTP
	if req.STP != nil {
		stp = *req.STP
	}

	if req.TIF == common.FOK {
		if !e.simulateFillable(req, stp) {
			return SubmitResult{Rejected: true, RejectKind: common.ErrTifUnfillable}
		}
	}

	now := time.Now()
	order := &common.Order{
		ID:         e.nextOrderID(),
		ClientID:   req.ClientID,
		AccountID:  req.AccountID,
		Symbol:     e.symbol,
		Side:       req.Side,
		Type:       req.Type,
		LimitPrice: req.Price,
		Quantity:   req.Quantity,
		Filled:     money.Zero,
		Status:     common.StatusNew,
		TIF:        req.TIF,
		STP:        stp,
		Sequence:   e.seq.Current(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	fills, selfTradeHalted := e.cross(order, stp)
	result := SubmitResult{Accepted: true, RestingID: order.ID, Fills: fills}
	remaining := order.Remaining()

	switch {
	case remaining.IsZero():
		order.Status = common.StatusFilled
		order.UpdatedAt = time.Now()
		e.emitState(order)

	case order.Type == common.Market:
		// A market order never rests; leftover with no more opposing
		// liquidity is simply unfillable.
		order.Status = common.StatusCancelled
		order.UpdatedAt = time.Now()
		e.emitState(order)
		result.Cancelled = true
		result.CancelKind = common.ErrTifUnfillable

	case order.TIF == common.IOC:
		order.Status = common.StatusCancelled
		order.UpdatedAt = time.Now()
		e.emitState(order)
		result.Cancelled = true

	case selfTradeHalted:
		// CancelTaker/CancelBoth both describe the taker's remainder as
		// rejected/cancelled outright, independent of TIF: a self-trade
		// halt is a matching-time veto, not an ordinary unmatched
		// residual that GTC would otherwise rest.
		order.Status = common.StatusCancelled
		order.UpdatedAt = time.Now()
		e.emitState(order)
		result.Cancelled = true

	default:
		e.restResidual(order)
	}

	return result
}

// restResidual inserts order's residual into its own half-book and emits
// the resulting open/partially-filled transition (spec §4.D step 3).
func (e *Engine) restResidual(order *common.Order) {
	if order.Filled.IsZero() {
		order.Status = common.StatusOpen
	} else {
		order.Status = common.StatusPartiallyFilled
	}
	order.UpdatedAt = time.Now()

	e.ownBook(order.Side).Insert(order.LimitPrice).Push(order)
	e.index[order.ID] = orderLocation{side: order.Side, price: order.LimitPrice}

	e.emitState(order)
}

// cross implements spec §4.D step 2. It mutates order and the opposing
// half-book in place, returning every trade produced and whether
// self-trade prevention stopped the sweep before the opposing side or
// the order's own price limit was exhausted.
func (e *Engine) cross(order *common.Order, stp common.SelfTradePolicy) (fills []common.Trade, selfTradeHalted bool) {
	opposing := e.opposingBook(order.Side)
	priceIsMarket := order.Type == common.Market

	for order.Remaining().IsPositive() && opposing.Crosses(order.LimitPrice, priceIsMarket) {
		lvl := opposing.BestLevel()
		maker := lvl.Peek()

		if stp != common.STPAllow && maker.AccountID == order.AccountID {
			switch stp {
			case common.STPCancelMaker:
				e.cancelMakerInMatch(opposing, lvl, maker)
				continue
			case common.STPCancelBoth:
				e.cancelMakerInMatch(opposing, lvl, maker)
				return fills, true
			case common.STPCancelTaker:
				return fills, true
			}
		}

		fillQty := money.Min(order.Remaining(), maker.Remaining())
		price := lvl.Price

		trade := common.Trade{
			ID:         e.nextTradeID(),
			MakerID:    maker.ID,
			TakerID:    order.ID,
			Symbol:     e.symbol,
			TakerSide:  order.Side,
			Price:      price,
			Quantity:   fillQty,
			Sequence:   e.seq.Next(),
			ExecutedAt: time.Now(),
		}
		e.emitTrade(trade)
		fills = append(fills, trade)

		poppedMaker, popped := lvl.ApplyFill(fillQty)
		poppedMaker.UpdatedAt = time.Now()
		if popped {
			poppedMaker.Status = common.StatusFilled
			delete(e.index, poppedMaker.ID)
		} else {
			poppedMaker.Status = common.StatusPartiallyFilled
		}
		e.emitState(poppedMaker)

		filled, err := order.Filled.Add(fillQty)
		if err != nil {
			panic(fmt.Sprintf("engine: %s: taker fill overflow: %v", e.symbol, err))
		}
		order.Filled = filled

		if lvl.Empty() {
			opposing.DropLevelIfEmpty(lvl.Price)
		}
	}

	return fills, false
}

// cancelMakerInMatch removes a resting maker hit by self-trade
// prevention, exactly as an external Cancel would, during the middle of
// a cross.
func (e *Engine) cancelMakerInMatch(side *book.HalfBook, lvl *book.PriceLevel, maker *common.Order) {
	lvl.RemoveByID(maker.ID)
	maker.Status = common.StatusCancelled
	maker.UpdatedAt = time.Now()
	delete(e.index, maker.ID)
	if lvl.Empty() {
		side.DropLevelIfEmpty(lvl.Price)
	}
	e.emitState(maker)
}

// simulateFillable reports whether req could be fully filled against the
// current opposing book without mutating any state, used for the FOK
// pre-flight check (spec §8 "FOK that can fill all but one lot must not
// partially fill").
func (e *Engine) simulateFillable(req SubmitRequest, stp common.SelfTradePolicy) bool {
	opposing := e.opposingBook(req.Side)
	priceIsMarket := req.Type == common.Market
	need := req.Quantity

	for _, lvl := range opposing.Levels() {
		if !priceIsMarket {
			crosses := lvl.Price.LessOrEqual(req.Price)
			if req.Side == common.Sell {
				crosses = lvl.Price.GreaterOrEqual(req.Price)
			}
			if !crosses {
				break
			}
		}
		for _, o := range lvl.Orders {
			if stp != common.STPAllow && o.AccountID == req.AccountID {
				if stp == common.STPCancelMaker {
					continue
				}
				// CancelTaker/CancelBoth stop the cross at this maker.
				return false
			}
			avail := o.Remaining()
			if avail.GreaterOrEqual(need) {
				return true
			}
			var err error
			need, err = need.Sub(avail)
			if err != nil {
				panic(fmt.Sprintf("engine: %s: FOK pre-flight overflow: %v", e.symbol, err))
			}
		}
	}
	return !need.IsPositive()
}

// Cancel implements spec §4.D's cancel algorithm.
func (e *Engine) Cancel(req CancelRequest) CancelResult {
	if e.fatal != nil {
		return CancelResult{OrderID: req.OrderID, Err: common.ErrEngineFatal}
	}

	loc, ok := e.index[req.OrderID]
	if !ok {
		return CancelResult{OrderID: req.OrderID, Err: common.ErrNotFound}
	}

	own := e.ownBook(loc.side)
	lvl := own.Level(loc.price)
	if lvl == nil {
		return CancelResult{OrderID: req.OrderID, Err: common.ErrNotCancellable}
	}

	order, found := lvl.RemoveByID(req.OrderID)
	if !found {
		return CancelResult{OrderID: req.OrderID, Err: common.ErrNotCancellable}
	}

	delete(e.index, req.OrderID)
	own.DropLevelIfEmpty(loc.price)

	order.Status = common.StatusCancelled
	order.UpdatedAt = time.Now()
	e.emitState(order)

	return CancelResult{OrderID: req.OrderID}
}

// Replace implements spec §4.D's replace algorithm: a pure quantity
// decrease at an unchanged price amends in place, preserving time
// priority; anything else cancels the original and submits a new order,
// losing time priority.
func (e *Engine) Replace(req ReplaceRequest) ReplaceResult {
	if e.fatal != nil {
		return ReplaceResult{Err: common.ErrEngineFatal}
	}

	loc, ok := e.index[req.OrderID]
	if !ok {
		return ReplaceResult{Err: common.ErrNotFound}
	}
	own := e.ownBook(loc.side)
	lvl := own.Level(loc.price)
	if lvl == nil {
		return ReplaceResult{Err: common.ErrNotCancellable}
	}

	var existing *common.Order
	for _, o := range lvl.Orders {
		if o.ID == req.OrderID {
			existing = o
			break
		}
	}
	if existing == nil {
		return ReplaceResult{Err: common.ErrNotCancellable}
	}

	priceUnchanged := req.NewPrice == nil || req.NewPrice.Equal(existing.LimitPrice)
	isDecrease := req.NewQuantity != nil && req.NewQuantity.LessThan(existing.Quantity)

	if priceUnchanged && (req.NewQuantity == nil || isDecrease) {
		return e.amendInPlace(lvl, existing, req.NewQuantity)
	}

	cancelRes := e.Cancel(CancelRequest{OrderID: req.OrderID})
	if cancelRes.Err != nil {
		return ReplaceResult{Err: cancelRes.Err}
	}

	newPrice := existing.LimitPrice
	if req.NewPrice != nil {
		newPrice = *req.NewPrice
	}
	newQty := existing.Remaining()
	if req.NewQuantity != nil {
		newQty = *req.NewQuantity
	}
	stp := existing.STP

	sr := e.Submit(SubmitRequest{
		ClientID:  existing.ClientID,
		AccountID: existing.AccountID,
		Symbol:    existing.Symbol,
		Side:      existing.Side,
		Type:      existing.Type,
		Price:     newPrice,
		Quantity:  newQty,
		TIF:       existing.TIF,
		STP:       &stp,
	})

	return ReplaceResult{Resubmitted: true, NewOrderID: sr.RestingID, Submit: &sr}
}

// amendInPlace shrinks existing's quantity without moving it in the
// queue, adjusting the level's aggregate directly (spec §4.D). A new
// quantity at or below what's already filled leaves nothing left to
// rest, so it terminates the order exactly as a natural fill would
// (spec §4.D: "status may change filled if new quantity ≤ existing
// filled").
func (e *Engine) amendInPlace(lvl *book.PriceLevel, existing *common.Order, newQuantity *money.Decimal) ReplaceResult {
	if newQuantity == nil {
		return ReplaceResult{Amended: true}
	}

	target := *newQuantity
	if target.LessOrEqual(existing.Filled) {
		target = existing.Filled
	}

	delta, err := existing.Quantity.Sub(target)
	if err != nil {
		return ReplaceResult{Err: err}
	}
	existing.Quantity = target
	lvl.ShrinkAggregateBy(delta)
	existing.UpdatedAt = time.Now()

	if existing.Remaining().IsZero() {
		lvl.RemoveByID(existing.ID)
		delete(e.index, existing.ID)
		existing.Status = common.StatusFilled
		e.ownBook(existing.Side).DropLevelIfEmpty(lvl.Price)
	} else if existing.Filled.IsPositive() {
		existing.Status = common.StatusPartiallyFilled
	}

	e.emitState(existing)
	return ReplaceResult{Amended: true}
}
