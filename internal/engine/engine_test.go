package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcore/internal/common"
	"matchcore/internal/money"
	"matchcore/internal/registry"
	"matchcore/internal/sink"
)

func testMeta() registry.SymbolMetadata {
	return registry.SymbolMetadata{
		Symbol:         "BTC-USD",
		TickSize:       money.MustFromString("0.01"),
		LotSize:        money.MustFromString("0.0001"),
		MinPrice:       money.MustFromString("0.01"),
		MaxPrice:       money.MustFromString("1000000.00"),
		MaxOrderQty:    money.MustFromString("10000"),
		DefaultSTP:     common.STPAllow,
		InboxHighWater: 10000,
	}
}

func newTestEngine() (*Engine, *sink.Recording) {
	rec := &sink.Recording{}
	e := New(testMeta(), rec, NewSequence(0))
	return e, rec
}

func limitReq(accountID string, side common.Side, price, qty string, tif common.TimeInForce) SubmitRequest {
	return SubmitRequest{
		ClientID:  "client-" + accountID,
		AccountID: accountID,
		Symbol:    "BTC-USD",
		Side:      side,
		Type:      common.Limit,
		Price:     money.MustFromString(price),
		Quantity:  money.MustFromString(qty),
		TIF:       tif,
	}
}

func TestSubmitRestsWhenNoCross(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(limitReq("acct-1", common.Buy, "99.00", "1", common.GTC))
	require.True(t, res.Accepted)
	assert.Empty(t, res.Fills)

	top := e.TopOfBook()
	require.True(t, top.HasBid)
	assert.True(t, top.BestBidPrice.Equal(money.MustFromString("99.00")))
	assert.True(t, top.BestBidSize.Equal(money.MustFromString("1")))
	assert.False(t, top.HasAsk)
}

func TestSubmitExactCrossFillsBothFully(t *testing.T) {
	e, rec := newTestEngine()

	e.Submit(limitReq("acct-maker", common.Sell, "100.00", "2", common.GTC))
	res := e.Submit(limitReq("acct-taker", common.Buy, "100.00", "2", common.GTC))

	require.True(t, res.Accepted)
	require.Len(t, res.Fills, 1)
	trade := res.Fills[0]
	assert.True(t, trade.Price.Equal(money.MustFromString("100.00")))
	assert.True(t, trade.Quantity.Equal(money.MustFromString("2")))

	assert.True(t, e.bids.Empty())
	assert.True(t, e.asks.Empty())

	var tradeEvents, stateEvents int
	for _, ev := range rec.Events {
		if ev.Trade != nil {
			tradeEvents++
		}
		if ev.OrderState != nil {
			stateEvents++
		}
	}
	assert.Equal(t, 1, tradeEvents)
	assert.Equal(t, 3, stateEvents) // maker open, maker filled, taker filled
}

func TestSubmitPartialFillRestsTakerResidual(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-maker", common.Sell, "100.00", "1", common.GTC))
	res := e.Submit(limitReq("acct-taker", common.Buy, "100.00", "3", common.GTC))

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Quantity.Equal(money.MustFromString("1")))

	top := e.TopOfBook()
	require.True(t, top.HasBid)
	assert.True(t, top.BestBidSize.Equal(money.MustFromString("2")))
	assert.False(t, top.HasAsk)
}

// TestPriceTimePrioritySweepAcrossLevels mirrors the teacher's
// multi-level sweep scenario: three resting sells on two ask levels, then
// a marketable buy that should consume price levels low-to-high and
// orders within a level FIFO.
func TestPriceTimePrioritySweepAcrossLevels(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-s1", common.Sell, "100.00", "1", common.GTC))
	e.Submit(limitReq("acct-s2", common.Sell, "100.00", "1", common.GTC))
	e.Submit(limitReq("acct-s3", common.Sell, "101.00", "1", common.GTC))

	res := e.Submit(limitReq("acct-taker", common.Buy, "101.00", "2.5", common.GTC))
	require.Len(t, res.Fills, 3)

	assert.True(t, res.Fills[0].Price.Equal(money.MustFromString("100.00")))
	assert.True(t, res.Fills[1].Price.Equal(money.MustFromString("100.00")))
	assert.True(t, res.Fills[2].Price.Equal(money.MustFromString("101.00")))
	assert.True(t, res.Fills[2].Quantity.Equal(money.MustFromString("0.5")))
	assert.NotEqual(t, res.Fills[0].MakerID, res.Fills[1].MakerID)

	top := e.TopOfBook()
	require.True(t, top.HasAsk)
	assert.True(t, top.BestAskPrice.Equal(money.MustFromString("101.00")))
	assert.True(t, top.BestAskSize.Equal(money.MustFromString("0.5")))
}

func TestMarketOrderNeverRests(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-maker", common.Sell, "100.00", "1", common.GTC))
	res := e.Submit(SubmitRequest{
		AccountID: "acct-taker",
		Symbol:    "BTC-USD",
		Side:      common.Buy,
		Type:      common.Market,
		Quantity:  money.MustFromString("5"),
		TIF:       common.GTC,
	})

	require.True(t, res.Accepted)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Fills, 1)
	assert.True(t, e.asks.Empty())
	assert.True(t, e.bids.Empty())
}

func TestIOCCancelsUnfilledResidual(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-maker", common.Sell, "100.00", "1", common.GTC))
	res := e.Submit(limitReq("acct-taker", common.Buy, "100.00", "3", common.IOC))

	require.True(t, res.Cancelled)
	assert.True(t, e.bids.Empty())
	require.Len(t, res.Fills, 1)
}

func TestFOKRejectsWhenUnfillable(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-maker", common.Sell, "100.00", "1", common.GTC))
	res := e.Submit(limitReq("acct-taker", common.Buy, "100.00", "2", common.FOK))

	require.True(t, res.Rejected)
	assert.ErrorIs(t, res.RejectKind, common.ErrTifUnfillable)
	// No side effects: the maker's order is untouched.
	top := e.TopOfBook()
	assert.True(t, top.BestAskSize.Equal(money.MustFromString("1")))
}

func TestFOKFillsCompletelyWhenPossible(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-s1", common.Sell, "100.00", "1", common.GTC))
	e.Submit(limitReq("acct-s2", common.Sell, "100.50", "1", common.GTC))

	res := e.Submit(limitReq("acct-taker", common.Buy, "100.50", "2", common.FOK))
	require.True(t, res.Accepted)
	require.Len(t, res.Fills, 2)
	assert.True(t, e.asks.Empty())
}

func TestSelfTradeCancelTakerHaltsWithoutConsumingMaker(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-a", common.Sell, "100.00", "1", common.GTC))
	stp := common.STPCancelTaker
	res := e.Submit(SubmitRequest{
		AccountID: "acct-a",
		Symbol:    "BTC-USD",
		Side:      common.Buy,
		Type:      common.Limit,
		Price:     money.MustFromString("100.00"),
		Quantity:  money.MustFromString("1"),
		TIF:       common.IOC,
		STP:       &stp,
	})

	assert.Empty(t, res.Fills)
	assert.True(t, res.Cancelled)
	top := e.TopOfBook()
	assert.True(t, top.BestAskSize.Equal(money.MustFromString("1")))
}

func TestSelfTradeCancelMakerRemovesMakerAndContinues(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-a", common.Sell, "100.00", "1", common.GTC))
	e.Submit(limitReq("acct-b", common.Sell, "100.00", "1", common.GTC))

	stp := common.STPCancelMaker
	res := e.Submit(SubmitRequest{
		AccountID: "acct-a",
		Symbol:    "BTC-USD",
		Side:      common.Buy,
		Type:      common.Limit,
		Price:     money.MustFromString("100.00"),
		Quantity:  money.MustFromString("1"),
		TIF:       common.GTC,
		STP:       &stp,
	})

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].MakerID != "")
	assert.True(t, e.asks.Empty())
}

func TestSelfTradeCancelBothCancelsMakerAndTakerResidual(t *testing.T) {
	e, _ := newTestEngine()

	e.Submit(limitReq("acct-a", common.Sell, "100.00", "1", common.GTC))

	stp := common.STPCancelBoth
	res := e.Submit(SubmitRequest{
		AccountID: "acct-a",
		Symbol:    "BTC-USD",
		Side:      common.Buy,
		Type:      common.Limit,
		Price:     money.MustFromString("100.00"),
		Quantity:  money.MustFromString("1"),
		TIF:       common.GTC,
		STP:       &stp,
	})

	assert.Empty(t, res.Fills)
	assert.True(t, e.asks.Empty())
	assert.True(t, e.bids.Empty())
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(limitReq("acct-1", common.Buy, "99.00", "1", common.GTC))
	cr := e.Cancel(CancelRequest{OrderID: res.RestingID})
	require.NoError(t, cr.Err)
	assert.True(t, e.bids.Empty())

	cr2 := e.Cancel(CancelRequest{OrderID: res.RestingID})
	assert.ErrorIs(t, cr2.Err, common.ErrNotFound)
}

func TestReplaceQuantityDecreaseAmendsInPlace(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(limitReq("acct-1", common.Buy, "99.00", "3", common.GTC))
	newQty := money.MustFromString("1")
	rr := e.Replace(ReplaceRequest{OrderID: res.RestingID, NewQuantity: &newQty})

	require.NoError(t, rr.Err)
	assert.True(t, rr.Amended)
	top := e.TopOfBook()
	assert.True(t, top.BestBidSize.Equal(money.MustFromString("1")))
}

func TestReplaceQuantityDecreaseBelowFilledTerminatesOrder(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(limitReq("acct-1", common.Buy, "99.00", "1.0", common.GTC))
	e.Submit(limitReq("acct-2", common.Sell, "99.00", "0.6", common.GTC))

	newQty := money.MustFromString("0.3")
	rr := e.Replace(ReplaceRequest{OrderID: res.RestingID, NewQuantity: &newQty})

	require.NoError(t, rr.Err)
	assert.True(t, rr.Amended)

	top := e.TopOfBook()
	assert.False(t, top.HasBid)

	_, stillIndexed := e.index[res.RestingID]
	assert.False(t, stillIndexed)

	cr := e.Cancel(CancelRequest{OrderID: res.RestingID})
	assert.ErrorIs(t, cr.Err, common.ErrNotFound)
}

func TestReplacePriceChangeResubmitsWithNewID(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(limitReq("acct-1", common.Buy, "99.00", "1", common.GTC))
	newPrice := money.MustFromString("99.50")
	rr := e.Replace(ReplaceRequest{OrderID: res.RestingID, NewPrice: &newPrice})

	require.NoError(t, rr.Err)
	assert.True(t, rr.Resubmitted)
	assert.NotEqual(t, res.RestingID, rr.NewOrderID)

	_, stillThere := e.index[res.RestingID]
	assert.False(t, stillThere)
	top := e.TopOfBook()
	assert.True(t, top.BestBidPrice.Equal(money.MustFromString("99.50")))
}

// TestOrderAndTradeIDsAreDeterministicAcrossReplay simulates a journal
// replay: a fresh engine fed the exact same command sequence as the
// original run must regenerate the exact same order and trade ids, so a
// journaled Cancel/Replace naming the original run's order id still
// resolves (spec §4.L, §8 property 6).
func TestOrderAndTradeIDsAreDeterministicAcrossReplay(t *testing.T) {
	original, _ := newTestEngine()
	replay, _ := newTestEngine()

	makerReq := limitReq("acct-maker", common.Sell, "100.00", "1", common.GTC)
	takerReq := limitReq("acct-taker", common.Buy, "100.00", "1", common.GTC)

	origMaker := original.Submit(makerReq)
	replayMaker := replay.Submit(makerReq)
	assert.Equal(t, origMaker.RestingID, replayMaker.RestingID)

	origTaker := original.Submit(takerReq)
	replayTaker := replay.Submit(takerReq)
	require.Len(t, origTaker.Fills, 1)
	require.Len(t, replayTaker.Fills, 1)
	assert.Equal(t, origTaker.Fills[0].ID, replayTaker.Fills[0].ID)
	assert.Equal(t, origTaker.RestingID, replayTaker.RestingID)

	// A Cancel naming the id the original run handed back still resolves
	// against the independently replayed engine.
	secondMaker := limitReq("acct-maker", common.Sell, "101.00", "1", common.GTC)
	origSecond := original.Submit(secondMaker)
	replay.Submit(secondMaker)

	cr := replay.Cancel(CancelRequest{OrderID: origSecond.RestingID})
	assert.NoError(t, cr.Err)
}

func TestRejectedSubmitHasNoSideEffects(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(limitReq("acct-1", common.Buy, "99.005", "1", common.GTC)) // not a tick multiple
	assert.True(t, res.Rejected)
	assert.ErrorIs(t, res.RejectKind, common.ErrInvalidPrice)
	assert.True(t, e.bids.Empty())
}

func TestUnsupportedOrderTypeIsRejected(t *testing.T) {
	e, _ := newTestEngine()

	res := e.Submit(SubmitRequest{
		AccountID: "acct-1",
		Symbol:    "BTC-USD",
		Side:      common.Buy,
		Type:      common.Stop,
		Quantity:  money.MustFromString("1"),
	})
	assert.True(t, res.Rejected)
	assert.ErrorIs(t, res.RejectKind, common.ErrUnsupportedOrderType)
}

func TestSequenceIsStrictlyMonotonicAcrossEvents(t *testing.T) {
	e, rec := newTestEngine()

	e.Submit(limitReq("acct-maker", common.Sell, "100.00", "1", common.GTC))
	e.Submit(limitReq("acct-taker", common.Buy, "100.00", "1", common.GTC))

	var last uint64
	for i, ev := range rec.Events {
		seq := ev.Seq()
		if i > 0 {
			assert.Greater(t, seq, last)
		}
		last = seq
	}
}

func TestFatalSinkStopsFurtherCommands(t *testing.T) {
	e, _ := newTestEngine()
	e.sink = failingSink{}

	res := e.Submit(limitReq("acct-1", common.Buy, "99.00", "1", common.GTC))
	assert.True(t, res.Accepted) // the order was processed; the sink failure happens during emit
	require.Error(t, e.Fatal())

	res2 := e.Submit(limitReq("acct-2", common.Buy, "99.00", "1", common.GTC))
	assert.True(t, res2.Rejected)
	assert.ErrorIs(t, res2.RejectKind, common.ErrEngineFatal)
}

type failingSink struct{}

func (failingSink) Emit(common.Event) error { return assert.AnError }
