package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcore/internal/common"
	"matchcore/internal/engine"
	"matchcore/internal/money"
)

type stubReplayer struct {
	submits []engine.SubmitRequest
	cancels []engine.CancelRequest
}

func (s *stubReplayer) Submit(req engine.SubmitRequest) (engine.SubmitResult, error) {
	s.submits = append(s.submits, req)
	return engine.SubmitResult{Accepted: true}, nil
}

func (s *stubReplayer) Cancel(_ string, req engine.CancelRequest) (engine.CancelResult, error) {
	s.cancels = append(s.cancels, req)
	return engine.CancelResult{}, nil
}

func (s *stubReplayer) Replace(_ string, req engine.ReplaceRequest) (engine.ReplaceResult, error) {
	return engine.ReplaceResult{}, nil
}

func TestWriterAppendAndReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	w, err := OpenWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(Record{
		Kind:   KindSubmit,
		Symbol: "BTC-USD",
		Submit: &engine.SubmitRequest{
			AccountID: "acct-1",
			Symbol:    "BTC-USD",
			Side:      common.Buy,
			Type:      common.Limit,
			Price:     money.MustFromString("100.00"),
			Quantity:  money.MustFromString("1"),
			TIF:       common.GTC,
		},
	}))
	require.NoError(t, w.Append(Record{
		Kind:   KindCancel,
		Symbol: "BTC-USD",
		Cancel: &engine.CancelRequest{OrderID: "order-1"},
	}))
	require.NoError(t, w.Close())

	stub := &stubReplayer{}
	count, err := Replay(path, stub)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, stub.submits, 1)
	assert.True(t, stub.submits[0].Price.Equal(money.MustFromString("100.00")))
	require.Len(t, stub.cancels, 1)
	assert.Equal(t, "order-1", stub.cancels[0].OrderID)
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	count, err := Replay(filepath.Join(t.TempDir(), "absent.jsonl"), &stubReplayer{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
