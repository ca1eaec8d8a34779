// Package journal provides append-only, JSON-lines persistence of the
// commands submitted to the matching core, and a replay loader that
// rebuilds book state on restart by resubmitting those commands through
// a live dispatcher rather than replaying the engine's own trade/
// order-state event stream (spec §4.D / §9: "recovery should be command
// replay, not full event sourcing, to avoid re-deriving sequence numbers
// that depend on a particular execution's timing").
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"matchcore/internal/engine"
)

// Kind discriminates which of Submit/Cancel/Replace a Record carries.
type Kind int

const (
	KindSubmit Kind = iota
	KindCancel
	KindReplace
)

// Record is one journaled command. Exactly one of Submit/Cancel/Replace
// is populated, matching Kind. Symbol is duplicated onto the record
// (rather than inferred from the nested request) so Cancel and Replace,
// whose own request types carry only an order id, can still be routed
// without a separate order-to-symbol index at replay time.
type Record struct {
	Kind    Kind                   `json:"kind"`
	Symbol  string                 `json:"symbol"`
	Submit  *engine.SubmitRequest  `json:"submit,omitempty"`
	Cancel  *engine.CancelRequest  `json:"cancel,omitempty"`
	Replace *engine.ReplaceRequest `json:"replace,omitempty"`
}

// Writer appends Records to an underlying file, one JSON object per
// line. Every Append is followed by an fsync: a journal that lies about
// durability is worse than no journal, and this core's write volume is
// bounded by its own single-goroutine-per-symbol throughput, so the
// extra syscall per command is an acceptable trade.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// OpenWriter opens path for appending, creating it if necessary.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	return &Writer{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Append writes rec as the next journal line and fsyncs it to disk.
func (w *Writer) Append(rec Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Replayer is the subset of dispatcher.Dispatcher a replay needs. It is
// a narrow interface rather than a direct dependency on the dispatcher
// package so journal stays below dispatcher in the import graph and
// tests can replay against a stub.
type Replayer interface {
	Submit(req engine.SubmitRequest) (engine.SubmitResult, error)
	Cancel(symbol string, req engine.CancelRequest) (engine.CancelResult, error)
	Replace(symbol string, req engine.ReplaceRequest) (engine.ReplaceResult, error)
}

// Replay reads every record from path, in order, and resubmits it to r.
// It returns the number of records replayed. A missing file is not an
// error: a fresh deployment simply has nothing to replay.
func Replay(path string, r Replayer) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	count := 0
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return count, fmt.Errorf("journal: decode record %d: %w", count, err)
		}

		var replayErr error
		switch rec.Kind {
		case KindSubmit:
			if rec.Submit != nil {
				_, replayErr = r.Submit(*rec.Submit)
			}
		case KindCancel:
			if rec.Cancel != nil {
				_, replayErr = r.Cancel(rec.Symbol, *rec.Cancel)
			}
		case KindReplace:
			if rec.Replace != nil {
				_, replayErr = r.Replace(rec.Symbol, *rec.Replace)
			}
		}
		if replayErr != nil {
			return count, fmt.Errorf("journal: replay record %d: %w", count, replayErr)
		}
		count++
	}
	return count, nil
}
