// Package net is the TCP command/event transport (spec §4.J): a binary
// framed protocol carrying Submit/Cancel/Replace commands from a client
// to the dispatcher, and Trade/OrderState/Report events back. Framing
// and worker-pool shape are grounded directly on the teacher's
// internal/net package; the payload is generalized to carry exact
// decimals instead of float64.
package net

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/rs/zerolog/log"

	"matchcore/internal/common"
	"matchcore/internal/engine"
	"matchcore/internal/money"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

// MessageType identifies a client->server command frame.
type MessageType uint16

const (
	MsgHeartbeat MessageType = iota
	MsgSubmit
	MsgCancel
	MsgReplace
	MsgDepthQuery
)

// ReportType identifies a server->client event frame.
type ReportType uint16

const (
	ReportSubmitAck ReportType = iota
	ReportCancelAck
	ReportReplaceAck
	ReportTrade
	ReportOrderState
	ReportDepth
	ReportError
)

const baseHeaderLen = 2 // MessageType

// putDecimal appends d as a fixed 12-byte (mantissa int64, scale int32)
// pair, per spec §4.H. The mantissa is truncated to an int64: tick/lot
// validated order quantities and prices never approach the 38-digit
// overflow ceiling the money package itself enforces internally, so this
// is a wire-size bound, not a silent precision loss for any value that
// could legally reach the transport. IsInt64 guards that assumption
// explicitly rather than trusting it: a coefficient that doesn't fit is
// clamped to the int64 range and logged instead of wrapping silently.
func putDecimal(buf []byte, d money.Decimal) []byte {
	mantissa, scale := d.MantissaScale()
	coeff := mantissa.Int64()
	if !mantissa.IsInt64() {
		log.Error().Str("value", d.String()).Msg("decimal mantissa exceeds wire int64 range; clamping")
		if mantissa.Sign() < 0 {
			coeff = math.MinInt64
		} else {
			coeff = math.MaxInt64
		}
	}
	var tmp [12]byte
	binary.BigEndian.PutUint64(tmp[0:8], uint64(coeff))
	binary.BigEndian.PutUint32(tmp[8:12], uint32(scale))
	return append(buf, tmp[:]...)
}

func getDecimal(b []byte) (money.Decimal, error) {
	if len(b) < 12 {
		return money.Decimal{}, ErrMessageTooShort
	}
	mantissa := int64(binary.BigEndian.Uint64(b[0:8]))
	scale := int32(binary.BigEndian.Uint32(b[8:12]))
	return money.NewFromMantissaScale(mantissa, scale), nil
}

func putString(buf []byte, s string) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, s...)
}

func getString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrMessageTooShort
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	if len(b) < n {
		return "", nil, ErrMessageTooShort
	}
	return string(b[:n]), b[n:], nil
}

// SubmitMessage is the wire form of engine.SubmitRequest.
type SubmitMessage struct {
	ClientID  string
	AccountID string
	Symbol    string
	Side      common.Side
	Type      common.OrderType
	Price     money.Decimal
	Quantity  money.Decimal
	TIF       common.TimeInForce
	STP       common.SelfTradePolicy
	HasSTP    bool
}

// Request converts the wire message to the engine's logical command.
func (m SubmitMessage) Request() engine.SubmitRequest {
	req := engine.SubmitRequest{
		ClientID:  m.ClientID,
		AccountID: m.AccountID,
		Symbol:    m.Symbol,
		Side:      m.Side,
		Type:      m.Type,
		Price:     m.Price,
		Quantity:  m.Quantity,
		TIF:       m.TIF,
	}
	if m.HasSTP {
		stp := m.STP
		req.STP = &stp
	}
	return req
}

func (m SubmitMessage) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint16(buf, uint16(MsgSubmit))
	buf = putString(buf, m.ClientID)
	buf = putString(buf, m.AccountID)
	buf = putString(buf, m.Symbol)
	buf = append(buf, byte(m.Side), byte(m.Type), byte(m.TIF))
	buf = putDecimal(buf, m.Price)
	buf = putDecimal(buf, m.Quantity)
	hasSTP := byte(0)
	if m.HasSTP {
		hasSTP = 1
	}
	buf = append(buf, hasSTP, byte(m.STP))
	return buf
}

func decodeSubmit(b []byte) (SubmitMessage, error) {
	var m SubmitMessage
	var err error
	if m.ClientID, b, err = getString(b); err != nil {
		return m, err
	}
	if m.AccountID, b, err = getString(b); err != nil {
		return m, err
	}
	if m.Symbol, b, err = getString(b); err != nil {
		return m, err
	}
	if len(b) < 3 {
		return m, ErrMessageTooShort
	}
	m.Side, m.Type, m.TIF = common.Side(b[0]), common.OrderType(b[1]), common.TimeInForce(b[2])
	b = b[3:]
	if m.Price, err = getDecimal(b); err != nil {
		return m, err
	}
	b = b[12:]
	if m.Quantity, err = getDecimal(b); err != nil {
		return m, err
	}
	b = b[12:]
	if len(b) < 2 {
		return m, ErrMessageTooShort
	}
	m.HasSTP = b[0] == 1
	m.STP = common.SelfTradePolicy(b[1])
	return m, nil
}

// CancelMessage is the wire form of engine.CancelRequest.
type CancelMessage struct {
	Symbol  string
	OrderID string
}

func (m CancelMessage) Encode() []byte {
	buf := make([]byte, 0, 32)
	buf = binary.BigEndian.AppendUint16(buf, uint16(MsgCancel))
	buf = putString(buf, m.Symbol)
	buf = putString(buf, m.OrderID)
	return buf
}

func decodeCancel(b []byte) (CancelMessage, error) {
	var m CancelMessage
	var err error
	if m.Symbol, b, err = getString(b); err != nil {
		return m, err
	}
	if m.OrderID, _, err = getString(b); err != nil {
		return m, err
	}
	return m, nil
}

// ReplaceMessage is the wire form of engine.ReplaceRequest.
type ReplaceMessage struct {
	Symbol      string
	OrderID     string
	HasPrice    bool
	NewPrice    money.Decimal
	HasQuantity bool
	NewQuantity money.Decimal
}

func (m ReplaceMessage) Request() engine.ReplaceRequest {
	req := engine.ReplaceRequest{OrderID: m.OrderID}
	if m.HasPrice {
		p := m.NewPrice
		req.NewPrice = &p
	}
	if m.HasQuantity {
		q := m.NewQuantity
		req.NewQuantity = &q
	}
	return req
}

func (m ReplaceMessage) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint16(buf, uint16(MsgReplace))
	buf = putString(buf, m.Symbol)
	buf = putString(buf, m.OrderID)
	hasPrice, hasQty := byte(0), byte(0)
	if m.HasPrice {
		hasPrice = 1
	}
	if m.HasQuantity {
		hasQty = 1
	}
	buf = append(buf, hasPrice, hasQty)
	buf = putDecimal(buf, m.NewPrice)
	buf = putDecimal(buf, m.NewQuantity)
	return buf
}

func decodeReplace(b []byte) (ReplaceMessage, error) {
	var m ReplaceMessage
	var err error
	if m.Symbol, b, err = getString(b); err != nil {
		return m, err
	}
	if m.OrderID, b, err = getString(b); err != nil {
		return m, err
	}
	if len(b) < 2 {
		return m, ErrMessageTooShort
	}
	m.HasPrice = b[0] == 1
	m.HasQuantity = b[1] == 1
	b = b[2:]
	if m.NewPrice, err = getDecimal(b); err != nil {
		return m, err
	}
	b = b[12:]
	if m.NewQuantity, err = getDecimal(b); err != nil {
		return m, err
	}
	return m, nil
}

// DepthQueryMessage asks for up to N price levels per side of Symbol.
type DepthQueryMessage struct {
	Symbol string
	Levels uint16
}

func (m DepthQueryMessage) Encode() []byte {
	buf := make([]byte, 0, 16)
	buf = binary.BigEndian.AppendUint16(buf, uint16(MsgDepthQuery))
	buf = putString(buf, m.Symbol)
	buf = binary.BigEndian.AppendUint16(buf, m.Levels)
	return buf
}

func decodeDepthQuery(b []byte) (DepthQueryMessage, error) {
	var m DepthQueryMessage
	var err error
	if m.Symbol, b, err = getString(b); err != nil {
		return m, err
	}
	if len(b) < 2 {
		return m, ErrMessageTooShort
	}
	m.Levels = binary.BigEndian.Uint16(b[0:2])
	return m, nil
}

// ClientMessage is any decoded command frame.
type ClientMessage struct {
	Type    MessageType
	Submit  SubmitMessage
	Cancel  CancelMessage
	Replace ReplaceMessage
	Depth   DepthQueryMessage
}

func parseMessage(msg []byte) (ClientMessage, error) {
	if len(msg) < baseHeaderLen {
		return ClientMessage{}, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]

	switch typeOf {
	case MsgSubmit:
		m, err := decodeSubmit(body)
		return ClientMessage{Type: typeOf, Submit: m}, err
	case MsgCancel:
		m, err := decodeCancel(body)
		return ClientMessage{Type: typeOf, Cancel: m}, err
	case MsgReplace:
		m, err := decodeReplace(body)
		return ClientMessage{Type: typeOf, Replace: m}, err
	case MsgDepthQuery:
		m, err := decodeDepthQuery(body)
		return ClientMessage{Type: typeOf, Depth: m}, err
	case MsgHeartbeat:
		return ClientMessage{Type: typeOf}, nil
	default:
		return ClientMessage{}, ErrInvalidMessageType
	}
}

// Report is the wire form of any server->client event.
type Report struct {
	Type ReportType

	// SubmitAck
	Accepted   bool
	RestingID  string
	Rejected   bool
	RejectKind string
	Cancelled  bool

	// CancelAck / common
	OrderID string
	ErrKind string

	// Trade
	TradeID   string
	MakerID   string
	TakerID   string
	Symbol    string
	TakerSide common.Side
	Price     money.Decimal
	Quantity  money.Decimal
	Sequence  uint64

	// OrderState
	Status common.OrderStatus
	Filled money.Decimal
}

func tradeReport(t common.Trade) Report {
	return Report{
		Type: ReportTrade, TradeID: t.ID, MakerID: t.MakerID, TakerID: t.TakerID,
		Symbol: t.Symbol, TakerSide: t.TakerSide, Price: t.Price, Quantity: t.Quantity,
		Sequence: t.Sequence,
	}
}

func orderStateReport(ev common.OrderStateEvent) Report {
	return Report{
		Type: ReportOrderState, OrderID: ev.OrderID, Status: ev.Status,
		Filled: ev.Filled, Sequence: ev.Sequence,
	}
}

func errorReport(err error) Report {
	return Report{Type: ReportError, ErrKind: errKindString(err)}
}

func errKindString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Serialize encodes r onto the wire. The format favors simplicity over
// density: every Report carries its full fixed field set plus eight
// variable-length strings, since reports are low-frequency relative to
// the command path that putDecimal/getDecimal optimize for.
func (r Report) Serialize() []byte {
	buf := make([]byte, 0, 96)
	buf = binary.BigEndian.AppendUint16(buf, uint16(r.Type))
	buf = putString(buf, r.RestingID)
	buf = putString(buf, r.OrderID)
	buf = putString(buf, r.RejectKind)
	buf = putString(buf, r.ErrKind)
	buf = putString(buf, r.TradeID)
	buf = putString(buf, r.MakerID)
	buf = putString(buf, r.TakerID)
	buf = putString(buf, r.Symbol)

	flags := byte(0)
	if r.Accepted {
		flags |= 1 << 0
	}
	if r.Rejected {
		flags |= 1 << 1
	}
	if r.Cancelled {
		flags |= 1 << 2
	}
	buf = append(buf, flags, byte(r.TakerSide), byte(r.Status))
	buf = putDecimal(buf, r.Price)
	buf = putDecimal(buf, r.Quantity)
	buf = putDecimal(buf, r.Filled)
	buf = binary.BigEndian.AppendUint64(buf, r.Sequence)
	return buf
}

// DecodeReport parses a Report previously produced by Serialize. Used by
// cmd/client's report reader goroutine.
func DecodeReport(b []byte) (Report, error) {
	var r Report
	if len(b) < 2 {
		return r, ErrMessageTooShort
	}
	r.Type = ReportType(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]

	var err error
	if r.RestingID, b, err = getString(b); err != nil {
		return r, err
	}
	if r.OrderID, b, err = getString(b); err != nil {
		return r, err
	}
	if r.RejectKind, b, err = getString(b); err != nil {
		return r, err
	}
	if r.ErrKind, b, err = getString(b); err != nil {
		return r, err
	}
	if r.TradeID, b, err = getString(b); err != nil {
		return r, err
	}
	if r.MakerID, b, err = getString(b); err != nil {
		return r, err
	}
	if r.TakerID, b, err = getString(b); err != nil {
		return r, err
	}
	if r.Symbol, b, err = getString(b); err != nil {
		return r, err
	}
	if len(b) < 3 {
		return r, ErrMessageTooShort
	}
	flags := b[0]
	r.Accepted = flags&(1<<0) != 0
	r.Rejected = flags&(1<<1) != 0
	r.Cancelled = flags&(1<<2) != 0
	r.TakerSide = common.Side(b[1])
	r.Status = common.OrderStatus(b[2])
	b = b[3:]

	if r.Price, err = getDecimal(b); err != nil {
		return r, err
	}
	b = b[12:]
	if r.Quantity, err = getDecimal(b); err != nil {
		return r, err
	}
	b = b[12:]
	if r.Filled, err = getDecimal(b); err != nil {
		return r, err
	}
	b = b[12:]
	if len(b) < 8 {
		return r, ErrMessageTooShort
	}
	r.Sequence = binary.BigEndian.Uint64(b[0:8])
	return r, nil
}

// encodeDepthReport serializes a full depth snapshot as its own frame:
// its nested per-level structure doesn't fit Report's flat field set, so
// depth gets a dedicated frame distinguished by the same leading
// ReportType marker every other frame carries.
func encodeDepthReport(d engine.Depth) []byte {
	buf := make([]byte, 0, 128)
	buf = binary.BigEndian.AppendUint16(buf, uint16(ReportDepth))
	buf = putString(buf, d.Symbol)
	buf = binary.BigEndian.AppendUint64(buf, d.Sequence)
	buf = encodeDepthLevels(buf, d.Bids)
	buf = encodeDepthLevels(buf, d.Asks)
	return buf
}

func encodeDepthLevels(buf []byte, levels []engine.DepthLevel) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(levels)))
	for _, lvl := range levels {
		buf = putDecimal(buf, lvl.Price)
		buf = putDecimal(buf, lvl.OpenQty)
		buf = binary.BigEndian.AppendUint32(buf, uint32(lvl.OrderCount))
	}
	return buf
}

// PeekReportType reads the leading ReportType marker without consuming
// the rest of the frame, so a client can pick DecodeReport or
// DecodeDepthReport before parsing.
func PeekReportType(b []byte) (ReportType, error) {
	if len(b) < 2 {
		return 0, ErrMessageTooShort
	}
	return ReportType(binary.BigEndian.Uint16(b[0:2])), nil
}

// DecodeDepthReport parses a frame written by encodeDepthReport.
func DecodeDepthReport(b []byte) (engine.Depth, error) {
	var d engine.Depth
	if len(b) < 2 {
		return d, ErrMessageTooShort
	}
	b = b[2:]

	var err error
	if d.Symbol, b, err = getString(b); err != nil {
		return d, err
	}
	if len(b) < 8 {
		return d, ErrMessageTooShort
	}
	d.Sequence = binary.BigEndian.Uint64(b[0:8])
	b = b[8:]

	if d.Bids, b, err = decodeDepthLevels(b); err != nil {
		return d, err
	}
	if d.Asks, _, err = decodeDepthLevels(b); err != nil {
		return d, err
	}
	return d, nil
}

func decodeDepthLevels(b []byte) ([]engine.DepthLevel, []byte, error) {
	if len(b) < 2 {
		return nil, nil, ErrMessageTooShort
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	levels := make([]engine.DepthLevel, 0, n)
	for i := 0; i < n; i++ {
		price, err := getDecimal(b)
		if err != nil {
			return nil, nil, err
		}
		b = b[12:]
		qty, err := getDecimal(b)
		if err != nil {
			return nil, nil, err
		}
		b = b[12:]
		if len(b) < 4 {
			return nil, nil, ErrMessageTooShort
		}
		count := int(binary.BigEndian.Uint32(b[0:4]))
		b = b[4:]
		levels = append(levels, engine.DepthLevel{Price: price, OpenQty: qty, OrderCount: count})
	}
	return levels, b, nil
}

func submitAckReport(orderID string, res engine.SubmitResult) Report {
	return Report{
		Type: ReportSubmitAck, Accepted: res.Accepted, RestingID: orderID,
		Rejected: res.Rejected, RejectKind: errKindString(res.RejectKind),
		Cancelled: res.Cancelled,
	}
}

func cancelAckReport(res engine.CancelResult) Report {
	return Report{Type: ReportCancelAck, OrderID: res.OrderID, ErrKind: errKindString(res.Err)}
}

func replaceAckReport(res engine.ReplaceResult) Report {
	r := Report{Type: ReportReplaceAck, ErrKind: errKindString(res.Err)}
	if res.Resubmitted {
		r.RestingID = res.NewOrderID
		r.Accepted = true
	} else if res.Amended {
		r.Accepted = true
	}
	return r
}
