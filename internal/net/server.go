package net

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"matchcore/internal/common"
	"matchcore/internal/dispatcher"
	"matchcore/internal/engine"
	"matchcore/internal/journal"
	"matchcore/internal/sink"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

// ClientSession tracks one connected TCP client.
type ClientSession struct {
	conn net.Conn
}

// clientMessage links a parsed command frame to the connection it
// arrived on, exactly as the teacher's ClientMessage did.
type clientMessage struct {
	clientAddress string
	message       ClientMessage
}

// Server is the TCP front end over a Dispatcher (spec §4.J). It
// generalizes the teacher's internal/net.Server: one bounded worker pool
// reads frames off connections, a single session handler goroutine
// applies them to the dispatcher, and a separate report-fanout goroutine
// drains the dispatcher's event sink and routes each event back to
// whichever connected client owns the order it concerns.
type Server struct {
	address string
	port    int
	disp    *dispatcher.Dispatcher
	events  *sink.Channel

	pool    WorkerPool
	cancel  context.CancelFunc
	journal *journal.Writer

	sessionsLock sync.Mutex
	sessions     map[string]ClientSession
	orderOwner   map[string]string // order id -> client address

	clientMessages chan clientMessage
}

// New builds a Server fronting disp. events is the shared sink every
// symbol's engine should be configured to emit through; the server only
// ever reads from it.
func New(address string, port int, disp *dispatcher.Dispatcher, events *sink.Channel) *Server {
	return &Server{
		address:        address,
		port:           port,
		disp:           disp,
		events:         events,
		pool:           NewWorkerPool(defaultNWorkers),
		sessions:       make(map[string]ClientSession),
		orderOwner:     make(map[string]string),
		clientMessages: make(chan clientMessage, 1),
	}
}

// SetJournal attaches w as the server's command journal: every accepted
// Submit/Cancel/Replace is appended to it before being routed to the
// dispatcher, so a restart can replay exactly what a client asked for
// (spec §4.L). Passing nil (the default) runs with no persistence.
func (s *Server) SetJournal(w *journal.Writer) {
	s.journal = w
}

func (s *Server) journalAppend(rec journal.Record) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(rec); err != nil {
		log.Error().Err(err).Msg("failed to append journal record")
	}
}

// Shutdown requests the server's Run loop to stop.
func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})
	t.Go(func() error {
		return s.reportFanout(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("client connected")
			s.addSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// reportFanout drains the shared event channel and routes each event to
// whichever client owns the order it concerns (spec §4.J).
func (s *Server) reportFanout(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case event := <-s.events.C:
			s.routeEvent(event)
		}
	}
}

func (s *Server) routeEvent(event common.Event) {
	switch {
	case event.Trade != nil:
		trade := *event.Trade
		report := tradeReport(trade)
		s.sendToOwner(trade.MakerID, report)
		s.sendToOwner(trade.TakerID, report)
	case event.OrderState != nil:
		st := *event.OrderState
		s.sendToOwner(st.OrderID, orderStateReport(st))
		if st.Status.Terminal() {
			s.forgetOwner(st.OrderID)
		}
	}
}

func (s *Server) sendToOwner(orderID string, report Report) {
	s.sessionsLock.Lock()
	address, ok := s.orderOwner[orderID]
	s.sessionsLock.Unlock()
	if !ok {
		return
	}
	s.writeRaw(address, report.Serialize())
}

func (s *Server) rememberOwner(orderID, address string) {
	s.sessionsLock.Lock()
	s.orderOwner[orderID] = address
	s.sessionsLock.Unlock()
}

func (s *Server) forgetOwner(orderID string) {
	s.sessionsLock.Lock()
	delete(s.orderOwner, orderID)
	s.sessionsLock.Unlock()
}

func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.clientMessages:
			s.handleMessage(msg)
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) {
	switch msg.message.Type {
	case MsgSubmit:
		req := msg.message.Submit.Request()
		s.journalAppend(journal.Record{Kind: journal.KindSubmit, Symbol: req.Symbol, Submit: &req})
		res, err := s.disp.Submit(req)
		if err != nil {
			s.writeTo(msg.clientAddress, errorReport(err))
			return
		}
		if res.Accepted {
			s.rememberOwner(res.RestingID, msg.clientAddress)
		}
		s.writeTo(msg.clientAddress, submitAckReport(res.RestingID, res))

	case MsgCancel:
		cancelReq := engine.CancelRequest{OrderID: msg.message.Cancel.OrderID}
		s.journalAppend(journal.Record{Kind: journal.KindCancel, Symbol: msg.message.Cancel.Symbol, Cancel: &cancelReq})
		res, err := s.disp.Cancel(msg.message.Cancel.Symbol, cancelReq)
		if err != nil {
			s.writeTo(msg.clientAddress, errorReport(err))
			return
		}
		s.writeTo(msg.clientAddress, cancelAckReport(res))

	case MsgReplace:
		replaceReq := msg.message.Replace.Request()
		s.journalAppend(journal.Record{Kind: journal.KindReplace, Symbol: msg.message.Replace.Symbol, Replace: &replaceReq})
		res, err := s.disp.Replace(msg.message.Replace.Symbol, replaceReq)
		if err != nil {
			s.writeTo(msg.clientAddress, errorReport(err))
			return
		}
		if res.Resubmitted && res.Submit != nil && res.Submit.Accepted {
			s.rememberOwner(res.NewOrderID, msg.clientAddress)
		}
		s.writeTo(msg.clientAddress, replaceAckReport(res))

	case MsgDepthQuery:
		depth, err := s.disp.Depth(msg.message.Depth.Symbol, int(msg.message.Depth.Levels))
		if err != nil {
			s.writeTo(msg.clientAddress, errorReport(err))
			return
		}
		s.writeRaw(msg.clientAddress, encodeDepthReport(depth))

	case MsgHeartbeat:
		// No response required; the connection read loop itself is the
		// liveness signal.

	default:
		log.Error().Int("type", int(msg.message.Type)).Msg("unhandled message type")
	}
}

func (s *Server) writeTo(address string, report Report) {
	s.writeRaw(address, report.Serialize())
}

func (s *Server) writeRaw(address string, frame []byte) {
	s.sessionsLock.Lock()
	sess, ok := s.sessions[address]
	s.sessionsLock.Unlock()
	if !ok {
		return
	}
	if _, err := sess.conn.Write(frame); err != nil {
		log.Error().Err(err).Str("address", address).Msg("failed writing response to client")
		s.deleteSession(address)
	}
}

// handleConnection reads exactly one frame off conn, hands it to the
// session handler, and re-queues the connection for its next frame. A
// read/parse failure ends that connection's session (matches the
// teacher's handleConnection contract).
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return fmt.Errorf("net: unexpected task type %T", task)
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Err(err).Msg("failed setting connection deadline")
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			log.Info().Str("address", conn.RemoteAddr().String()).Err(err).Msg("connection closed")
			s.deleteSession(conn.RemoteAddr().String())
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing message")
			s.deleteSession(conn.RemoteAddr().String())
			return nil
		}

		s.clientMessages <- clientMessage{
			clientAddress: conn.RemoteAddr().String(),
			message:       message,
		}
		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[conn.RemoteAddr().String()] = ClientSession{conn: conn}
}

func (s *Server) deleteSession(address string) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	delete(s.sessions, address)
}
