package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/note-9/health-monitor/errors"
)

// closeGracePeriod bounds the going-away close frame write
const closeGracePeriod = time.Second

type outboundFrame struct {
	data   []byte
	result chan error
}

// echoFrame is the reply to a client text frame
type echoFrame struct {
	Echo string `json:"echo"`
}

// wsSubscriber adapts one WebSocket connection to fanout.Subscriber.
// writePump is the only goroutine that writes to conn; Send hands frames to
// it and waits for the write result.
type wsSubscriber struct {
	id           string
	conn         *websocket.Conn
	outbound     chan outboundFrame
	done         chan struct{}
	writerDone   chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

func newWSSubscriber(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *wsSubscriber {
	id := uuid.NewString()
	sub := &wsSubscriber{
		id:           id,
		conn:         conn,
		outbound:     make(chan outboundFrame),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger.With("subscriber", id),
	}
	go sub.writePump()
	return sub
}

// ID returns the subscriber's unique id
func (s *wsSubscriber) ID() string { return s.id }

// Send writes data as one text frame and returns the write result
func (s *wsSubscriber) Send(ctx context.Context, data []byte) error {
	frame := outboundFrame{data: data, result: make(chan error, 1)}

	select {
	case s.outbound <- frame:
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "wsSubscriber", "Send", "queue frame")
	}

	select {
	case err := <-frame.result:
		if err != nil {
			return errors.WrapTransient(err, "wsSubscriber", "Send", "write frame")
		}
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "wsSubscriber", "Send", "await write")
	}
}

func (s *wsSubscriber) closedErr() error {
	return errors.WrapTransient(errors.ErrSubscriberClosed, "wsSubscriber", "Send", "send to "+s.id)
}

// Close stops the writer, which sends a going-away close frame and closes
// the connection. Safe to call more than once and from any goroutine.
func (s *wsSubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.writerDone
	return nil
}

func (s *wsSubscriber) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := s.conn.WriteMessage(websocket.TextMessage, frame.data)
			frame.result <- err
			if err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				s.closeOnce.Do(func() { close(s.done) })
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				s.closeOnce.Do(func() { close(s.done) })
				return
			}

		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
			return
		}
	}
}

// handleWebSocket upgrades the request, registers the subscriber for
// broadcasts and runs the receive loop until the peer goes away
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	respHeader := http.Header{}
	respHeader.Set(RequestIDHeader, RequestID(r.Context()))

	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Debug("websocket upgrade failed", "error", err, "request_id", RequestID(r.Context()))
		return
	}

	sub := newWSSubscriber(conn, s.cfg.WriteTimeout.Std(), s.cfg.PingInterval.Std(), s.logger)
	s.subs.Add(sub)
	if s.closing.Load() {
		s.subs.Remove(sub)
		_ = sub.Close()
		return
	}

	if s.metrics != nil {
		s.metrics.wsConnections.Inc()
		s.metrics.wsActive.Inc()
	}
	s.logger.Info("websocket subscriber connected",
		"subscriber", sub.ID(), "remote", r.RemoteAddr, "subscribers", s.subs.Len())

	defer func() {
		s.subs.Remove(sub)
		_ = sub.Close()
		if s.metrics != nil {
			s.metrics.wsActive.Dec()
		}
		s.logger.Info("websocket subscriber disconnected",
			"subscriber", sub.ID(), "subscribers", s.subs.Len())
	}()

	s.readLoop(r.Context(), conn, sub)
}

// readLoop echoes text frames and ignores binary ones. Each frame or pong
// extends the read deadline by PongWait.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sub *wsSubscriber) {
	pongWait := s.cfg.PongWait.Std()
	conn.SetReadLimit(s.cfg.ReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.EchoRate), s.cfg.EchoBurst)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "subscriber", sub.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		reply, err := json.Marshal(echoFrame{Echo: string(data)})
		if err != nil {
			continue
		}
		if err := sub.Send(ctx, reply); err != nil {
			s.logger.Debug("websocket echo failed", "subscriber", sub.ID(), "error", err)
			return
		}
		if s.metrics != nil {
			s.metrics.wsEchoes.Inc()
		}
	}
}
