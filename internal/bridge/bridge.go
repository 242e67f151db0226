// Package bridge carries the channel protocol between the embedded page
// script and the player hub over a loopback websocket. Inbound frames are
// delivered to the sink; outbound commands go to the single page
// connection.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Dispatch when no page is connected.
var ErrNotConnected = errors.New("page not connected")

// Sink receives inbound page messages. *player.Player satisfies it.
type Sink interface {
	HandleMessage(channel string, data json.RawMessage) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(channel string, data json.RawMessage) error

// HandleMessage implements Sink.
func (f SinkFunc) HandleMessage(channel string, data json.RawMessage) error {
	return f(channel, data)
}

// envelope is the wire frame. Data is absent for bare commands like
// playpause.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Server owns the loopback listener and the single page connection. A new
// page connection replaces the previous one, which covers page reloads.
type Server struct {
	addr string
	sink Sink
	log  *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates the bridge server. It does not listen until Start.
func New(addr string, sink Sink, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr: addr,
		sink: sink,
		log:  log,
		upgrader: websocket.Upgrader{
			// The listener is loopback-only; the page origin is the
			// remote music service and never matches the host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding bridge listener: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("bridge server stopped", zap.Error(err))
		}
	}()

	s.log.Info("bridge listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown closes the page connection and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Dispatch implements player.Dispatcher. Payloads marshal into the frame's
// data field; nil payloads produce a bare command frame.
func (s *Server) Dispatch(channel string, payload any) error {
	frame := envelope{Channel: channel}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", channel, err)
		}
		frame.Data = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", channel, err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.log.Info("page reconnected, replacing connection")
		_ = s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("page connected", zap.String("remote", conn.RemoteAddr().String()))
	s.readLoop(conn)
}

// readLoop delivers inbound frames until the connection drops. A malformed
// frame is logged and dropped; the connection stays up.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("page connection lost", zap.Error(err))
			}
			return
		}

		var frame envelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if frame.Channel == "" {
			s.log.Warn("dropping frame without channel")
			continue
		}

		if err := s.sink.HandleMessage(frame.Channel, frame.Data); err != nil {
			s.log.Warn("inbound message rejected",
				zap.String("channel", frame.Channel), zap.Error(err))
		}
	}
}
