package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu       sync.Mutex
	channels []string
	payloads []string
	errs     map[string]error
}

func (r *recordingSink) HandleMessage(channel string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	r.payloads = append(r.payloads, string(data))
	if r.errs != nil {
		return r.errs[channel]
	}
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *recordingSink) last() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 {
		return "", ""
	}
	return r.channels[len(r.channels)-1], r.payloads[len(r.payloads)-1]
}

func startServer(t *testing.T, sink Sink) *Server {
	t.Helper()
	s := New("127.0.0.1:0", sink, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBridge_InboundFrameReachesSink(t *testing.T) {
	sink := &recordingSink{}
	s := startServer(t, sink)
	conn := dial(t, s)

	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"channel":"playbackTime","data":{"position":42}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool { return sink.count() == 1 })
	channel, payload := sink.last()
	if channel != "playbackTime" {
		t.Errorf("channel = %q, want playbackTime", channel)
	}
	if payload != `{"position":42}` {
		t.Errorf("payload = %q", payload)
	}
}

func TestBridge_MalformedFrameKeepsConnection(t *testing.T) {
	sink := &recordingSink{}
	s := startServer(t, sink)
	conn := dial(t, s)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"channel":"shuffle","data":{"mode":true}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	// The valid frame after the malformed ones still arrives.
	waitFor(t, func() bool { return sink.count() == 1 })
	channel, _ := sink.last()
	if channel != "shuffle" {
		t.Errorf("channel = %q, want shuffle", channel)
	}
}

func TestBridge_DispatchWithoutPage(t *testing.T) {
	s := startServer(t, &recordingSink{})

	if err := s.Dispatch("playpause", nil); err != ErrNotConnected {
		t.Errorf("Dispatch() = %v, want ErrNotConnected", err)
	}
}

func TestBridge_DispatchReachesPage(t *testing.T) {
	s := startServer(t, &recordingSink{})
	conn := dial(t, s)

	// Wait for the server to register the connection.
	waitFor(t, func() bool { return s.Dispatch("playpause", nil) == nil })

	var frame struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Channel != "playpause" {
		t.Errorf("channel = %q, want playpause", frame.Channel)
	}
	if len(frame.Data) != 0 {
		t.Errorf("bare command carried data: %s", frame.Data)
	}
}

func TestBridge_DispatchPayload(t *testing.T) {
	s := startServer(t, &recordingSink{})
	conn := dial(t, s)

	waitFor(t, func() bool {
		return s.Dispatch("playbackTime", map[string]float64{"progress": 120}) == nil
	})

	var frame struct {
		Channel string `json:"channel"`
		Data    struct {
			Progress float64 `json:"progress"`
		} `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Channel != "playbackTime" || frame.Data.Progress != 120 {
		t.Errorf("frame = %+v", frame)
	}
}

func TestBridge_NewConnectionReplacesOld(t *testing.T) {
	sink := &recordingSink{}
	s := startServer(t, sink)

	first := dial(t, s)
	waitFor(t, func() bool { return s.Dispatch("playpause", nil) == nil })

	second := dial(t, s)
	err := second.WriteMessage(websocket.TextMessage,
		[]byte(`{"channel":"playbackState","data":{"state":"playing"}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return sink.count() == 1 })

	// Outbound traffic now goes to the second connection.
	if err := s.Dispatch("nextTrack", nil); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	var frame struct {
		Channel string `json:"channel"`
	}
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := second.ReadJSON(&frame); err != nil {
		t.Fatalf("read on second: %v", err)
	}
	if frame.Channel != "nextTrack" {
		t.Errorf("channel = %q, want nextTrack", frame.Channel)
	}

	// The first connection was closed by the replacement.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
}

func TestBridge_SinkErrorKeepsConnection(t *testing.T) {
	sink := &recordingSink{errs: map[string]error{"bogus": ErrNotConnected}}
	s := startServer(t, sink)
	conn := dial(t, s)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"channel":"playbackTime","data":{"position":1}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool { return sink.count() == 2 })
}
