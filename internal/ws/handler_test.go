package ws

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	appconfig "github.com/omnitutor/tutor-server/internal/config"
	"github.com/omnitutor/tutor-server/internal/params"
	"github.com/omnitutor/tutor-server/internal/storage"
)

type outFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Config    map[string]any `json:"config"`
}

func dialTestHandler(t *testing.T) (*websocket.Conn, *Registry, func()) {
	t.Helper()
	store, err := params.NewStore(filepath.Join(t.TempDir(), "params.json"))
	if err != nil {
		t.Fatalf("params store: %v", err)
	}
	registry := NewRegistry()
	handler := NewHandler(nil, appconfig.Config{}, store, registry)

	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, registry, func() {
		conn.Close()
		srv.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) outFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame outFrame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		t.Fatalf("parse frame %s: %v", data, err)
	}
	return frame
}

func TestHandlerSendsReadyAndRegisters(t *testing.T) {
	conn, registry, done := dialTestHandler(t)
	defer done()

	frame := readFrame(t, conn)
	if frame.Type != "ready" || frame.SessionID == "" {
		t.Fatalf("frame=%+v, want ready with session id", frame)
	}
	if registry.Count() != 1 {
		t.Fatalf("Count=%d, want 1", registry.Count())
	}
}

func TestHandlerFetchConfig(t *testing.T) {
	conn, _, done := dialTestHandler(t)
	defer done()
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"fetch-config"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != "config" {
		t.Fatalf("frame=%+v, want config", frame)
	}
	if frame.Config["voice"] != "Alloy" {
		t.Fatalf("config=%v, want default voice", frame.Config)
	}
}

func TestHandlerConnectWithoutBackendReportsError(t *testing.T) {
	conn, _, done := dialTestHandler(t)
	defer done()
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Message == "" {
		t.Fatalf("frame=%+v, want an error frame", frame)
	}
}

func TestHandlerUnknownAndMalformedFramesIgnored(t *testing.T) {
	conn, registry, done := dialTestHandler(t)
	defer done()
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{nope`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection must survive both.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"fetch-config"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != "config" {
		t.Fatalf("frame=%+v, want config after junk frames", frame)
	}
	if registry.Count() != 1 {
		t.Fatalf("Count=%d, want 1", registry.Count())
	}
}

func TestRegistryRemovalOnClose(t *testing.T) {
	conn, registry, done := dialTestHandler(t)
	readFrame(t, conn)
	done()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count=%d after close, want 0", registry.Count())
}

func TestBridgePersistsUpdatedTranscript(t *testing.T) {
	transcripts := t.TempDir()
	store, err := params.NewStore(filepath.Join(t.TempDir(), "params.json"))
	if err != nil {
		t.Fatalf("params store: %v", err)
	}
	registry := NewRegistry()
	handler := NewHandler(nil, appconfig.Config{TranscriptsDir: transcripts}, store, registry)

	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ready := readFrame(t, conn)

	registry.mu.Lock()
	b := registry.bridges[ready.SessionID]
	registry.mu.Unlock()
	if b == nil {
		t.Fatalf("no bridge registered for %s", ready.SessionID)
	}

	node := b.RenderText("assistant", "The capital of Fr")
	b.UpdateText(node, "The capital of France is Paris.")

	messages, err := storage.GetTranscript(transcripts, ready.SessionID)
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages=%d, want 1", len(messages))
	}
	if messages[0].Text != "The capital of France is Paris." {
		t.Fatalf("text=%q, want the final streamed text stored", messages[0].Text)
	}
}

func TestHandlerChunkedImageRequiresConnection(t *testing.T) {
	conn, _, done := dialTestHandler(t)
	defer done()
	readFrame(t, conn)

	frames := []string{
		`{"type":"image-start","id":"img-1","prompt":"what is this"}`,
		`{"type":"image-chunk","id":"img-1","chunk":"aGVs"}`,
		`{"type":"image-chunk","id":"img-1","chunk":"bG8="}`,
		`{"type":"image-end","id":"img-1"}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// Reassembly completes on image-end, so the upload reaches the session
	// and is rejected for lack of a backend connection.
	frame := readFrame(t, conn)
	if frame.Type != "error" || !strings.Contains(frame.Message, "not connected") {
		t.Fatalf("frame=%+v, want a not-connected error after image-end", frame)
	}
}
