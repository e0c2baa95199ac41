package httpapi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	appconfig "github.com/omnitutor/tutor-server/internal/config"
	"github.com/omnitutor/tutor-server/internal/params"
	"github.com/omnitutor/tutor-server/internal/protocol"
	"github.com/omnitutor/tutor-server/internal/storage"
	"github.com/omnitutor/tutor-server/internal/ws"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	store, err := params.NewStore(filepath.Join(dir, "params.json"))
	if err != nil {
		t.Fatalf("params store: %v", err)
	}
	mcps, err := storage.NewMCPRegistry(filepath.Join(dir, "mcps.json"))
	if err != nil {
		t.Fatalf("mcp registry: %v", err)
	}
	cfg := appconfig.Config{TranscriptsDir: filepath.Join(dir, "transcripts")}
	registry := ws.NewRegistry()
	return NewRouter(cfg, Deps{
		WS:       ws.NewHandler(nil, cfg, store, registry),
		Registry: registry,
		Params:   store,
		MCPs:     mcps,
	}, nil)
}

func doJSON(t *testing.T, router *gin.Engine, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sessions":0`) {
		t.Fatalf("body=%s, want session count", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"session_ids":[]`) {
		t.Fatalf("body=%s, want empty session id list", w.Body.String())
	}
}

func TestConfigRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /config status=%d", w.Code)
	}
	var cfg protocol.SessionConfig
	if err := sonic.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg != protocol.DefaultSessionConfig() {
		t.Fatalf("cfg=%+v, want defaults", cfg)
	}

	w = doJSON(t, router, http.MethodPost, "/config",
		`{"temperature":1.0,"voice":"Sage","threshold":0.6,"prefix_padding_ms":200,"silence_duration_ms":700}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /config status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/config", "")
	if err := sonic.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Voice != "Sage" || cfg.SilenceDurationMs != 700 {
		t.Fatalf("cfg=%+v, want updated values", cfg)
	}
}

func TestMCPEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/mcps", `{"name":"calculator","url":"http://localhost:9210/mcp"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status=%d body=%s", w.Code, w.Body.String())
	}
	var entry storage.MCP
	if err := sonic.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry.ID == "" || !entry.Enabled {
		t.Fatalf("entry=%+v", entry)
	}

	w = doJSON(t, router, http.MethodPatch, "/api/mcps/"+entry.ID+"/enable", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH status=%d body=%s", w.Code, w.Body.String())
	}
	if err := sonic.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry.Enabled {
		t.Fatal("entry still enabled")
	}

	w = doJSON(t, router, http.MethodGet, "/api/mcps", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "calculator") {
		t.Fatalf("GET list status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/mcps/"+entry.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE status=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodDelete, "/api/mcps/"+entry.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second DELETE status=%d, want 404", w.Code)
	}
}

func TestMCPValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/mcps", `{"name":"","url":"http://x/mcp"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400 for empty name", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/mcps/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404 for unknown id", w.Code)
	}
}

func TestTranscriptEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	store, err := params.NewStore(filepath.Join(dir, "params.json"))
	if err != nil {
		t.Fatalf("params store: %v", err)
	}
	mcps, err := storage.NewMCPRegistry(filepath.Join(dir, "mcps.json"))
	if err != nil {
		t.Fatalf("mcp registry: %v", err)
	}
	cfg := appconfig.Config{TranscriptsDir: filepath.Join(dir, "transcripts")}
	registry := ws.NewRegistry()
	router := NewRouter(cfg, Deps{
		WS:       ws.NewHandler(nil, cfg, store, registry),
		Registry: registry,
		Params:   store,
		MCPs:     mcps,
	}, nil)

	if err := storage.AppendTranscript(cfg.TranscriptsDir, "abc", storage.TranscriptMessage{Role: "user", Text: "hi"}); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, "/api/transcripts", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "abc") {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodGet, "/api/transcripts/abc", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "hi") {
		t.Fatalf("get status=%d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodDelete, "/api/transcripts/abc", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/transcripts/abc", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d, want 404", w.Code)
	}
}
