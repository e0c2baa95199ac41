package ws

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/omnitutor/tutor-server/internal/config"
	"github.com/omnitutor/tutor-server/internal/params"
	"github.com/omnitutor/tutor-server/internal/storage"
	"github.com/omnitutor/tutor-server/internal/transport/imagewire"
	"github.com/omnitutor/tutor-server/pkg/audio"
	"github.com/omnitutor/tutor-server/pkg/realtime"
)

// Handler terminates browser websockets. Each accepted connection gets one
// bridge: the browser is the session's audio device, audio sink and
// transcript renderer, and the bridge maps browser frames onto controller
// operations.
type Handler struct {
	logger   *zap.Logger
	cfg      appconfig.Config
	params   *params.Store
	remote   *params.Client
	registry *Registry
	dialer   realtime.Dialer
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler.
func NewHandler(logger *zap.Logger, cfg appconfig.Config, store *params.Store, registry *Registry) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		cfg:      cfg,
		params:   store,
		remote:   params.NewClient(cfg.SessionParamsURL, logger),
		registry: registry,
		dialer: realtime.NewBackendDialer(realtime.ClientConfig{
			BackendURL:  cfg.RealtimeBackendURL,
			AccessToken: cfg.RealtimeAccessToken,
		}, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades one browser connection and serves it until it closes.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	b := newBridge(h, conn)
	h.registry.add(b)
	defer func() {
		h.registry.remove(b.id)
		b.shutdown()
	}()

	h.logger.Info("client connected", zap.String("session_id", b.id))
	b.sendJSON(map[string]any{"type": "ready", "session_id": b.id})
	b.readLoop(r.Context())
	h.logger.Info("client disconnected", zap.String("session_id", b.id))
}

// bridge is the per-client glue. It implements realtime.Device,
// realtime.Sink and realtime.Renderer against the browser socket.
type bridge struct {
	id             string
	logger         *zap.Logger
	conn           *websocket.Conn
	params         *params.Store
	remote         *params.Client
	transcriptsDir string
	images         *imagewire.Assembler
	session        *realtime.Session

	writeMu sync.Mutex

	micMu        sync.Mutex
	mic          *micStream
	micRate      int
	micAvailable bool

	closeOnce sync.Once
}

func newBridge(h *Handler, conn *websocket.Conn) *bridge {
	b := &bridge{
		logger:         h.logger,
		conn:           conn,
		params:         h.params,
		remote:         h.remote,
		transcriptsDir: h.cfg.TranscriptsDir,
		images:         imagewire.NewAssembler(),
		micRate:        realtime.WireSampleRate,
		micAvailable:   true,
	}
	b.session = realtime.NewSession(realtime.Options{
		Logger:   h.logger,
		Dialer:   h.dialer,
		Device:   b,
		Sink:     b,
		Renderer: b,
		Hooks: realtime.Hooks{
			OnCallMode: func(active bool) {
				b.sendJSON(map[string]any{"type": "call-mode", "active": active})
			},
			OnDisconnected: func(err error) {
				b.sendJSON(map[string]any{"type": "backend-disconnected"})
			},
			OnError: func(err error) {
				b.sendError(err.Error())
			},
		},
	})
	b.id = b.session.ID()
	return b
}

func (b *bridge) readLoop(ctx context.Context) {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg incomingMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("malformed client frame skipped",
				zap.String("session_id", b.id), zap.Error(err))
			continue
		}
		b.dispatch(ctx, msg)
	}
}

// shutdown tears the bridge down: backend session first, then the browser
// socket. Safe to call more than once.
func (b *bridge) shutdown() {
	b.closeOnce.Do(func() {
		b.session.Close()
		_ = b.conn.Close()
	})
}

func (b *bridge) sendJSON(payload map[string]any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		b.logger.Warn("marshal outbound frame failed", zap.Error(err))
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Debug("client write failed", zap.String("session_id", b.id), zap.Error(err))
	}
}

func (b *bridge) sendError(message string) {
	b.sendJSON(map[string]any{"type": "error", "message": message})
}

// Open implements realtime.Device: the "device" is the browser microphone,
// whose frames arrive as mic-audio-data messages.
func (b *bridge) Open(ctx context.Context, p realtime.DeviceParams) (realtime.CaptureStream, error) {
	b.micMu.Lock()
	defer b.micMu.Unlock()
	if !b.micAvailable {
		return nil, realtime.ErrDeviceUnavailable
	}
	rate := b.micRate
	if rate <= 0 {
		rate = p.SampleRate
	}
	b.mic = newMicStream(rate)
	return b.mic, nil
}

func (b *bridge) pushMic(samples []float32) {
	b.micMu.Lock()
	mic := b.mic
	b.micMu.Unlock()
	if mic == nil {
		return
	}
	select {
	case mic.samples <- samples:
	default:
		// Capture is lossy under pressure; never block the read loop.
		b.logger.Debug("mic frame dropped", zap.String("session_id", b.id))
	}
}

// Play implements realtime.Sink: one chunk is forwarded to the browser and
// then paced in real time so the queue drains at playback speed.
func (b *bridge) Play(ctx context.Context, pcm []float32) error {
	ints := audio.Float32SliceToInt16SliceInto(audio.AcquireInt16(len(pcm)), pcm)
	data := audio.Int16SliceToBytesInto(nil, ints)
	audio.ReleaseInt16(ints)
	b.sendJSON(map[string]any{
		"type":  "audio",
		"audio": base64.StdEncoding.EncodeToString(data),
	})

	duration := time.Duration(len(pcm)) * time.Second / realtime.WireSampleRate
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetGain implements realtime.Sink.
func (b *bridge) SetGain(gain float64) {
	b.sendJSON(map[string]any{"type": "set-gain", "gain": gain})
}

// Stop implements realtime.Sink.
func (b *bridge) Stop() {
	b.sendJSON(map[string]any{"type": "stop-audio"})
}

// RenderText implements realtime.Renderer. The node handle is the frame id
// the browser uses to update the entry in place.
func (b *bridge) RenderText(role string, text string) realtime.NodeHandle {
	id := newNodeID()
	b.sendJSON(map[string]any{"type": "transcript", "id": id, "role": role, "text": text})
	b.record(storage.TranscriptMessage{ID: id, Role: role, Text: text})
	return id
}

// RenderImage implements realtime.Renderer.
func (b *bridge) RenderImage(role string, url string, caption string) realtime.NodeHandle {
	id := newNodeID()
	b.sendJSON(map[string]any{"type": "transcript", "id": id, "role": role, "image_url": url, "text": caption})
	b.record(storage.TranscriptMessage{ID: id, Role: role, Text: caption, ImageURL: url})
	return id
}

// UpdateText implements realtime.Renderer. The stored entry is rewritten
// too, so the transcript keeps the final text of streamed turns.
func (b *bridge) UpdateText(node realtime.NodeHandle, text string) {
	id, ok := node.(string)
	if !ok {
		return
	}
	b.sendJSON(map[string]any{"type": "update-transcript", "id": id, "text": text})
	if b.transcriptsDir == "" {
		return
	}
	if err := storage.UpdateTranscriptText(b.transcriptsDir, b.id, id, text); err != nil {
		b.logger.Warn("transcript update failed", zap.String("session_id", b.id), zap.Error(err))
	}
}

func (b *bridge) record(msg storage.TranscriptMessage) {
	if b.transcriptsDir == "" {
		return
	}
	if err := storage.AppendTranscript(b.transcriptsDir, b.id, msg); err != nil {
		b.logger.Warn("transcript append failed", zap.String("session_id", b.id), zap.Error(err))
	}
}

// micStream adapts browser mic frames to the capture pipeline's stream.
type micStream struct {
	rate    int
	samples chan []float32
	closed  chan struct{}
	once    sync.Once
}

func newMicStream(rate int) *micStream {
	return &micStream{
		rate:    rate,
		samples: make(chan []float32, 32),
		closed:  make(chan struct{}),
	}
}

func (s *micStream) SampleRate() int { return s.rate }

func (s *micStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case samples := <-s.samples:
		return samples, nil
	case <-s.closed:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *micStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
