// Package realtime implements the client-side realtime session controller:
// one bidirectional audio/event stream to a conversational AI backend,
// multiplexing microphone capture, chunked image upload, server-pushed
// transcript and audio events, and playback.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/internal/protocol"
	"github.com/omnitutor/tutor-server/internal/session/fsm"
)

// ErrNotConnected is returned for operations that require an open socket.
var ErrNotConnected = errors.New("realtime session not connected")

// ErrAlreadyConnected is returned when Connect is called on a session that
// is connecting or connected.
var ErrAlreadyConnected = errors.New("realtime session already connected")

// Hooks are UI-facing notifications. All callbacks are optional.
type Hooks struct {
	// OnCallMode toggles the UI call-mode marker on connect/disconnect.
	OnCallMode func(active bool)
	// OnDisconnected fires once per connection when the socket closes,
	// cleanly or not. There is no automatic reconnect.
	OnDisconnected func(err error)
	// OnError surfaces non-fatal component errors, notably capture device
	// acquisition failures.
	OnError func(err error)
}

// Options configure a session. Dialer, Device, Sink and Renderer are the
// session's external collaborators.
type Options struct {
	Logger   *zap.Logger
	Dialer   Dialer
	Device   Device
	Sink     Sink
	Renderer Renderer
	Hooks    Hooks
}

// Session owns one realtime conversation: connection lifecycle, the capture
// and playback pipelines, history synchronization and event routing. One
// session per client tab; reconnection re-enters the connecting state on the
// same session.
type Session struct {
	id     string
	logger *zap.Logger
	dialer Dialer
	hooks  Hooks

	machine  *fsm.Machine
	capture  *CapturePipeline
	playback *PlaybackQueue
	history  *Synchronizer
	activity *ActivityLog
	router   *Router

	mu        sync.Mutex
	conn      Conn
	muted     bool
	closeOnce *sync.Once
	pumpDone  chan struct{}
}

// NewSession assembles a session and its components. The session id is an
// opaque client-generated token.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:      uuid.NewString(),
		logger:  logger,
		dialer:  opts.Dialer,
		hooks:   opts.Hooks,
		machine: fsm.New(),
	}
	s.playback = NewPlaybackQueue(opts.Sink, WireSampleRate, logger)
	s.history = NewSynchronizer(opts.Renderer, logger)
	s.activity = NewActivityLog(logger)
	s.router = NewRouter(s.playback, s.history, s.activity, s.CommitAudio, logger)
	s.capture = NewCapturePipeline(opts.Device, s.sendAudioFrame, s.mayTransmit, logger)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the connection state.
func (s *Session) State() fsm.State { return s.machine.State() }

// History exposes the history synchronizer for inspection.
func (s *Session) History() *Synchronizer { return s.history }

// Activity exposes the tool-activity log.
func (s *Session) Activity() *ActivityLog { return s.activity }

// Playback exposes the playback queue.
func (s *Session) Playback() *PlaybackQueue { return s.playback }

// Connect dials the backend, starts the capture pipeline and begins
// dispatching backend events. A capture device failure does not fail the
// connection: it is surfaced through Hooks.OnError while the socket stays
// open. Transport errors close the session back to disconnected.
func (s *Session) Connect(ctx context.Context) error {
	if !s.machine.OnDial() {
		return ErrAlreadyConnected
	}

	conn, err := s.dialer.Dial(ctx, s.id)
	if err != nil {
		s.machine.OnClose()
		return err
	}

	pumpDone := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.closeOnce = &sync.Once{}
	s.pumpDone = pumpDone
	s.mu.Unlock()

	s.machine.OnOpen()
	s.setCallMode(true)
	s.logger.Info("session connected", zap.String("session_id", s.id))

	go s.pump(conn, pumpDone)

	if err := s.capture.Start(ctx); err != nil {
		s.logger.Warn("capture start failed", zap.String("session_id", s.id), zap.Error(err))
		s.reportError(err)
	}
	return nil
}

// Close disconnects the session and releases capture resources. Closing a
// disconnected session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	pumpDone := s.pumpDone
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	if pumpDone != nil {
		<-pumpDone
	}
}

// pump handles inbound events in arrival order, each dispatched to
// completion before the next is read.
func (s *Session) pump(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			s.handleClose(err)
			return
		}
		s.router.Dispatch(ev)
	}
}

// handleClose resets the session to disconnected: stop capture, revert the
// call-mode marker, notify. Runs once per connection.
func (s *Session) handleClose(err error) {
	s.mu.Lock()
	once := s.closeOnce
	s.conn = nil
	s.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		s.machine.OnClose()
		s.capture.Stop()
		s.setCallMode(false)
		s.logger.Info("session disconnected", zap.String("session_id", s.id), zap.Error(err))
		if s.hooks.OnDisconnected != nil {
			s.hooks.OnDisconnected(err)
		}
	})
}

// SetMuted gates the capture pipeline's send decision. Muting never closes
// the socket and capture keeps sampling; frames are dropped while muted.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Muted reports the mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetSpeakerEnabled gates whether the playback queue auto-starts draining.
func (s *Session) SetSpeakerEnabled(enabled bool) {
	s.playback.SetSpeakerEnabled(enabled)
}

// Interrupt stops local playback with a fade and tells the backend to stop
// generating. Used for the user-facing stop control.
func (s *Session) Interrupt() {
	s.playback.Interrupt()
	if err := s.send(protocol.ClientEvent{Type: protocol.ClientInterrupt}); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Warn("interrupt send failed", zap.Error(err))
	}
}

// CommitAudio sends a commit-audio control message upstream, accelerating
// server-side turn-taking.
func (s *Session) CommitAudio() error {
	return s.send(protocol.ClientEvent{Type: protocol.ClientCommitAudio})
}

// ApplyConfig forwards updated session parameters over the socket.
func (s *Session) ApplyConfig(cfg protocol.SessionConfig) error {
	return s.send(protocol.ConfigEvent(cfg))
}

// mayTransmit is the capture gate: frames are transmitted only while the
// socket is open and the session is not muted.
func (s *Session) mayTransmit() bool {
	return s.machine.Connected() && !s.Muted()
}

// sendAudioFrame transmits one capture frame as a discrete audio message.
func (s *Session) sendAudioFrame(frame []int16) error {
	return s.send(protocol.ClientEvent{Type: protocol.ClientAudio, Data: frame})
}

func (s *Session) send(ev protocol.ClientEvent) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ev)
}

func (s *Session) setCallMode(active bool) {
	if s.hooks.OnCallMode != nil {
		s.hooks.OnCallMode(active)
	}
}

func (s *Session) reportError(err error) {
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}
