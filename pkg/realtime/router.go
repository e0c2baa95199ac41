package realtime

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/internal/protocol"
)

// ActivityEntry is one recorded tool or handoff event, kept for display.
type ActivityEntry struct {
	Kind    string
	Summary string
	At      time.Time
}

// ActivityLog records agent tool activity with human-readable summaries.
type ActivityLog struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries []ActivityEntry
}

// NewActivityLog creates an empty log.
func NewActivityLog(logger *zap.Logger) *ActivityLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityLog{logger: logger}
}

// Record appends one entry and mirrors it to the structured log.
func (l *ActivityLog) Record(kind string, summary string) {
	l.mu.Lock()
	l.entries = append(l.entries, ActivityEntry{Kind: kind, Summary: summary, At: time.Now()})
	l.mu.Unlock()
	l.logger.Info("tool activity", zap.String("kind", kind), zap.String("summary", summary))
}

// Entries returns a copy of the recorded entries in order.
func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ActivityEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Router dispatches typed backend events to the playback queue, the history
// synchronizer and the activity log. Every inbound event is logged to the
// raw-event log first, regardless of dispatch outcome; unmatched types are
// logged only, never an error.
type Router struct {
	logger   *zap.Logger
	playback *PlaybackQueue
	history  *Synchronizer
	activity *ActivityLog
	commit   func() error
}

// NewRouter wires a router. commit sends a commit-audio control message
// upstream when the backend signals an input audio timeout.
func NewRouter(playback *PlaybackQueue, history *Synchronizer, activity *ActivityLog, commit func() error, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:   logger,
		playback: playback,
		history:  history,
		activity: activity,
		commit:   commit,
	}
}

// Dispatch routes one backend event. Events must be delivered in arrival
// order from a single goroutine.
func (r *Router) Dispatch(ev protocol.ServerEvent) {
	r.logger.Debug("realtime event",
		zap.String("type", ev.Type),
		zap.Int("audio_chars", len(ev.Audio)),
		zap.Int("history_items", len(ev.History)),
	)
	r.recordActivity(ev)

	switch ev.Type {
	case protocol.ServerAudio:
		r.playback.Enqueue(ev.Audio)
	case protocol.ServerAudioInterrupted:
		r.playback.Interrupt()
	case protocol.ServerInputAudioTimeout:
		if err := r.commit(); err != nil {
			r.logger.Warn("commit audio failed", zap.Error(err))
		}
	case protocol.ServerHistoryUpdated:
		r.history.ApplySnapshot(ev.History)
	case protocol.ServerHistoryAdded:
		if ev.Item != nil {
			r.history.ApplyDelta(*ev.Item)
		}
	}
}

func (r *Router) recordActivity(ev protocol.ServerEvent) {
	switch ev.Type {
	case protocol.ServerHandoff:
		r.activity.Record(ev.Type, fmt.Sprintf("handoff: %s -> %s", ev.From, ev.To))
	case protocol.ServerToolStart:
		r.activity.Record(ev.Type, fmt.Sprintf("tool started: %s", ev.Tool))
	case protocol.ServerToolEnd:
		output := ev.Output
		if output == "" {
			output = "(no output)"
		}
		r.activity.Record(ev.Type, fmt.Sprintf("tool finished: %s, output: %s", ev.Tool, output))
	}
}
