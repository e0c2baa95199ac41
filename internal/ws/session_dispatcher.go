package ws

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/pkg/audio"
	"github.com/omnitutor/tutor-server/pkg/realtime"
)

type incomingHandler func(context.Context, incomingMessage)

func (b *bridge) dispatch(ctx context.Context, msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"connect":          b.onConnect,
		"disconnect":       b.onDisconnect,
		"mic-audio-data":   b.onMicAudioData,
		"set-mic":          b.onSetMic,
		"set-speaker":      b.onSetSpeaker,
		"interrupt-signal": b.onInterruptSignal,
		"send-image":       b.onSendImage,
		"image-start":      b.onImageStart,
		"image-chunk":      b.onImageChunk,
		"image-end":        b.onImageEnd,
		"update-config":    b.onUpdateConfig,
		"fetch-config":     b.onFetchConfig,
		"heartbeat":        b.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	b.logger.Debug("ws unknown message type",
		zap.String("session_id", b.id),
		zap.String("type", msg.Type),
	)
}

func (b *bridge) onConnect(ctx context.Context, msg incomingMessage) {
	b.micMu.Lock()
	if msg.MicAvailable != nil {
		b.micAvailable = *msg.MicAvailable
	}
	if msg.Rate > 0 {
		b.micRate = msg.Rate
	}
	b.micMu.Unlock()

	if err := b.session.Connect(ctx); err != nil {
		if !errors.Is(err, realtime.ErrAlreadyConnected) {
			b.sendError(err.Error())
		}
		return
	}
	// Push the session parameters to the fresh backend session, preferring
	// the remote config endpoint when one is configured.
	cfg, ok := b.remote.Fetch(ctx)
	if !ok {
		cfg = b.params.Get()
	}
	if err := b.session.ApplyConfig(cfg); err != nil {
		b.logger.Warn("apply session config failed", zap.String("session_id", b.id), zap.Error(err))
	}
}

func (b *bridge) onDisconnect(_ context.Context, _ incomingMessage) {
	b.session.Close()
}

func (b *bridge) onMicAudioData(_ context.Context, msg incomingMessage) {
	if msg.Audio == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		b.logger.Debug("malformed mic frame skipped", zap.String("session_id", b.id), zap.Error(err))
		return
	}
	pcm := audio.BytesToInt16Slice(data)
	if len(pcm) == 0 {
		return
	}
	b.pushMic(audio.Int16SliceToFloat32Into(nil, pcm))
}

func (b *bridge) onSetMic(_ context.Context, msg incomingMessage) {
	if msg.Enabled == nil {
		return
	}
	b.session.SetMuted(!*msg.Enabled)
}

func (b *bridge) onSetSpeaker(_ context.Context, msg incomingMessage) {
	if msg.Enabled == nil {
		return
	}
	b.session.SetSpeakerEnabled(*msg.Enabled)
}

func (b *bridge) onInterruptSignal(_ context.Context, _ incomingMessage) {
	b.session.Interrupt()
}

func (b *bridge) onSendImage(_ context.Context, msg incomingMessage) {
	if msg.Image == "" {
		return
	}
	if err := b.session.SendImage(msg.Image, msg.Prompt); err != nil {
		b.sendError(err.Error())
	}
}

// Large images arrive from the browser as their own chunked sequence; the
// reassembled payload goes through the same upload path as send-image.
func (b *bridge) onImageStart(_ context.Context, msg incomingMessage) {
	if msg.ID == "" {
		return
	}
	b.images.Start(msg.ID, msg.Prompt)
}

func (b *bridge) onImageChunk(_ context.Context, msg incomingMessage) {
	if err := b.images.Append(msg.ID, msg.Chunk); err != nil {
		b.logger.Debug("image chunk dropped", zap.String("session_id", b.id), zap.Error(err))
	}
}

func (b *bridge) onImageEnd(_ context.Context, msg incomingMessage) {
	payload, prompt, err := b.images.End(msg.ID)
	if err != nil {
		b.sendError(err.Error())
		return
	}
	if err := b.session.SendImage(payload, prompt); err != nil {
		b.sendError(err.Error())
	}
}

func (b *bridge) onUpdateConfig(_ context.Context, msg incomingMessage) {
	if msg.Config == nil {
		return
	}
	if err := b.params.Update(*msg.Config); err != nil {
		b.sendError(err.Error())
		return
	}
	if err := b.session.ApplyConfig(b.params.Get()); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		b.logger.Warn("apply session config failed", zap.String("session_id", b.id), zap.Error(err))
	}
}

func (b *bridge) onFetchConfig(_ context.Context, _ incomingMessage) {
	b.sendJSON(map[string]any{"type": "config", "config": b.params.Get()})
}

func (b *bridge) onNoop(_ context.Context, _ incomingMessage) {}

func newNodeID() string {
	return uuid.NewString()
}
