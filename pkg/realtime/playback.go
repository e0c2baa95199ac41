package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/pkg/audio"
)

// DefaultFadeWindow is the nominal fade ramp at chunk boundaries and on
// interruption. Per chunk it is capped to one eighth of the chunk duration.
const DefaultFadeWindow = 24 * time.Millisecond

const gainRampSteps = 6

// Sink is the playback device the queue drains into. Play blocks until the
// chunk has finished sounding or the context is cancelled. Stop halts the
// in-flight Play promptly; SetGain scales the output level in [0, 1].
type Sink interface {
	Play(ctx context.Context, pcm []float32) error
	SetGain(gain float64)
	Stop()
}

// PlaybackQueue is a FIFO of base64 PCM16 chunks drained by a single-flight
// consumer. Chunks are decoded, faded at both edges and played strictly in
// enqueue order, one at a time. Interrupt clears the queue and ramps the
// sounding chunk to silence before halting it.
type PlaybackQueue struct {
	logger     *zap.Logger
	sink       Sink
	sampleRate int
	fadeWindow time.Duration

	mu         sync.Mutex
	queue      []string
	draining   bool
	playing    bool
	fading     bool
	speaker    bool
	interrupts uint64
	cancelPlay context.CancelFunc
}

// NewPlaybackQueue creates a queue over sink. The speaker starts enabled.
func NewPlaybackQueue(sink Sink, sampleRate int, logger *zap.Logger) *PlaybackQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaybackQueue{
		logger:     logger,
		sink:       sink,
		sampleRate: sampleRate,
		fadeWindow: DefaultFadeWindow,
		speaker:    true,
	}
}

// Enqueue appends one base64 PCM16 chunk. If no drain is in flight and the
// speaker is enabled, a drain task is started. Ownership of the chunk
// transfers to the queue.
func (q *PlaybackQueue) Enqueue(chunk string) {
	q.mu.Lock()
	q.queue = append(q.queue, chunk)
	start := !q.draining && q.speaker
	if start {
		q.draining = true
	}
	q.mu.Unlock()
	if start {
		go q.drain()
	}
}

// Interrupt clears all queued chunks and, if a chunk is currently sounding,
// ramps its gain to zero over the fade window before halting the sink. A
// second interrupt arriving inside the fade window only re-clears the queue.
func (q *PlaybackQueue) Interrupt() {
	q.mu.Lock()
	q.queue = nil
	q.interrupts++
	if q.fading {
		q.mu.Unlock()
		return
	}
	playing := q.playing
	cancel := q.cancelPlay
	if playing {
		q.fading = true
	}
	q.mu.Unlock()
	if !playing {
		return
	}

	step := q.fadeWindow / gainRampSteps
	for i := gainRampSteps - 1; i >= 0; i-- {
		q.sink.SetGain(float64(i) / float64(gainRampSteps))
		time.Sleep(step)
	}
	q.sink.Stop()
	if cancel != nil {
		cancel()
	}

	q.mu.Lock()
	q.fading = false
	q.mu.Unlock()
}

// SetSpeakerEnabled gates whether enqueues auto-start draining. Re-enabling
// with chunks still queued resumes the drain.
func (q *PlaybackQueue) SetSpeakerEnabled(enabled bool) {
	q.mu.Lock()
	q.speaker = enabled
	start := enabled && len(q.queue) > 0 && !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()
	if start {
		go q.drain()
	}
}

// Len returns the number of queued, not yet playing chunks.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Playing reports whether a chunk is currently sounding.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

func (q *PlaybackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 || !q.speaker {
			q.draining = false
			q.mu.Unlock()
			return
		}
		chunk := q.queue[0]
		q.queue = q.queue[1:]
		gen := q.interrupts
		q.mu.Unlock()

		samples, err := decodePlaybackChunk(chunk)
		if err != nil {
			// One malformed chunk never aborts the drain loop.
			q.logger.Warn("playback chunk decode failed", zap.Error(err))
			continue
		}
		if len(samples) == 0 {
			continue
		}

		fade := audio.FadeSamples(len(samples), q.fadeSampleCount())
		audio.FadeIn(samples, fade)
		audio.FadeOut(samples, fade)

		ctx, cancel := context.WithCancel(context.Background())
		if !q.beginPlay(gen, cancel) {
			// An interrupt landed after this chunk was dequeued.
			cancel()
			audio.ReleaseFloat32(samples)
			continue
		}

		q.sink.SetGain(1)
		err = q.sink.Play(ctx, samples)
		cancel()
		audio.ReleaseFloat32(samples)

		q.mu.Lock()
		q.playing = false
		q.cancelPlay = nil
		q.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("playback failed", zap.Error(err))
		}
	}
}

// beginPlay marks the dequeued chunk as sounding unless an interrupt
// arrived since it was dequeued, in which case the chunk is dropped.
func (q *PlaybackQueue) beginPlay(gen uint64, cancel context.CancelFunc) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.interrupts != gen {
		return false
	}
	q.playing = true
	q.cancelPlay = cancel
	return true
}

func (q *PlaybackQueue) fadeSampleCount() int {
	return int(q.fadeWindow.Seconds() * float64(q.sampleRate))
}

func decodePlaybackChunk(chunk string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, err
	}
	pcm := audio.BytesToInt16Slice(data)
	if len(pcm) == 0 {
		return nil, nil
	}
	return audio.Int16SliceToFloat32Into(audio.AcquireFloat32(len(pcm)), pcm), nil
}
