package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/pkg/audio"
)

// Audio wire contract: raw 16-bit signed PCM, little-endian, mono, 24kHz,
// captured in fixed frames.
const (
	WireSampleRate = 24000
	WireChannels   = 1
	FrameSamples   = 4096
)

// ErrDeviceUnavailable is returned when no audio input device can be
// acquired: permission denied, no device, or no secure context.
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// DeviceParams are the constraints requested when opening an input device.
type DeviceParams struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// CaptureStream delivers raw microphone samples in [-1, 1]. Read blocks
// until samples are available; reads may return any sample count.
type CaptureStream interface {
	SampleRate() int
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// Device acquires microphone input. Open returns ErrDeviceUnavailable (or an
// error wrapping it) when the device cannot be acquired.
type Device interface {
	Open(ctx context.Context, params DeviceParams) (CaptureStream, error)
}

// CapturePipeline frames microphone input into fixed-size PCM16 chunks and
// transmits each retained frame as one discrete message. Frames produced
// while the gate is closed (muted, or socket not open) are dropped with no
// buffering: lost audio under mute or disconnect is acceptable, corrupted
// audio is not.
type CapturePipeline struct {
	logger *zap.Logger
	device Device
	send   func(frame []int16) error
	gate   func() bool

	mu     sync.Mutex
	stream CaptureStream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapturePipeline wires a pipeline to its device, transmit function and
// send gate.
func NewCapturePipeline(device Device, send func(frame []int16) error, gate func() bool, logger *zap.Logger) *CapturePipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapturePipeline{
		logger: logger,
		device: device,
		send:   send,
		gate:   gate,
	}
}

// Start acquires the input device at the wire rate with echo cancellation
// and noise suppression, then samples continuously until Stop. Device
// acquisition failure is surfaced to the caller as ErrDeviceUnavailable.
// Starting an already started pipeline is a no-op.
func (p *CapturePipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}

	stream, err := p.device.Open(ctx, DeviceParams{
		SampleRate:       WireSampleRate,
		Channels:         WireChannels,
		EchoCancellation: true,
		NoiseSuppression: true,
	})
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.stream = stream
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, stream, p.done)

	p.logger.Info("capture started",
		zap.Int("device_sample_rate", stream.SampleRate()),
		zap.Int("frame_samples", FrameSamples),
	)
	return nil
}

// Stop releases the input device and the sampling loop deterministically.
// Calling Stop when not started is a no-op.
func (p *CapturePipeline) Stop() {
	p.mu.Lock()
	if p.stream == nil {
		p.mu.Unlock()
		return
	}
	stream := p.stream
	cancel := p.cancel
	done := p.done
	p.stream = nil
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	_ = stream.Close()
	<-done
	p.logger.Info("capture stopped")
}

// Running reports whether the pipeline holds an open stream.
func (p *CapturePipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func (p *CapturePipeline) run(ctx context.Context, stream CaptureStream, done chan struct{}) {
	defer close(done)

	var resampler *audio.StreamResampler
	if rate := stream.SampleRate(); rate != WireSampleRate {
		rs, err := audio.NewStreamResampler(rate, WireSampleRate)
		if err != nil {
			p.logger.Error("capture resampler init failed", zap.Int("device_rate", rate), zap.Error(err))
			return
		}
		resampler = rs
		defer resampler.Close()
	}

	var pending []float32
	for {
		samples, err := stream.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Debug("capture stream ended", zap.Error(err))
			}
			return
		}
		if len(samples) == 0 {
			continue
		}

		if resampler != nil {
			if err := resampler.Append(samples); err != nil {
				p.logger.Warn("capture resample failed", zap.Error(err))
				continue
			}
			for {
				frame, ok := resampler.PopFrame(FrameSamples)
				if !ok {
					break
				}
				p.emit(frame)
			}
			continue
		}

		pending = append(pending, samples...)
		for len(pending) >= FrameSamples {
			frame := make([]float32, FrameSamples)
			copy(frame, pending[:FrameSamples])
			pending = pending[FrameSamples:]
			p.emit(frame)
		}
	}
}

// emit converts one frame to clamped int16 and transmits it, unless the
// gate is closed, in which case the frame is dropped silently.
func (p *CapturePipeline) emit(frame []float32) {
	if !p.gate() {
		return
	}
	pcm := audio.Float32SliceToInt16SliceInto(audio.AcquireInt16(len(frame)), frame)
	if err := p.send(pcm); err != nil {
		p.logger.Debug("capture frame send failed", zap.Error(err))
	}
	audio.ReleaseInt16(pcm)
}
