package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

// StreamResampler converts a continuous float32 stream between sample rates,
// keeping filter state across calls. Used on the capture path when the input
// device does not deliver the wire rate.
type StreamResampler struct {
	inRate  int
	outRate int
	r       *resampler.SimpleResamplerFloat32
	outBuf  []float32
}

// NewStreamResampler creates a streaming resampler for continuous audio.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("audio: invalid resampler rates")
	}
	r, err := acquireSoxrResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	return &StreamResampler{inRate: inRate, outRate: outRate, r: r}, nil
}

// Close releases the underlying resampler back to its pool.
func (s *StreamResampler) Close() {
	if s == nil || s.r == nil {
		return
	}
	releaseSoxrResampler(s.inRate, s.outRate, s.r)
	s.r = nil
	s.outBuf = nil
}

// Append feeds input samples through the resampler and buffers the output.
func (s *StreamResampler) Append(samples []float32) error {
	if s == nil || s.r == nil {
		return errors.New("audio: resampler is closed")
	}
	if len(samples) == 0 {
		return nil
	}
	out, err := s.r.Process(samples)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		s.outBuf = append(s.outBuf, out...)
	}
	return nil
}

// PopFrame returns a fixed-size output frame if one is available.
func (s *StreamResampler) PopFrame(frameSize int) ([]float32, bool) {
	if s == nil || frameSize <= 0 || len(s.outBuf) < frameSize {
		return nil, false
	}
	frame := make([]float32, frameSize)
	copy(frame, s.outBuf[:frameSize])
	s.outBuf = s.outBuf[frameSize:]
	return frame, true
}

type soxrKey struct {
	inRate  int
	outRate int
}

var soxrPools sync.Map

func getSoxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{}
	actual, _ := soxrPools.LoadOrStore(key, pool)
	return actual.(*sync.Pool)
}

func acquireSoxrResampler(inRate, outRate int) (*resampler.SimpleResamplerFloat32, error) {
	key := soxrKey{inRate: inRate, outRate: outRate}
	if v := getSoxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(inRate), float64(outRate), resampler.QualityHigh)
}

func releaseSoxrResampler(inRate, outRate int, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	getSoxrPool(soxrKey{inRate: inRate, outRate: outRate}).Put(r)
}
