package realtime

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/omnitutor/tutor-server/pkg/audio"
)

type fakeSink struct {
	mu      sync.Mutex
	played  [][]float32
	gains   []float64
	stops   int
	release chan struct{}
	started chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{started: make(chan struct{}, 16)}
}

func (s *fakeSink) Play(ctx context.Context, pcm []float32) error {
	s.mu.Lock()
	cp := make([]float32, len(pcm))
	copy(cp, pcm)
	s.played = append(s.played, cp)
	release := s.release
	s.mu.Unlock()
	s.started <- struct{}{}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *fakeSink) SetGain(gain float64) {
	s.mu.Lock()
	s.gains = append(s.gains, gain)
	s.mu.Unlock()
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSink) playedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func encodeChunk(samples []int16) string {
	return base64.StdEncoding.EncodeToString(audio.Int16SliceToBytesInto(nil, samples))
}

func constChunk(value int16, n int) string {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return encodeChunk(samples)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlaybackDrainsInOrder(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Enqueue(constChunk(1000, 4096))
	q.Enqueue(constChunk(2000, 4096))
	q.Enqueue(constChunk(3000, 4096))

	waitFor(t, "all chunks played", func() bool { return sink.playedCount() == 3 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, want := range []float32{1000, 2000, 3000} {
		mid := sink.played[i][len(sink.played[i])/2]
		if mid < (want-1)/32768 || mid > (want+1)/32768 {
			t.Fatalf("chunk %d mid sample=%v, want about %v", i, mid, want/32768)
		}
	}
}

func TestPlaybackSetsFullGainPerChunk(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Enqueue(constChunk(500, 1024))
	waitFor(t, "chunk played", func() bool { return sink.playedCount() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.gains) == 0 || sink.gains[0] != 1 {
		t.Fatalf("gains=%v, want leading 1", sink.gains)
	}
}

func TestPlaybackFadesChunkEdges(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Enqueue(constChunk(16000, 4096))
	waitFor(t, "chunk played", func() bool { return sink.playedCount() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	pcm := sink.played[0]
	if pcm[0] != 0 {
		t.Fatalf("first sample=%v, want 0 after fade in", pcm[0])
	}
	mid := pcm[len(pcm)/2]
	if mid < 0.4 {
		t.Fatalf("mid sample=%v, want untouched body", mid)
	}
	if last := pcm[len(pcm)-1]; last >= mid/2 {
		t.Fatalf("last sample=%v, want faded out", last)
	}
}

func TestInterruptClearsQueueAndRampsToSilence(t *testing.T) {
	sink := newFakeSink()
	sink.release = make(chan struct{})
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Enqueue(constChunk(1000, 4096))
	q.Enqueue(constChunk(2000, 4096))
	q.Enqueue(constChunk(3000, 4096))
	<-sink.started

	q.Interrupt()

	if got := q.Len(); got != 0 {
		t.Fatalf("Len=%d after interrupt, want 0", got)
	}
	waitFor(t, "playback halted", func() bool { return !q.Playing() })
	if sink.playedCount() != 1 {
		t.Fatalf("played=%d, want only the in-flight chunk", sink.playedCount())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stops != 1 {
		t.Fatalf("stops=%d, want 1", sink.stops)
	}
	if last := sink.gains[len(sink.gains)-1]; last != 0 {
		t.Fatalf("final gain=%v, want 0", last)
	}
	for i := 1; i < len(sink.gains); i++ {
		if sink.gains[i] > sink.gains[i-1] {
			t.Fatalf("gains=%v, want monotone ramp down after start", sink.gains)
		}
	}
}

func TestSecondInterruptDuringFadeReclearsQueueOnly(t *testing.T) {
	sink := newFakeSink()
	sink.release = make(chan struct{})
	q := NewPlaybackQueue(sink, WireSampleRate, nil)
	q.fadeWindow = 200 * time.Millisecond

	q.Enqueue(constChunk(1200, 4096))
	<-sink.started

	firstDone := make(chan struct{})
	go func() {
		q.Interrupt()
		close(firstDone)
	}()
	waitFor(t, "fade ramp started", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.gains) > 1
	})

	q.Enqueue(constChunk(1300, 4096))
	q.Interrupt()
	if got := q.Len(); got != 0 {
		t.Fatalf("Len=%d after second interrupt, want 0", got)
	}

	<-firstDone
	waitFor(t, "playback halted", func() bool { return !q.Playing() })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stops != 1 {
		t.Fatalf("stops=%d, want a single halt", sink.stops)
	}
	if last := sink.gains[len(sink.gains)-1]; last != 0 {
		t.Fatalf("final gain=%v, want 0", last)
	}
	if len(sink.played) != 1 {
		t.Fatalf("played=%d, want the chunk enqueued mid-fade dropped", len(sink.played))
	}
}

func TestInterruptAfterDequeueDropsChunk(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.mu.Lock()
	gen := q.interrupts
	q.mu.Unlock()

	q.Interrupt()

	if q.beginPlay(gen, func() {}) {
		t.Fatal("beginPlay accepted a chunk dequeued before the interrupt")
	}
	if q.Playing() {
		t.Fatal("Playing=true, want false")
	}

	q.mu.Lock()
	gen = q.interrupts
	q.mu.Unlock()
	if !q.beginPlay(gen, func() {}) {
		t.Fatal("beginPlay rejected a chunk dequeued after the interrupt")
	}
}

func TestInterruptWhileIdleIsNoOp(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Interrupt()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stops != 0 || len(sink.gains) != 0 {
		t.Fatalf("stops=%d gains=%v, want untouched sink", sink.stops, sink.gains)
	}
}

func TestEmptyChunkSkipped(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Enqueue("")
	q.Enqueue(constChunk(700, 512))

	waitFor(t, "real chunk played", func() bool { return sink.playedCount() == 1 })
	if got := sink.playedCount(); got != 1 {
		t.Fatalf("played=%d, want the empty chunk skipped", got)
	}
}

func TestMalformedChunkSkipped(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.Enqueue("not base64 !!!")
	q.Enqueue(constChunk(700, 512))

	waitFor(t, "valid chunk played", func() bool { return sink.playedCount() == 1 })
}

func TestSpeakerDisabledDefersDrain(t *testing.T) {
	sink := newFakeSink()
	q := NewPlaybackQueue(sink, WireSampleRate, nil)

	q.SetSpeakerEnabled(false)
	q.Enqueue(constChunk(900, 512))
	q.Enqueue(constChunk(901, 512))

	time.Sleep(20 * time.Millisecond)
	if sink.playedCount() != 0 {
		t.Fatalf("played=%d with speaker off, want 0", sink.playedCount())
	}
	if q.Len() != 2 {
		t.Fatalf("Len=%d, want 2 queued", q.Len())
	}

	q.SetSpeakerEnabled(true)
	waitFor(t, "queued chunks drained", func() bool { return sink.playedCount() == 2 })
}
