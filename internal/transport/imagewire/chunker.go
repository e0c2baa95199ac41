// Package imagewire frames large out-of-band payloads for the realtime
// socket. Base64 image data is split into fragments small enough for one
// transport frame and reassembled by the receiver using the correlation id
// shared by the start/chunk/end messages.
package imagewire

import (
	"errors"
	"strings"
	"sync"
)

// MaxChunkChars is the largest fragment carried by one image_chunk message.
// Kept under the transport frame limit with headroom for the JSON envelope.
const MaxChunkChars = 60000

var (
	// ErrUnknownID is returned when a chunk or end arrives for an id that
	// was never started or was already completed.
	ErrUnknownID = errors.New("imagewire: unknown correlation id")
	// ErrEmptyPayload is returned when an upload completes with no data.
	ErrEmptyPayload = errors.New("imagewire: empty payload")
)

// Split cuts payload into fragments of at most size characters, in order.
// A payload shorter than size yields exactly one fragment.
func Split(payload string, size int) []string {
	if payload == "" {
		return nil
	}
	if size <= 0 {
		size = MaxChunkChars
	}
	chunks := make([]string, 0, (len(payload)+size-1)/size)
	for start := 0; start < len(payload); start += size {
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	return chunks
}

type pending struct {
	text   string
	chunks []string
	size   int
}

// Assembler reassembles chunked payloads on the receiving side.
type Assembler struct {
	mu      sync.Mutex
	uploads map[string]*pending
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{uploads: make(map[string]*pending)}
}

// Start opens a new upload under id, carrying the caption text. Restarting
// an in-flight id discards the previously buffered chunks.
func (a *Assembler) Start(id string, text string) {
	a.mu.Lock()
	a.uploads[id] = &pending{text: text}
	a.mu.Unlock()
}

// Append buffers one fragment for id in arrival order.
func (a *Assembler) Append(id string, chunk string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	upload, ok := a.uploads[id]
	if !ok {
		return ErrUnknownID
	}
	upload.chunks = append(upload.chunks, chunk)
	upload.size += len(chunk)
	return nil
}

// End completes the upload for id and returns the joined payload with its
// caption. The id is released whether reassembly succeeds or not.
func (a *Assembler) End(id string) (payload string, text string, err error) {
	a.mu.Lock()
	upload, ok := a.uploads[id]
	delete(a.uploads, id)
	a.mu.Unlock()
	if !ok {
		return "", "", ErrUnknownID
	}
	if upload.size == 0 {
		return "", upload.text, ErrEmptyPayload
	}
	var b strings.Builder
	b.Grow(upload.size)
	for _, chunk := range upload.chunks {
		b.WriteString(chunk)
	}
	return b.String(), upload.text, nil
}

// PendingCount returns the number of uploads not yet completed.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uploads)
}
