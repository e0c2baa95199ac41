package realtime

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/internal/protocol"
	"github.com/omnitutor/tutor-server/internal/transport/imagewire"
)

// SendImage uploads an image as an out-of-band chunked message: playback is
// interrupted first, then the base64 data URL is sent as one image_start,
// the required number of transport-safe image_chunk frames, and one
// image_end sharing the same correlation id.
func (s *Session) SendImage(dataURL string, prompt string) error {
	if !s.machine.Connected() {
		return ErrNotConnected
	}

	s.playback.Interrupt()

	id := uuid.NewString()
	chunks := imagewire.Split(dataURL, imagewire.MaxChunkChars)
	s.logger.Info("image upload started",
		zap.String("session_id", s.id),
		zap.String("image_id", id),
		zap.Int("chars", len(dataURL)),
		zap.Int("chunks", len(chunks)),
	)

	if err := s.send(protocol.ClientEvent{Type: protocol.ClientImageStart, ID: id, Text: prompt}); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := s.send(protocol.ClientEvent{Type: protocol.ClientImageChunk, ID: id, Chunk: chunk}); err != nil {
			return err
		}
	}
	return s.send(protocol.ClientEvent{Type: protocol.ClientImageEnd, ID: id})
}
