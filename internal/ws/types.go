package ws

import "github.com/omnitutor/tutor-server/internal/params"

// incomingMessage is one frame from the browser client.
type incomingMessage struct {
	Type string `json:"type"`

	// Mic capture: base64 PCM16 samples at the reported device rate.
	Audio string `json:"audio,omitempty"`
	Rate  int    `json:"rate,omitempty"`

	// Connect options.
	MicAvailable *bool `json:"mic_available,omitempty"`

	// Toggles.
	Enabled *bool `json:"enabled,omitempty"`

	// Image upload: either one send-image frame, or an
	// image-start/image-chunk/image-end sequence correlated by ID for
	// payloads larger than one browser frame.
	Image  string `json:"image,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	ID     string `json:"id,omitempty"`
	Chunk  string `json:"chunk,omitempty"`

	// Session parameter update; absent fields keep their current value.
	Config *params.Partial `json:"config,omitempty"`
}
