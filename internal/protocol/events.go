package protocol

import (
	"errors"

	"github.com/bytedance/sonic"
)

// Client-to-backend event types.
const (
	ClientAudio        = "audio"
	ClientCommitAudio  = "commit_audio"
	ClientInterrupt    = "interrupt"
	ClientImageStart   = "image_start"
	ClientImageChunk   = "image_chunk"
	ClientImageEnd     = "image_end"
	ClientConfigUpdate = "client_config"
)

// Backend-to-client event types.
const (
	ServerAudio             = "audio"
	ServerAudioInterrupted  = "audio_interrupted"
	ServerAudioEnd          = "audio_end"
	ServerInputAudioTimeout = "input_audio_timeout_triggered"
	ServerHistoryUpdated    = "history_updated"
	ServerHistoryAdded      = "history_added"
	ServerToolStart         = "tool_start"
	ServerToolEnd           = "tool_end"
	ServerHandoff           = "handoff"
	ServerAgentStart        = "agent_start"
	ServerAgentEnd          = "agent_end"
	ServerGuardrailTripped  = "guardrail_tripped"
	ServerRawModelEvent     = "raw_model_event"
	ServerClientInfo        = "client_info"
	ServerError             = "error"
)

// History item and content part types.
const (
	ItemTypeMessage = "message"

	PartText       = "text"
	PartInputText  = "input_text"
	PartAudio      = "audio"
	PartInputAudio = "input_audio"
	PartInputImage = "input_image"
)

// ErrEmptyEvent is returned when a frame decodes to an event without a type.
var ErrEmptyEvent = errors.New("protocol: event has no type")

// ClientEvent is one message sent from the session controller to the realtime
// backend. It keeps wire-compatible flat field names; unused fields are
// omitted per event type.
type ClientEvent struct {
	Type string `json:"type"`

	// Audio carries one capture frame of 16-bit signed PCM samples.
	Data []int16 `json:"data,omitempty"`

	// Chunked out-of-band image upload.
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Chunk string `json:"chunk,omitempty"`

	// Session parameter update. Pointers so an absent field is not sent
	// as a zero value.
	Temperature       *float64 `json:"temperature,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
}

// ServerEvent is one message pushed by the realtime backend.
type ServerEvent struct {
	Type string `json:"type"`

	// Audio is a base64 encoded PCM16 payload for ServerAudio events.
	Audio string `json:"audio,omitempty"`

	Agent  string `json:"agent,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Output string `json:"output,omitempty"`

	History []HistoryItem `json:"history,omitempty"`
	Item    *HistoryItem  `json:"item,omitempty"`

	Info  string `json:"info,omitempty"`
	Error string `json:"error,omitempty"`
}

// HistoryItem is one server-canonical conversation entry. ItemID is stable
// across snapshots and deltas and uniquely identifies the entry.
type HistoryItem struct {
	ItemID  string        `json:"item_id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content,omitempty"`
}

// ContentPart is one typed fragment of a history item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// IsMessage reports whether the item is a message-type entry.
func (i HistoryItem) IsMessage() bool {
	return i.Type == ItemTypeMessage
}

// EncodeClientEvent marshals a client event for transmission.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	if ev.Type == "" {
		return nil, ErrEmptyEvent
	}
	return sonic.Marshal(ev)
}

// DecodeServerEvent parses one inbound frame into a typed event.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, err
	}
	if ev.Type == "" {
		return ServerEvent{}, ErrEmptyEvent
	}
	return ev, nil
}
