package protocol

// SessionConfig holds the mutable session parameters forwarded to the
// realtime backend and persisted by the configuration collaborator.
type SessionConfig struct {
	Temperature       float64 `json:"temperature"`
	Voice             string  `json:"voice"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	Instructions      string  `json:"instructions"`
}

// DefaultSessionConfig returns the backend defaults used when no persisted
// configuration exists.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Temperature:       0.8,
		Voice:             "Alloy",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
		Instructions:      "",
	}
}

// ConfigEvent builds the client_config event carrying cfg.
func ConfigEvent(cfg SessionConfig) ClientEvent {
	temperature := cfg.Temperature
	threshold := cfg.Threshold
	prefixPadding := cfg.PrefixPaddingMs
	silenceDuration := cfg.SilenceDurationMs
	return ClientEvent{
		Type:              ClientConfigUpdate,
		Temperature:       &temperature,
		Voice:             cfg.Voice,
		Threshold:         &threshold,
		PrefixPaddingMs:   &prefixPadding,
		SilenceDurationMs: &silenceDuration,
		Instructions:      cfg.Instructions,
	}
}
