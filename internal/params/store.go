// Package params persists the tunable session parameters shared by every
// realtime session: sampling temperature, voice, and the server-side voice
// activity detection knobs.
package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/omnitutor/tutor-server/internal/protocol"
)

// Partial is a parameter update where only the provided fields change.
// Absent fields keep their current value, so an explicitly configured
// zero (say threshold 0) is preserved rather than backfilled.
type Partial struct {
	Temperature       *float64 `json:"temperature"`
	Voice             *string  `json:"voice"`
	Threshold         *float64 `json:"threshold"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms"`
	SilenceDurationMs *int     `json:"silence_duration_ms"`
	Instructions      *string  `json:"instructions"`
}

func (p Partial) applyTo(cfg *protocol.SessionConfig) {
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
	}
	if p.Voice != nil {
		cfg.Voice = *p.Voice
	}
	if p.Threshold != nil {
		cfg.Threshold = *p.Threshold
	}
	if p.PrefixPaddingMs != nil {
		cfg.PrefixPaddingMs = *p.PrefixPaddingMs
	}
	if p.SilenceDurationMs != nil {
		cfg.SilenceDurationMs = *p.SilenceDurationMs
	}
	if p.Instructions != nil {
		cfg.Instructions = *p.Instructions
	}
}

// Store is a JSON-file-backed parameter store. Fields missing from the file
// fall back to the defaults, so a partial file never produces zeroed knobs.
type Store struct {
	path string

	mu  sync.Mutex
	cfg protocol.SessionConfig
}

// NewStore loads the store at path, creating nothing on disk until the first
// update. A missing file yields the defaults; a corrupt one is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, cfg: protocol.DefaultSessionConfig()}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read session params: %w", err)
	}
	var p Partial
	if err := sonic.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse session params %s: %w", path, err)
	}
	p.applyTo(&s.cfg)
	return s, nil
}

// Get returns the current parameters.
func (s *Store) Get() protocol.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Update applies the provided fields over the current parameters and
// persists the result.
func (s *Store) Update(p Partial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.applyTo(&s.cfg)
	return s.save()
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session params dir: %w", err)
	}
	data, err := sonic.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
