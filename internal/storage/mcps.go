package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Connectivity states for a registered MCP endpoint.
const (
	MCPStatusUnknown     = "unknown"
	MCPStatusOK          = "ok"
	MCPStatusUnreachable = "unreachable"
)

// ErrMCPNotFound is returned when no entry matches the requested id.
var ErrMCPNotFound = errors.New("mcp not found")

// MCP is one registered tool-extension endpoint.
type MCP struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Enabled   bool   `json:"enabled"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// MCPRegistry is the JSON-file-backed registry of MCP endpoints.
type MCPRegistry struct {
	path string
	http *http.Client

	mu      sync.Mutex
	entries []MCP
}

// NewMCPRegistry loads the registry at path. A missing file starts empty.
func NewMCPRegistry(path string) (*MCPRegistry, error) {
	r := &MCPRegistry{
		path: path,
		http: &http.Client{Timeout: 5 * time.Second},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("read mcp registry: %w", err)
	}
	if err := sonic.Unmarshal(data, &r.entries); err != nil {
		return nil, fmt.Errorf("parse mcp registry %s: %w", path, err)
	}
	return r, nil
}

// List returns all entries in insertion order.
func (r *MCPRegistry) List() []MCP {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MCP, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get returns the entry with id.
func (r *MCPRegistry) Get(id string) (MCP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return MCP{}, ErrMCPNotFound
}

// Add registers a new endpoint, enabled by default, and persists.
func (r *MCPRegistry) Add(name string, rawURL string) (MCP, error) {
	if err := validateMCP(name, rawURL); err != nil {
		return MCP{}, err
	}

	entry := MCP{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       rawURL,
		Enabled:   true,
		Status:    MCPStatusUnknown,
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if err := r.save(); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		return MCP{}, err
	}
	return entry, nil
}

// Update replaces name and URL of an existing entry and resets its
// connectivity status.
func (r *MCPRegistry) Update(id string, name string, rawURL string) (MCP, error) {
	if err := validateMCP(name, rawURL); err != nil {
		return MCP{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		r.entries[i].Name = name
		r.entries[i].URL = rawURL
		r.entries[i].Status = MCPStatusUnknown
		if err := r.save(); err != nil {
			return MCP{}, err
		}
		return r.entries[i], nil
	}
	return MCP{}, ErrMCPNotFound
}

// Delete removes the entry with id and persists.
func (r *MCPRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		return r.save()
	}
	return ErrMCPNotFound
}

// SetEnabled flips the enable flag and persists.
func (r *MCPRegistry) SetEnabled(id string, enabled bool) (MCP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		r.entries[i].Enabled = enabled
		if err := r.save(); err != nil {
			return MCP{}, err
		}
		return r.entries[i], nil
	}
	return MCP{}, ErrMCPNotFound
}

// CheckConnectivity probes the endpoint with a GET and records the result.
// Any HTTP response counts as reachable; only transport failure does not.
func (r *MCPRegistry) CheckConnectivity(ctx context.Context, id string) (MCP, error) {
	entry, err := r.Get(id)
	if err != nil {
		return MCP{}, err
	}

	status := MCPStatusOK
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		status = MCPStatusUnreachable
	} else if resp, err := r.http.Do(req); err != nil {
		status = MCPStatusUnreachable
	} else {
		resp.Body.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		r.entries[i].Status = status
		if err := r.save(); err != nil {
			return MCP{}, err
		}
		return r.entries[i], nil
	}
	return MCP{}, ErrMCPNotFound
}

func validateMCP(name string, rawURL string) error {
	if name == "" {
		return errors.New("mcp name is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid mcp url %q", rawURL)
	}
	return nil
}

func (r *MCPRegistry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create mcp registry dir: %w", err)
	}
	data, err := sonic.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}
