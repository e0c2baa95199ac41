package ws

import "sync"

// Registry tracks the bridges of currently connected browser clients so the
// server can report them and close them on shutdown.
type Registry struct {
	mu      sync.Mutex
	bridges map[string]*bridge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]*bridge)}
}

func (r *Registry) add(b *bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[b.id] = b
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, id)
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

// SessionIDs returns the ids of all connected clients.
func (r *Registry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.bridges))
	for id := range r.bridges {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll tears down every connected bridge. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	bridges := make([]*bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.Unlock()

	for _, b := range bridges {
		b.shutdown()
	}
}
