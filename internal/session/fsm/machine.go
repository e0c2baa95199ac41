package fsm

import "sync"

// State describes the connection state of one realtime session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Machine is a lightweight deterministic connection state machine. The
// disconnected state is re-entrant: a closed session may dial again.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a state machine in the disconnected state.
func New() *Machine {
	return &Machine{state: StateDisconnected}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether the session socket is open.
func (m *Machine) Connected() bool {
	return m.State() == StateConnected
}

// OnDial moves the session into connecting. Returns false when a dial is
// already in flight or the session is already connected.
func (m *Machine) OnDial() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnected {
		return false
	}
	m.state = StateConnecting
	return true
}

// OnOpen marks the socket open.
func (m *Machine) OnOpen() {
	m.transition(StateConnected)
}

// OnClose marks the socket closed, whether clean or due to error.
func (m *Machine) OnClose() {
	m.transition(StateDisconnected)
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
