package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the daemon's connection state toward the chat service.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	// Degraded means the push channel is up but the last catch-up refresh
	// failed, so the cache may be missing events.
	Degraded State = "DEGRADED"
	Stopped  State = "STOPPED"
)

var validTransitions = map[State][]State{
	Booting:      {Connecting, AuthRequired, Stopped},
	AuthRequired: {Connecting, Stopped},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Stopped},
	Syncing:      {Ready, Degraded, Reconnecting, Stopped},
	Ready:        {Syncing, Reconnecting, AuthRequired, Stopped},
	Reconnecting: {Connecting, AuthRequired, Stopped},
	Degraded:     {Syncing, Ready, Reconnecting, Stopped},
	Stopped:      {},
}

// Machine tracks and enforces daemon state transitions. Every accepted
// transition is published on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Booting state. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state, or fails if the move is not allowed.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// Path tries each state in order, stopping at the first rejected step.
// Used where the caller knows the target but not the exact current state.
func (m *Machine) Path(states ...State) error {
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			return err
		}
	}
	return nil
}

// StatusChange is the payload of session.status_changed events.
type StatusChange struct {
	From State
	To   State
}
