package sync

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tarpai/connect-sync/internal/bus"
)

// State is a sync manager connectivity/activity state.
type State string

const (
	Offline       State = "OFFLINE"
	OnlineIdle    State = "ONLINE_IDLE"
	OnlineSyncing State = "ONLINE_SYNCING"
)

// validTransitions defines allowed state transitions. Connectivity loss is
// allowed from every online state; a drain only starts from idle.
var validTransitions = map[State][]State{
	Offline:       {OnlineIdle},
	OnlineIdle:    {OnlineSyncing, Offline},
	OnlineSyncing: {OnlineIdle, Offline},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Offline state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Offline, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error when the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit("sync.status_changed", StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for sync.status_changed events.
type StatusChange struct {
	From State
	To   State
}
