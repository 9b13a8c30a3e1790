package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wappd/internal/bus"
)

// State represents a session's connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	AwaitingScan State = "awaiting_scan"
	Open         State = "open"
	LoggedOut    State = "logged_out"
)

// validTransitions defines allowed state transitions. LoggedOut is
// terminal except for an explicit restart back to Connecting.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {AwaitingScan, Open, Disconnected, LoggedOut},
	AwaitingScan: {Open, Connecting, Disconnected, LoggedOut},
	Open:         {Disconnected, LoggedOut},
	LoggedOut:    {Connecting},
}

// Machine tracks and enforces one session's connection state. It also
// carries the pending QR challenge and the last error string surfaced
// via the status endpoint.
type Machine struct {
	mu        sync.RWMutex
	current   State
	qr        string
	lastError string
	bus       *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid. Leaving AwaitingScan clears the pending QR.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	if to != AwaitingScan {
		m.qr = ""
	}
	b := m.bus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.Event{
			Kind:      "conn.status_changed",
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// SetQR records a pairing challenge and moves to AwaitingScan.
func (m *Machine) SetQR(code string) {
	m.mu.Lock()
	if slices.Contains(validTransitions[m.current], AwaitingScan) {
		m.current = AwaitingScan
	}
	m.qr = code
	b := m.bus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.Event{
			Kind:      bus.KindQRCode,
			Timestamp: time.Now(),
			Payload:   code,
		})
	}
}

// QR returns the pending pairing challenge, or "" when none.
func (m *Machine) QR() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.qr
}

// SetLastError records the most recent connection error string.
func (m *Machine) SetLastError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

// LastError returns the most recent connection error string.
func (m *Machine) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
