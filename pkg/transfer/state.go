// Package transfer implements the observable sender-side transfer state
// machine (C8): a tagged variant, not a flag bag. Illegal transitions
// return a KindInvalidState error rather than silently no-opping.
package transfer

import (
	"sync"

	"github.com/kaelbridge/lansend/pkg/protocol"
)

// Status is the tag of the current state. The zero value is Idle.
type Status int

const (
	Idle Status = iota
	WaitingForAcceptance
	Transferring
	Completed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingForAcceptance:
		return "WaitingForAcceptance"
	case Transferring:
		return "Transferring"
	case Completed:
		return "Completed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Snapshot is the data carried alongside a Status, matching spec §4.7's
// per-case fields.
type Snapshot struct {
	Status       Status
	TotalFiles   int
	Completed    int
	CancelReason string
}

// Event names a transition to attempt. Event-to-transition mapping below is
// invalid-by-default: anything not explicitly allowed fails.
type Event int

const (
	EventRegister Event = iota
	EventPrepared
	EventFileCompleted
	EventAllCompleted
	EventCancel
)

// Machine is a small observable state machine; safe for concurrent use
// since a Sender may be cancelled from a different goroutine than the
// one driving the upload loop.
type Machine struct {
	mu    sync.Mutex
	state Snapshot
}

// New creates a Machine starting at Idle.
func New(totalFiles int) *Machine {
	return &Machine{state: Snapshot{Status: Idle, TotalFiles: totalFiles}}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// invalidState builds the InvalidState error spec §4.7/§9 requires.
func invalidState(current Status, attempted Event) error {
	return protocol.New(protocol.KindInvalidState,
		"invalid transition: current="+current.String()+" attempted="+eventName(attempted))
}

func eventName(e Event) string {
	switch e {
	case EventRegister:
		return "Register"
	case EventPrepared:
		return "Prepared"
	case EventFileCompleted:
		return "FileCompleted"
	case EventAllCompleted:
		return "AllCompleted"
	case EventCancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

// Register transitions Idle -> WaitingForAcceptance.
func (m *Machine) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != Idle {
		return invalidState(m.state.Status, EventRegister)
	}
	m.state.Status = WaitingForAcceptance
	return nil
}

// Prepared transitions WaitingForAcceptance -> Transferring{completed:0}.
func (m *Machine) Prepared() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != WaitingForAcceptance {
		return invalidState(m.state.Status, EventPrepared)
	}
	m.state.Status = Transferring
	m.state.Completed = 0
	return nil
}

// FileCompleted increments the completed count; only valid while
// Transferring.
func (m *Machine) FileCompleted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != Transferring {
		return invalidState(m.state.Status, EventFileCompleted)
	}
	m.state.Completed++
	return nil
}

// Finish transitions Transferring -> Completed once every file has
// completed.
func (m *Machine) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != Transferring || m.state.Completed < m.state.TotalFiles {
		return invalidState(m.state.Status, EventAllCompleted)
	}
	m.state.Status = Completed
	return nil
}

// Cancel transitions any non-terminal state to Cancelled{reason}. This
// is the one transition allowed from every live state, matching spec
// §4.7's "cancellation by caller at any point".
func (m *Machine) Cancel(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Status {
	case Completed, Cancelled:
		return invalidState(m.state.Status, EventCancel)
	}
	m.state.Status = Cancelled
	m.state.CancelReason = reason
	return nil
}
