// Package turn tracks whose turn it is in a half-duplex call and gates when
// inbound audio may be captured.
package turn

import (
	"errors"
	"fmt"
	"sync"
)

// Party is the side expected to produce the next audio.
type Party string

const (
	Agent Party = "agent"
	User  Party = "user"
)

// State is the machine's named state.
type State string

const (
	AgentArmed    State = "agent-armed"
	Recognizing   State = "recognizing"
	AwaitingReply State = "awaiting-reply"
	Ended         State = "ended"
)

// ErrInvalidTransition is returned when an event is not legal in the current state.
var ErrInvalidTransition = errors.New("turn: invalid transition")

// Snapshot is a consistent copy of the machine's fields.
type Snapshot struct {
	State     State
	Turn      Party
	FirstTurn bool
	MarkAcked bool
}

// Machine is safe for concurrent use by the inbound and outbound pipelines.
type Machine struct {
	mu        sync.Mutex
	markName  string
	state     State
	turn      Party
	firstTurn bool
	markAcked bool
	markSent  bool // mark for the current reply is on its way

	onTransition func(from, to State)
}

// NewMachine returns a machine in agent-armed for a new call. markName is the
// playback mark the far end must echo before capture re-opens.
func NewMachine(markName string) *Machine {
	return &Machine{
		markName:  markName,
		state:     AgentArmed,
		turn:      Agent,
		firstTurn: true,
	}
}

// OnTransition registers a hook called, under the lock, after every state change.
// It must not call back into the machine.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// CanCapture reports whether inbound frames may be classified and segmented.
func (m *Machine) CanCapture() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == AgentArmed && m.turn == Agent && (m.firstTurn || m.markAcked)
}

// ObserveMark records a playback acknowledgment. Names other than the configured
// mark are ignored, as are marks during the user's turn unless ExpectMark was
// called for the reply being played.
func (m *Machine) ObserveMark(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Ended || name != m.markName {
		return false
	}
	if m.turn != Agent && !(m.state == AwaitingReply && m.markSent) {
		return false
	}
	m.markAcked = true
	return true
}

// ExpectMark is called just before the playback mark is written, while the
// reply is still in flight. An echo observed from here on survives ReplySent.
func (m *Machine) ExpectMark() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AwaitingReply {
		return fmt.Errorf("%w: expect mark from %s", ErrInvalidTransition, m.state)
	}
	m.markSent = true
	return nil
}

// BeginRecognition moves agent-armed to recognizing once an utterance is complete.
func (m *Machine) BeginRecognition() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(AgentArmed, Recognizing)
}

// RecognitionFailed re-arms capture without flipping the turn.
func (m *Machine) RecognitionFailed() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(Recognizing, AgentArmed)
}

// UtteranceReady hands the turn to the user. Callers publish the utterance only
// after this returns so the flip is never observed after the signal.
func (m *Machine) UtteranceReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(Recognizing, AwaitingReply); err != nil {
		return err
	}
	m.turn = User
	m.firstTurn = false
	m.markAcked = false
	m.markSent = false
	return nil
}

// ReplySent returns the turn to the agent after the playback mark has been sent.
// Capture stays closed until the mark is echoed back.
func (m *Machine) ReplySent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(AwaitingReply, AgentArmed); err != nil {
		return err
	}
	m.turn = Agent
	if !m.markSent {
		m.markAcked = false
	}
	m.markSent = false
	return nil
}

// End moves to the terminal state. It reports whether this call performed the transition.
func (m *Machine) End() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Ended {
		return false
	}
	from := m.state
	m.state = Ended
	if m.onTransition != nil {
		m.onTransition(from, Ended)
	}
	return true
}

// Turn returns the active party.
func (m *Machine) Turn() Party {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Turn: m.turn, FirstTurn: m.firstTurn, MarkAcked: m.markAcked}
}

func (m *Machine) transition(from, to State) error {
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, m.state)
	}
	m.state = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}
