package interview

import (
	"errors"
	"fmt"
)

// State is a session lifecycle state.
type State string

const (
	StateInitializing    State = "initializing"
	StateInteractiveWait State = "interactive-wait"
	StateEditWait        State = "edit-wait"
	StateManualWait      State = "manual-wait"
	StateAutoRunning     State = "auto-running"
	StateProcessing      State = "processing"
	StateFinalizing      State = "finalizing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Trigger is an input to the state machine.
type Trigger string

const (
	TriggerInteractive Trigger = "interactive"
	TriggerEdit        Trigger = "edit"
	TriggerManual      Trigger = "manual"
	TriggerAuto        Trigger = "auto"
	TriggerBusy        Trigger = "busy"
	TriggerReply       Trigger = "reply"
	TriggerIdle        Trigger = "idle"
	TriggerDone        Trigger = "done"
	TriggerFinalized   Trigger = "finalized"
	TriggerFail        Trigger = "fail"
)

// ErrIllegalTransition is returned for a trigger the current state does not accept.
var ErrIllegalTransition = errors.New("illegal state transition")

// resume marks a transition back to the wait state the turn started from.
const resume State = "resume"

var transitions = map[State]map[Trigger]State{
	StateInitializing: {
		TriggerInteractive: StateInteractiveWait,
		TriggerEdit:        StateEditWait,
		TriggerManual:      StateManualWait,
		TriggerAuto:        StateAutoRunning,
		TriggerFail:        StateFailed,
	},
	StateInteractiveWait: {TriggerBusy: StateProcessing, TriggerFail: StateFailed},
	StateEditWait:        {TriggerBusy: StateProcessing, TriggerFail: StateFailed},
	StateManualWait:      {TriggerBusy: StateProcessing, TriggerFail: StateFailed},
	StateAutoRunning:     {TriggerBusy: StateProcessing, TriggerFail: StateFailed},
	StateProcessing: {
		TriggerReply: StateProcessing,
		TriggerIdle:  resume,
		TriggerDone:  StateFinalizing,
		TriggerFail:  StateFailed,
	},
	StateFinalizing: {
		TriggerBusy:      StateFinalizing,
		TriggerIdle:      StateFinalizing,
		TriggerFinalized: StateDone,
		TriggerFail:      StateFailed,
	},
	StateDone:   {TriggerBusy: StateDone, TriggerIdle: StateDone},
	StateFailed: {TriggerBusy: StateFailed, TriggerIdle: StateFailed, TriggerFail: StateFailed},
}

// Machine tracks the session state. It is not safe for concurrent use.
type Machine struct {
	state   State
	waiting State
}

// NewMachine returns a machine in StateInitializing.
func NewMachine() *Machine {
	return &Machine{state: StateInitializing}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Fire applies t and returns the new state. An illegal trigger leaves the
// state unchanged.
func (m *Machine) Fire(t Trigger) (State, error) {
	next, ok := transitions[m.state][t]
	if !ok {
		return m.state, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, t, m.state)
	}
	if next == resume {
		next = m.waiting
	}
	if next == StateProcessing && m.state != StateProcessing {
		m.waiting = m.state
	}
	m.state = next
	return next, nil
}
