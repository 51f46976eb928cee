// Package trip simulates the lifecycle of a confirmed booking: the taxi's
// approach, boarding, the ride itself and completion.
package trip

import (
	"errors"
	"fmt"
)

// Phase is a stage of a booking's simulated lifecycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseToPickup Phase = "to_pickup"
	PhaseAtPickup Phase = "at_pickup"
	PhaseToDrop   Phase = "to_drop"
	PhaseFinished Phase = "finished"
)

// ErrInvalidTransition is returned when a phase change skips or reverses a step.
var ErrInvalidTransition = errors.New("invalid phase transition")

// allowedTransitions lists the single legal successor of each phase.
// Returning to idle is a reset, not a transition, and is handled by Machine.Reset.
var allowedTransitions = map[Phase]Phase{
	PhaseIdle:     PhaseToPickup,
	PhaseToPickup: PhaseAtPickup,
	PhaseAtPickup: PhaseToDrop,
	PhaseToDrop:   PhaseFinished,
}

// AllPhases returns the phases in lifecycle order.
func AllPhases() []Phase {
	return []Phase{PhaseIdle, PhaseToPickup, PhaseAtPickup, PhaseToDrop, PhaseFinished}
}

// IsValid checks whether the phase is a known value.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseToPickup, PhaseAtPickup, PhaseToDrop, PhaseFinished:
		return true
	}
	return false
}

// Next returns the successor phase, or false for finished and unknown phases.
func (p Phase) Next() (Phase, bool) {
	next, ok := allowedTransitions[p]
	return next, ok
}

// CanTransitionTo reports whether moving from p to next is a single forward step.
func (p Phase) CanTransitionTo(next Phase) bool {
	allowed, ok := allowedTransitions[p]
	return ok && allowed == next
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseFinished
}

// AllowsCancellation reports whether a booking in this phase may be
// cancelled or rebooked.
func (p Phase) AllowsCancellation() bool {
	return p == PhaseToPickup
}

// Machine enforces the transition table for a single booking.
// It is not safe for concurrent use; Clock guards it with its own mutex.
type Machine struct {
	phase Phase
}

// NewMachine returns a machine in the idle phase.
func NewMachine() *Machine {
	return &Machine{phase: PhaseIdle}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Start moves an idle machine to to_pickup.
func (m *Machine) Start() error {
	return m.Advance(PhaseToPickup)
}

// Advance moves to the given phase if it is the legal successor.
func (m *Machine) Advance(to Phase) error {
	if !m.phase.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.phase, to)
	}
	m.phase = to
	return nil
}

// Reset returns the machine to idle from any phase.
func (m *Machine) Reset() {
	m.phase = PhaseIdle
}
