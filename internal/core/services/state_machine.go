package services

import (
	"fmt"
	"sync"

	"peercall/internal/core/domain"
)

var transitions = map[domain.Phase][]domain.Phase{
	domain.PhaseIdle:      {domain.PhaseCalling, domain.PhaseRinging},
	domain.PhaseCalling:   {domain.PhaseRinging, domain.PhaseConnected, domain.PhaseEnding},
	domain.PhaseRinging:   {domain.PhaseConnected, domain.PhaseEnding},
	domain.PhaseConnected: {domain.PhaseEnding},
	domain.PhaseEnding:    {domain.PhaseIdle},
}

// StateMachine guards the call phase. Every change goes through the transition table.
type StateMachine struct {
	mu       sync.RWMutex
	phase    domain.Phase
	onChange func(from, to domain.Phase)
}

func NewStateMachine(onChange func(from, to domain.Phase)) *StateMachine {
	return &StateMachine{phase: domain.PhaseIdle, onChange: onChange}
}

func (sm *StateMachine) Phase() domain.Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.phase
}

func CanTransition(from, to domain.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves to the target phase or returns domain.ErrIllegalTransition.
func (sm *StateMachine) Transition(to domain.Phase) error {
	sm.mu.Lock()
	from := sm.phase
	if !CanTransition(from, to) {
		sm.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}
	sm.phase = to
	sm.mu.Unlock()

	if sm.onChange != nil {
		sm.onChange(from, to)
	}
	return nil
}

// TransitionFrom transitions only when the current phase is one of the given ones.
func (sm *StateMachine) TransitionFrom(to domain.Phase, from ...domain.Phase) bool {
	sm.mu.Lock()
	current := sm.phase
	allowed := false
	for _, f := range from {
		if f == current {
			allowed = true
			break
		}
	}
	if !allowed || !CanTransition(current, to) {
		sm.mu.Unlock()
		return false
	}
	sm.phase = to
	sm.mu.Unlock()

	if sm.onChange != nil {
		sm.onChange(current, to)
	}
	return true
}
