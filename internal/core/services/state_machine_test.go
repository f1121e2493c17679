package services

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
)

func TestStateMachine_Transitions(t *testing.T) {
	tests := []struct {
		from, to domain.Phase
		allowed  bool
	}{
		{domain.PhaseIdle, domain.PhaseCalling, true},
		{domain.PhaseIdle, domain.PhaseRinging, true},
		{domain.PhaseIdle, domain.PhaseConnected, false},
		{domain.PhaseIdle, domain.PhaseEnding, false},
		{domain.PhaseCalling, domain.PhaseRinging, true},
		{domain.PhaseCalling, domain.PhaseConnected, true},
		{domain.PhaseCalling, domain.PhaseEnding, true},
		{domain.PhaseCalling, domain.PhaseIdle, false},
		{domain.PhaseRinging, domain.PhaseConnected, true},
		{domain.PhaseRinging, domain.PhaseEnding, true},
		{domain.PhaseRinging, domain.PhaseCalling, false},
		{domain.PhaseConnected, domain.PhaseEnding, true},
		{domain.PhaseConnected, domain.PhaseIdle, false},
		{domain.PhaseEnding, domain.PhaseIdle, true},
		{domain.PhaseEnding, domain.PhaseConnected, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateMachine_TransitionNotifies(t *testing.T) {
	var changes [][2]domain.Phase
	sm := NewStateMachine(func(from, to domain.Phase) {
		changes = append(changes, [2]domain.Phase{from, to})
	})
	assert.Equal(t, domain.PhaseIdle, sm.Phase())

	require.NoError(t, sm.Transition(domain.PhaseCalling))
	require.NoError(t, sm.Transition(domain.PhaseConnected))

	err := sm.Transition(domain.PhaseRinging)
	assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	assert.Equal(t, domain.PhaseConnected, sm.Phase())

	require.NoError(t, sm.Transition(domain.PhaseEnding))
	require.NoError(t, sm.Transition(domain.PhaseIdle))

	assert.Equal(t, [][2]domain.Phase{
		{domain.PhaseIdle, domain.PhaseCalling},
		{domain.PhaseCalling, domain.PhaseConnected},
		{domain.PhaseConnected, domain.PhaseEnding},
		{domain.PhaseEnding, domain.PhaseIdle},
	}, changes)
}

func TestStateMachine_TransitionFrom(t *testing.T) {
	sm := NewStateMachine(nil)

	assert.False(t, sm.TransitionFrom(domain.PhaseConnected, domain.PhaseCalling, domain.PhaseRinging))
	require.NoError(t, sm.Transition(domain.PhaseRinging))
	assert.True(t, sm.TransitionFrom(domain.PhaseConnected, domain.PhaseCalling, domain.PhaseRinging))
	assert.False(t, sm.TransitionFrom(domain.PhaseConnected, domain.PhaseCalling, domain.PhaseRinging))
	assert.Equal(t, domain.PhaseConnected, sm.Phase())
}

func TestStateMachine_ConcurrentTransitionsSingleWinner(t *testing.T) {
	sm := NewStateMachine(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sm.TransitionFrom(domain.PhaseCalling, domain.PhaseIdle) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
