package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_InitialState(t *testing.T) {
	sm := NewMachine("initial")
	assert.Equal(t, Phase("initial"), sm.Current())
}

func TestMachine_UndeclaredTransitionRejected(t *testing.T) {
	sm := NewMachine("A")
	err := sm.ChangeState("B")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)
	assert.Equal(t, Phase("A"), sm.Current())
}

func TestMachine_AddAndUseTransition(t *testing.T) {
	sm := NewMachine("A")
	sm.AddTransition("A", "B", func() bool { return true })
	sm.AddTransition("B", "C", func() bool { return false })

	var entered []Phase
	sm.OnEnter("B", func(from, to Phase) { entered = append(entered, from, to) })
	sm.OnEnter("C", func(from, to Phase) { t.Error("OnEnter should not run for a blocked transition") })

	require.NoError(t, sm.ChangeState("B"))
	assert.Equal(t, []Phase{"A", "B"}, entered)

	assert.False(t, sm.Can("C"))
	assert.ErrorIs(t, sm.ChangeState("C"), ErrTransitionNotAllowed)
	assert.Equal(t, Phase("B"), sm.Current())
}

func TestRoundMachine_FullRound(t *testing.T) {
	sm := NewRoundMachine()
	for _, p := range []Phase{Answering, Collecting, RoundClosed, Advancing, Answering, RoundClosed, AwaitingFinal, Finished} {
		require.NoError(t, sm.ChangeState(p), "to %s", p)
	}

	assert.ErrorIs(t, sm.ChangeState(Answering), ErrTransitionNotAllowed)
}

func TestRoundMachine_NoSkippingClose(t *testing.T) {
	sm := NewRoundMachine()
	require.NoError(t, sm.ChangeState(Answering))

	assert.False(t, sm.Can(Advancing))
	assert.False(t, sm.Can(AwaitingFinal))
}

func TestMachine_ResetRunsHooks(t *testing.T) {
	sm := NewRoundMachine()
	require.NoError(t, sm.ChangeState(Answering))

	var from Phase
	sm.OnEnter(Idle, func(f, _ Phase) { from = f })
	sm.Reset(Idle)

	assert.Equal(t, Idle, sm.Current())
	assert.Equal(t, Answering, from)
}
