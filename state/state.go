package state

import (
	"errors"
	"sync"
)

// Phase is one state of a round.
type Phase string

const (
	Idle          Phase = "idle"
	Answering     Phase = "answering"
	Collecting    Phase = "collecting"
	RoundClosed   Phase = "round_closed"
	Advancing     Phase = "advancing"
	AwaitingFinal Phase = "awaiting_final"
	Finished      Phase = "finished"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// EnterFunc runs after the machine entered a phase.
type EnterFunc func(from, to Phase)

// Machine 状态机. Only declared transitions are allowed; a declared
// transition with a condition is taken only while the condition holds.
type Machine struct {
	current     Phase
	transitions map[Phase]map[Phase]func() bool // fromState -> toState -> condition
	onEnter     map[Phase][]EnterFunc
	mutex       sync.RWMutex
}

func NewMachine(initial Phase) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[Phase]map[Phase]func() bool),
		onEnter:     make(map[Phase][]EnterFunc),
	}
}

// NewRoundMachine declares the round graph:
//
//	idle -> answering -> collecting -> round_closed -> advancing -> answering
//	                                             \-> awaiting_final -> finished
//
// A round may also close straight from answering (deadline or force close
// before anyone answered).
func NewRoundMachine() *Machine {
	m := NewMachine(Idle)
	m.AddTransition(Idle, Answering, nil)
	m.AddTransition(Answering, Collecting, nil)
	m.AddTransition(Answering, RoundClosed, nil)
	m.AddTransition(Collecting, RoundClosed, nil)
	m.AddTransition(RoundClosed, Advancing, nil)
	m.AddTransition(RoundClosed, AwaitingFinal, nil)
	m.AddTransition(Advancing, Answering, nil)
	m.AddTransition(AwaitingFinal, Finished, nil)
	return m
}

func (m *Machine) AddTransition(from, to Phase, condition func() bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[Phase]func() bool)
	}
	m.transitions[from][to] = condition
}

// OnEnter registers fn to run every time the machine enters p.
func (m *Machine) OnEnter(p Phase, fn EnterFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onEnter[p] = append(m.onEnter[p], fn)
}

// Can reports whether ChangeState(to) would currently succeed.
func (m *Machine) Can(to Phase) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.allowed(to)
}

func (m *Machine) allowed(to Phase) bool {
	condition, exists := m.transitions[m.current][to]
	if !exists {
		return false
	}
	return condition == nil || condition()
}

func (m *Machine) ChangeState(to Phase) error {
	m.mutex.Lock()
	if !m.allowed(to) {
		m.mutex.Unlock()
		return ErrTransitionNotAllowed
	}
	from := m.current
	m.current = to
	hooks := append([]EnterFunc(nil), m.onEnter[to]...)
	m.mutex.Unlock()

	for _, h := range hooks {
		h(from, to)
	}
	return nil
}

// Reset jumps to p without checking transitions. Used when a session is
// restarted or the room goes away.
func (m *Machine) Reset(p Phase) {
	m.mutex.Lock()
	from := m.current
	m.current = p
	hooks := append([]EnterFunc(nil), m.onEnter[p]...)
	m.mutex.Unlock()

	for _, h := range hooks {
		h(from, p)
	}
}

func (m *Machine) Current() Phase {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}
