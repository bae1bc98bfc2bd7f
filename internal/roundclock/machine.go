package roundclock

import (
	"sync"
	"time"
)

// Transition is a single forward phase change.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

var sequence = []Phase{
	PhaseOpenBetting,
	PhaseWaitingOpenResult,
	PhaseCloseBetting,
	PhaseWaitingCloseResult,
	PhaseEnded,
}

// Machine is the phase state machine of one round. It is stepped by an external clock and
// only ever moves forward; phases are never revisited.
type Machine struct {
	mu    sync.Mutex
	start time.Time
	th    Thresholds
	phase Phase
}

func NewMachine(start time.Time, th Thresholds) *Machine {
	return &Machine{start: start, th: th, phase: PhaseIdle}
}

func (m *Machine) Start() time.Time { return m.start }

func (m *Machine) Thresholds() Thresholds { return m.th }

// Phase returns the last phase reached by Step.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Ended reports whether the machine reached its terminal phase.
func (m *Machine) Ended() bool { return m.Phase() == PhaseEnded }

// Step recomputes the phase for now. It returns every transition passed through, in order,
// so a late tick never skips a phase. A clock that moved backwards yields no transitions.
func (m *Machine) Step(now time.Time) []Transition {
	target := PhaseAt(now.Sub(m.start), m.th)

	m.mu.Lock()
	defer m.mu.Unlock()
	if target.Rank() <= m.phase.Rank() {
		return nil
	}
	var out []Transition
	for _, p := range sequence {
		if p.Rank() <= m.phase.Rank() {
			continue
		}
		if p.Rank() > target.Rank() {
			break
		}
		out = append(out, Transition{From: m.phase, To: p, At: now})
		m.phase = p
	}
	return out
}

// Current is PhaseAt for now without mutating the machine.
func (m *Machine) Current(now time.Time) Phase {
	p := PhaseAt(now.Sub(m.start), m.th)
	if reached := m.Phase(); reached.Rank() > p.Rank() {
		return reached
	}
	return p
}
