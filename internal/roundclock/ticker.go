package roundclock

import (
	"context"
	"sync"
	"time"
)

type EventKind string

const (
	EventPhaseChanged EventKind = "phase_changed"
	EventRoundEnded   EventKind = "round_ended"
)

// Event is emitted by a Ticker on phase transitions and once when the round ends.
type Event struct {
	RoundID string
	Kind    EventKind
	From    Phase
	Phase   Phase
	At      time.Time
}

// Ticker steps a Machine once per interval and publishes transitions on Events.
// It halts by itself after the round ends; Stop cancels the remaining ticks.
type Ticker struct {
	roundID  string
	machine  *Machine
	interval time.Duration
	now      func() time.Time

	events chan Event

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	startOne sync.Once
}

type Option func(*Ticker)

func WithInterval(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithNow replaces the wall clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Ticker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTicker(roundID string, m *Machine, opts ...Option) *Ticker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Ticker{
		roundID:  roundID,
		machine:  m,
		interval: time.Second,
		now:      time.Now,
		events:   make(chan Event, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Ticker) RoundID() string { return t.roundID }

func (t *Ticker) Machine() *Machine { return t.machine }

// Events is closed when the ticker halts.
func (t *Ticker) Events() <-chan Event { return t.events }

func (t *Ticker) Start() {
	t.startOne.Do(func() {
		t.wg.Add(1)
		go t.loop()
	})
}

// Stop cancels future ticks and waits for the loop to exit.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *Ticker) loop() {
	defer t.wg.Done()
	defer close(t.events)

	if t.step() {
		return
	}
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-tk.C:
			if t.step() {
				return
			}
		}
	}
}

// step returns true once the round has ended and the ticker must halt.
func (t *Ticker) step() bool {
	if t.machine.Ended() {
		return true
	}
	for _, tr := range t.machine.Step(t.now()) {
		if !t.emit(Event{RoundID: t.roundID, Kind: EventPhaseChanged, From: tr.From, Phase: tr.To, At: tr.At}) {
			return true
		}
		if tr.To == PhaseEnded {
			t.emit(Event{RoundID: t.roundID, Kind: EventRoundEnded, From: tr.From, Phase: PhaseEnded, At: tr.At})
			return true
		}
	}
	return false
}

func (t *Ticker) emit(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}
