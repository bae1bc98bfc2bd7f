// Package orchestrator owns the current round: starting and stopping it, declaring its result
// and handing it to settlement.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/guard"
	"github.com/park285/matka-round-server/internal/ledger"
	"github.com/park285/matka-round-server/internal/matka"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/roundclock"
	"github.com/park285/matka-round-server/internal/settlement"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/park285/matka-round-server/internal/wallet"
	"github.com/park285/matka-round-server/pkg/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broadcaster fans an event out to every authenticated session.
type Broadcaster interface {
	Broadcast(ev wire.Event)
}

type ResultMode string

const (
	ModeAuto   ResultMode = "auto"
	ModeManual ResultMode = "manual"
)

type Config struct {
	Thresholds       roundclock.Thresholds
	Window           roundclock.Window
	RoundDuration    time.Duration
	StrictManualJodi bool
	TickInterval     time.Duration
	// Location is the zone the operating window is evaluated in. Nil means time.Local.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       roundclock.DefaultThresholds(),
		Window:           roundclock.DefaultWindow(),
		RoundDuration:    35 * time.Minute,
		StrictManualJodi: true,
		TickInterval:     time.Second,
	}
}

type Orchestrator struct {
	cfg    Config
	store  store.Store
	wallet *wallet.Service
	settle *settlement.Engine
	lease  *guard.RoundLease
	now    func() time.Time
	pick   matka.Picker

	outMu sync.RWMutex
	out   Broadcaster

	clock chan roundclock.Event

	mu       sync.Mutex
	current  *domain.Round
	machine  *roundclock.Machine
	ticker   *roundclock.Ticker
	stopFwd  chan struct{}
	fwdGroup sync.WaitGroup
}

type Option func(*Orchestrator)

func WithNow(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithPicker replaces the random source of automatic results.
func WithPicker(p matka.Picker) Option { return func(o *Orchestrator) { o.pick = p } }

func WithLease(l *guard.RoundLease) Option { return func(o *Orchestrator) { o.lease = l } }

func New(cfg Config, st store.Store, w *wallet.Service, opts ...Option) *Orchestrator {
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = 35 * time.Minute
	}
	if !cfg.Thresholds.Valid() {
		cfg.Thresholds = roundclock.DefaultThresholds()
	}
	o := &Orchestrator{
		cfg:    cfg,
		store:  st,
		wallet: w,
		settle: settlement.New(st, w),
		lease:  guard.NewRoundLease(nil, 0),
		now:    time.Now,
		pick:   matka.CryptoPicker,
		clock:  make(chan roundclock.Event, 32),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

// SetBroadcaster wires the session layer; nil disables broadcasts.
func (o *Orchestrator) SetBroadcaster(b Broadcaster) {
	o.outMu.Lock()
	o.out = b
	o.outMu.Unlock()
}

func (o *Orchestrator) broadcast(ev wire.Event) {
	o.outMu.RLock()
	b := o.out
	o.outMu.RUnlock()
	if b != nil {
		b.Broadcast(ev)
	}
}

// ClockEvents carries the phase events of whichever round is current. The session loop is its
// only consumer and passes each event back through HandleClockEvent.
func (o *Orchestrator) ClockEvents() <-chan roundclock.Event { return o.clock }

func (o *Orchestrator) local(t time.Time) time.Time {
	if o.cfg.Location != nil {
		return t.In(o.cfg.Location)
	}
	return t.Local()
}

func cloneRound(r *domain.Round) *domain.Round {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return &c
}

// Current returns a copy of the current round, nil if none has run yet.
func (o *Orchestrator) Current() *domain.Round {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneRound(o.current)
}

// ActiveRound implements ledger.RoundSource.
func (o *Orchestrator) ActiveRound(now time.Time) (ledger.RoundView, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.Status != domain.RoundActive || o.machine == nil {
		return ledger.RoundView{}, false
	}
	p := o.machine.Current(now)
	return ledger.RoundView{
		Round:    cloneRound(o.current),
		Phase:    p,
		Deadline: roundclock.BettingDeadline(o.machine.Start(), p, o.cfg.Thresholds),
	}, true
}

// StartRound opens a new active round and starts its clock.
func (o *Orchestrator) StartRound(ctx context.Context) (*domain.Round, error) {
	o.mu.Lock()
	if o.current != nil && o.current.Status == domain.RoundActive {
		o.mu.Unlock()
		return nil, domain.ErrAlreadyActive
	}
	now := o.now()
	if !o.cfg.Window.Allows(o.local(now)) {
		o.mu.Unlock()
		return nil, domain.ErrOutsideOperatingWindow
	}

	r := &domain.Round{
		ID:        uuid.NewString(),
		StartTime: now.UTC(),
		EndTime:   now.Add(o.cfg.RoundDuration).UTC(),
		Status:    domain.RoundActive,
		CreatedAt: now.UTC(),
	}
	if err := o.lease.Acquire(ctx, r.ID); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if err := o.store.InsertRound(ctx, r); err != nil {
		_ = o.lease.Release(ctx, r.ID)
		o.mu.Unlock()
		return nil, err
	}
	o.current = r
	o.startClockLocked(r)
	out := cloneRound(r)
	o.mu.Unlock()

	obslog.L().Info("round_start", zap.String("round_id", r.ID), zap.Time("start", r.StartTime), zap.Time("end", r.EndTime))
	o.broadcast(wire.NewGameState(o.Snapshot()))
	return out, nil
}

func (o *Orchestrator) startClockLocked(r *domain.Round) {
	o.machine = roundclock.NewMachine(r.StartTime, o.cfg.Thresholds)
	o.ticker = roundclock.NewTicker(r.ID, o.machine, roundclock.WithInterval(o.cfg.TickInterval), roundclock.WithNow(o.now))
	o.stopFwd = make(chan struct{})
	tk, stop := o.ticker, o.stopFwd
	o.fwdGroup.Add(1)
	go func() {
		defer o.fwdGroup.Done()
		for ev := range tk.Events() {
			select {
			case o.clock <- ev:
			case <-stop:
				return
			}
		}
	}()
	o.ticker.Start()
}

// stopClockLocked cancels the current round's ticks. The machine stays for phase queries.
func (o *Orchestrator) stopClockLocked() {
	if o.ticker == nil {
		return
	}
	close(o.stopFwd)
	o.ticker.Stop()
	o.ticker = nil
	o.stopFwd = nil
}

// StopRound halts the active round. Wagers stay pending until a result is declared.
func (o *Orchestrator) StopRound(ctx context.Context) (*domain.Round, error) {
	o.mu.Lock()
	if o.current == nil || o.current.Status != domain.RoundActive {
		o.mu.Unlock()
		return nil, domain.ErrNoActiveRound
	}
	next := cloneRound(o.current)
	next.Status = domain.RoundStopped
	if now := o.now().UTC(); now.Before(next.EndTime) {
		next.EndTime = now
	}
	if err := o.store.UpdateRound(ctx, next); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.stopClockLocked()
	o.current = next
	_ = o.lease.Release(ctx, next.ID)
	out := cloneRound(next)
	o.mu.Unlock()

	obslog.L().Info("round_stop", zap.String("round_id", out.ID))
	o.broadcast(wire.NewGameState(o.Snapshot()))
	o.settleIfDeclared(ctx, out)
	return out, nil
}

func (o *Orchestrator) settleIfDeclared(ctx context.Context, r *domain.Round) {
	if r.Result == nil {
		pending, err := o.store.PendingWagers(ctx, r.ID)
		obslog.L().Warn("round_stopped_without_result",
			zap.String("round_id", r.ID),
			zap.Int("pending_wagers", len(pending)),
			zap.Error(err),
		)
		return
	}
	_, _ = o.settle.Settle(ctx, r)
}

// DeclareResult fixes the result of the current round, completes it and settles its wagers.
// The round must be active, or stopped with no result yet.
func (o *Orchestrator) DeclareResult(ctx context.Context, mode ResultMode, manual *domain.Result) (*domain.Round, settlement.Report, error) {
	var res domain.Result
	switch mode {
	case ModeAuto:
		res = matka.GenerateResult(o.pick)
	case ModeManual:
		if manual == nil {
			return nil, settlement.Report{}, domain.ErrInvalidResultFormat
		}
		res = *manual
	default:
		return nil, settlement.Report{}, domain.ErrInvalidArgs
	}

	o.mu.Lock()
	if o.current == nil || !o.current.AcceptsResult() {
		o.mu.Unlock()
		return nil, settlement.Report{}, domain.ErrNoActiveRound
	}
	if mode == ModeManual {
		if err := matka.ValidateResult(res, o.cfg.StrictManualJodi); err != nil {
			o.mu.Unlock()
			return nil, settlement.Report{}, err
		}
	}
	wasActive := o.current.Status == domain.RoundActive
	next := cloneRound(o.current)
	next.Result = &res
	next.Status = domain.RoundCompleted
	if now := o.now().UTC(); wasActive && now.Before(next.EndTime) {
		next.EndTime = now
	}
	if err := o.store.UpdateRound(ctx, next); err != nil {
		o.mu.Unlock()
		return nil, settlement.Report{}, err
	}
	if wasActive {
		o.stopClockLocked()
		_ = o.lease.Release(ctx, next.ID)
	}
	o.current = next
	out := cloneRound(next)
	o.mu.Unlock()

	obslog.L().Info("result_declared", zap.String("round_id", out.ID), zap.String("mode", string(mode)), zap.String("result", res.String()))
	o.broadcast(wire.NewResultDeclared(out.ID, wire.ResultPayload{OpenPanna: res.OpenPanna, Jodi: res.Jodi, ClosePanna: res.ClosePanna}))
	o.broadcast(wire.NewGameState(o.Snapshot()))

	rep, err := o.settle.Settle(ctx, out)
	return out, rep, err
}

// UpdateWallet is the administrator balance adjustment.
func (o *Orchestrator) UpdateWallet(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return o.wallet.Adjust(ctx, userID, delta, domain.TxAdjustment, "admin")
}

// HandleClockEvent relays phase changes and stops the round when its clock ends. Events of a
// round that is no longer current are dropped.
func (o *Orchestrator) HandleClockEvent(ctx context.Context, ev roundclock.Event) {
	o.mu.Lock()
	stale := o.current == nil || o.current.ID != ev.RoundID
	o.mu.Unlock()
	if stale {
		return
	}
	switch ev.Kind {
	case roundclock.EventPhaseChanged:
		obslog.L().Info("round_phase", zap.String("round_id", ev.RoundID), zap.String("from", string(ev.From)), zap.String("phase", string(ev.Phase)))
		o.broadcast(wire.NewGamePhase(wire.GamePhasePayload{RoundID: ev.RoundID, Phase: string(ev.Phase), From: string(ev.From), At: ev.At}))
	case roundclock.EventRoundEnded:
		if _, err := o.StopRound(ctx); err != nil && !errors.Is(err, domain.ErrNoActiveRound) {
			obslog.L().Error("round_end_stop_failed", zap.String("round_id", ev.RoundID), zap.Error(err))
		}
	}
}

// Snapshot describes the current round for game_state replies and the /state endpoint.
func (o *Orchestrator) Snapshot() wire.GameStatePayload {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()

	var p wire.GameStatePayload
	if r := o.current; r != nil {
		g := &wire.GameInfo{ID: r.ID, StartTime: r.StartTime, EndTime: r.EndTime, Status: string(r.Status)}
		if r.Status == domain.RoundActive && o.machine != nil {
			g.Phase = string(o.machine.Current(now))
			if left := r.EndTime.Sub(now); left > 0 {
				g.TimeLeftSec = int64(left / time.Second)
			}
		}
		if r.Result != nil {
			g.Result = &wire.ResultPayload{OpenPanna: r.Result.OpenPanna, Jodi: r.Result.Jodi, ClosePanna: r.Result.ClosePanna}
		}
		p.Game = g
		if r.Status == domain.RoundActive {
			return p
		}
	}
	next := roundclock.NextRoundAt(o.local(now), o.cfg.RoundDuration, o.cfg.Window)
	p.NextRoundAt = &next
	return p
}

// Recover reloads the latest round after a restart. An active round resumes its clock from
// its stored start time; a stopped round without result becomes current so a result can
// still be declared.
func (o *Orchestrator) Recover(ctx context.Context) error {
	r, err := o.store.LatestRound(ctx)
	if errors.Is(err, domain.ErrRoundNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case r.Status == domain.RoundActive:
		if err := o.lease.Acquire(ctx, r.ID); err != nil {
			if holder, _ := o.lease.Holder(ctx); holder != r.ID {
				return err
			}
		}
		o.current = r
		o.startClockLocked(r)
		obslog.L().Info("round_resumed", zap.String("round_id", r.ID), zap.Time("start", r.StartTime))
	case r.AcceptsResult():
		o.current = r
		o.machine = roundclock.NewMachine(r.StartTime, o.cfg.Thresholds)
		obslog.L().Info("round_awaiting_result", zap.String("round_id", r.ID))
	}
	return nil
}

// Close stops the clock of the current round.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stopClockLocked()
	o.mu.Unlock()
	o.fwdGroup.Wait()
}
