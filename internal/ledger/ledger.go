// Package ledger validates and records wagers against the active round.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/matka"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/roundclock"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RoundView is the active round as seen at one instant.
type RoundView struct {
	Round    *domain.Round
	Phase    roundclock.Phase
	Deadline time.Time
}

// RoundSource reports the active round, if any, at now.
type RoundSource interface {
	ActiveRound(now time.Time) (RoundView, bool)
}

// Debiter is the wallet operation that debits a stake and records its wager atomically.
type Debiter interface {
	DebitForWager(ctx context.Context, p store.PlaceWagerParams) (decimal.Decimal, error)
}

type Request struct {
	Kind   domain.BetKind
	Number string
	Stake  decimal.Decimal
}

// Placed is an accepted wager with the balance left after the debit.
type Placed struct {
	Wager   *domain.Wager
	Balance decimal.Decimal
}

type Ledger struct {
	rounds   RoundSource
	wallet   Debiter
	maxStake decimal.Decimal
	now      func() time.Time
}

type Option func(*Ledger)

// WithNow overrides the clock used for phase checks.
func WithNow(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// New builds a ledger. A non-positive maxStake disables the ceiling.
func New(rounds RoundSource, w Debiter, maxStake decimal.Decimal, opts ...Option) *Ledger {
	l := &Ledger{rounds: rounds, wallet: w, maxStake: maxStake, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) MaxStake() decimal.Decimal { return l.maxStake }

// validStake requires 0 < stake <= ceiling with at most two decimal places.
func (l *Ledger) validStake(s decimal.Decimal) bool {
	if !s.IsPositive() || !s.Equal(s.Round(2)) {
		return false
	}
	if l.maxStake.IsPositive() && s.GreaterThan(l.maxStake) {
		return false
	}
	return true
}

// PlaceWager checks, in order, the active round, the betting phase, the stake and the number,
// then debits the stake and stores the wager as one unit.
func (l *Ledger) PlaceWager(ctx context.Context, userID string, req Request) (Placed, error) {
	now := l.now()
	view, ok := l.rounds.ActiveRound(now)
	if !ok || view.Round == nil {
		return Placed{}, domain.ErrNoActiveRound
	}
	if !view.Phase.AcceptsWagers() {
		return Placed{}, domain.ErrBettingClosed
	}
	if !l.validStake(req.Stake) {
		return Placed{}, domain.ErrInvalidStake
	}
	number := strings.TrimSpace(req.Number)
	if err := matka.ValidateNumber(req.Kind, number); err != nil {
		return Placed{}, err
	}
	mult, _ := req.Kind.Multiplier()

	w := &domain.Wager{
		ID:              uuid.NewString(),
		UserID:          userID,
		RoundID:         view.Round.ID,
		Kind:            req.Kind,
		Number:          number,
		Stake:           req.Stake,
		PotentialPayout: req.Stake.Mul(mult),
		Status:          domain.WagerPending,
		CreatedAt:       now.UTC(),
	}
	bal, err := l.wallet.DebitForWager(ctx, store.PlaceWagerParams{Wager: w, Deadline: view.Deadline})
	if err != nil {
		obslog.L().Info("wager_rejected",
			zap.String("user_id", userID),
			zap.String("round_id", view.Round.ID),
			zap.String("code", domain.CodeOf(err)),
			zap.Error(err),
		)
		return Placed{}, err
	}
	obslog.L().Info("wager_placed",
		zap.String("wager_id", w.ID),
		zap.String("user_id", userID),
		zap.String("round_id", w.RoundID),
		zap.String("kind", string(w.Kind)),
		zap.String("number", w.Number),
		zap.String("stake", w.Stake.String()),
		zap.String("phase", string(view.Phase)),
	)
	return Placed{Wager: w, Balance: bal}, nil
}
