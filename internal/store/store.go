// Package store is the storage collaborator: users, rounds, wagers and wallet transactions.
package store

import (
	"context"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/shopspring/decimal"
)

// Store is the persistence contract the core depends on. Every balance change happens inside the
// store as a single conditional update so concurrent adjustments for one user never lose writes.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	InsertUser(ctx context.Context, u *domain.User) error

	// AdjustBalance applies delta and records a wallet transaction. It fails with
	// ErrInsufficientFunds when the balance would turn negative.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal, kind domain.TxKind, ref string) (decimal.Decimal, error)

	InsertRound(ctx context.Context, r *domain.Round) error
	UpdateRound(ctx context.Context, r *domain.Round) error
	GetRound(ctx context.Context, id string) (*domain.Round, error)
	LatestRound(ctx context.Context) (*domain.Round, error)

	// PlaceWager debits the stake and inserts the pending wager as one unit.
	PlaceWager(ctx context.Context, p PlaceWagerParams) (decimal.Decimal, error)
	// SettleWager moves a pending wager to won or lost and credits the payout as one unit.
	// A wager that is no longer pending yields ErrAlreadySettled and changes nothing.
	SettleWager(ctx context.Context, p SettleParams) (SettleOutcome, error)
	PendingWagers(ctx context.Context, roundID string) ([]*domain.Wager, error)
	GetWager(ctx context.Context, id string) (*domain.Wager, error)
	Transactions(ctx context.Context, userID string, limit int) ([]*domain.WalletTransaction, error)

	Close() error
}

type PlaceWagerParams struct {
	Wager *domain.Wager
	// Deadline is re-checked inside the transaction; zero disables the check.
	Deadline time.Time
}

type SettleParams struct {
	WagerID string
	UserID  string
	Status  domain.WagerStatus
	Payout  decimal.Decimal
	At      time.Time
}

type SettleOutcome struct {
	Credited     bool
	BalanceAfter decimal.Decimal
}

func validSettle(p SettleParams) error {
	if p.WagerID == "" || p.UserID == "" {
		return domain.ErrInvalidArgs
	}
	if p.Status != domain.WagerWon && p.Status != domain.WagerLost {
		return domain.ErrInvalidArgs
	}
	if p.Payout.IsNegative() || (p.Status == domain.WagerLost && !p.Payout.IsZero()) {
		return domain.ErrInvalidArgs
	}
	return nil
}

func validWager(w *domain.Wager) error {
	if w == nil || w.ID == "" || w.UserID == "" || w.RoundID == "" || !w.Stake.IsPositive() {
		return domain.ErrInvalidArgs
	}
	return nil
}
