// Package wallet owns every balance change and tells the owner's live sessions about it.
package wallet

import (
	"context"
	"sync"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/park285/matka-round-server/pkg/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier delivers an event to every authenticated session of a user. It must not block.
type Notifier interface {
	SendToUser(userID string, ev wire.Event)
}

type Service struct {
	store store.Store

	mu     sync.RWMutex
	notify Notifier
}

func New(st store.Store) *Service {
	return &Service{store: st}
}

// SetNotifier wires the session layer after construction; nil disables notifications.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notify = n
	s.mu.Unlock()
}

func (s *Service) push(userID string, amount, balance decimal.Decimal) {
	s.mu.RLock()
	n := s.notify
	s.mu.RUnlock()
	if n == nil {
		return
	}
	n.SendToUser(userID, wire.NewWalletUpdate(amount, balance))
}

// Balance reads the stored balance.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}

// Adjust applies a signed delta. The result can never be negative.
func (s *Service) Adjust(ctx context.Context, userID string, delta decimal.Decimal, kind domain.TxKind, ref string) (decimal.Decimal, error) {
	if userID == "" || delta.IsZero() {
		return decimal.Zero, domain.ErrInvalidArgs
	}
	bal, err := s.store.AdjustBalance(ctx, userID, delta, kind, ref)
	if err != nil {
		obslog.L().Warn("wallet_adjust_failed", zap.String("user_id", userID), zap.String("delta", delta.String()), zap.Error(err))
		return decimal.Zero, err
	}
	obslog.L().Info("wallet_adjusted",
		zap.String("user_id", userID),
		zap.String("delta", delta.String()),
		zap.String("kind", string(kind)),
		zap.String("balance", bal.String()),
	)
	s.push(userID, delta, bal)
	return bal, nil
}

// DebitForWager debits the stake and records the wager in one storage transaction.
func (s *Service) DebitForWager(ctx context.Context, p store.PlaceWagerParams) (decimal.Decimal, error) {
	bal, err := s.store.PlaceWager(ctx, p)
	if err != nil {
		return decimal.Zero, err
	}
	s.push(p.Wager.UserID, p.Wager.Stake.Neg(), bal)
	return bal, nil
}

// SettleWager finalises one wager and credits any payout. Settling twice yields ErrAlreadySettled.
func (s *Service) SettleWager(ctx context.Context, p store.SettleParams) (store.SettleOutcome, error) {
	out, err := s.store.SettleWager(ctx, p)
	if err != nil {
		return out, err
	}
	if out.Credited {
		s.push(p.UserID, p.Payout, out.BalanceAfter)
	}
	return out, nil
}

// History returns the latest wallet transactions of a user.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*domain.WalletTransaction, error) {
	return s.store.Transactions(ctx, userID, limit)
}
