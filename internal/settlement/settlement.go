// Package settlement evaluates a round's pending wagers against its declared result.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/matka"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WagerSource interface {
	PendingWagers(ctx context.Context, roundID string) ([]*domain.Wager, error)
}

// Settler finalises one wager and credits its payout atomically.
type Settler interface {
	SettleWager(ctx context.Context, p store.SettleParams) (store.SettleOutcome, error)
}

// Report summarises one settlement pass.
type Report struct {
	RoundID string
	Won     int
	Lost    int
	Skipped int
	Failed  int
	PaidOut decimal.Decimal
}

type Engine struct {
	wagers WagerSource
	wallet Settler
	now    func() time.Time
}

func New(wagers WagerSource, wallet Settler) *Engine {
	return &Engine{wagers: wagers, wallet: wallet, now: time.Now}
}

// Payout returns what w earns under r; zero for a losing wager.
func Payout(w *domain.Wager, r domain.Result) (decimal.Decimal, bool) {
	if !matka.Wins(w.Kind, w.Number, r) {
		return decimal.Zero, false
	}
	mult, ok := w.Kind.Multiplier()
	if !ok {
		return decimal.Zero, false
	}
	return w.Stake.Mul(mult), true
}

// Settle settles every pending wager of round. Wagers already settled are counted as skipped,
// so running it twice changes nothing. A failure on one wager is logged and does not stop the pass.
func (e *Engine) Settle(ctx context.Context, round *domain.Round) (Report, error) {
	if round == nil || round.Result == nil {
		return Report{}, domain.ErrInvalidArgs
	}
	rep := Report{RoundID: round.ID, PaidOut: decimal.Zero}
	pending, err := e.wagers.PendingWagers(ctx, round.ID)
	if err != nil {
		obslog.L().Error("settle_list_failed", zap.String("round_id", round.ID), zap.Error(err))
		return rep, err
	}
	res := *round.Result
	at := e.now().UTC()

	for _, w := range pending {
		if !w.Kind.Valid() {
			rep.Failed++
			obslog.L().Error("settle_wager_error", zap.String("wager_id", w.ID), zap.String("kind", string(w.Kind)), zap.Error(domain.ErrInvalidBetKind))
			continue
		}
		payout, won := Payout(w, res)
		status := domain.WagerLost
		if won {
			status = domain.WagerWon
		}
		_, err := e.wallet.SettleWager(ctx, store.SettleParams{WagerID: w.ID, UserID: w.UserID, Status: status, Payout: payout, At: at})
		switch {
		case errors.Is(err, domain.ErrAlreadySettled):
			rep.Skipped++
		case err != nil:
			rep.Failed++
			obslog.L().Error("settle_wager_error",
				zap.String("wager_id", w.ID),
				zap.String("round_id", round.ID),
				zap.String("user_id", w.UserID),
				zap.Error(err),
			)
		case won:
			rep.Won++
			rep.PaidOut = rep.PaidOut.Add(payout)
		default:
			rep.Lost++
		}
	}

	obslog.L().Info("round_settled",
		zap.String("round_id", round.ID),
		zap.String("result", res.String()),
		zap.Int("won", rep.Won),
		zap.Int("lost", rep.Lost),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.String("paid_out", rep.PaidOut.String()),
	)
	return rep, nil
}
