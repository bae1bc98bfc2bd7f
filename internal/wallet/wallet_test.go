package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/park285/matka-round-server/pkg/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]wire.Event
}

func (r *recorder) SendToUser(userID string, ev wire.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]wire.Event)
	}
	r.events[userID] = append(r.events[userID], ev)
}

func (r *recorder) For(userID string) []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Event(nil), r.events[userID]...)
}

func newService(t *testing.T, balance int64) (*Service, *store.Memory, *recorder) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.InsertUser(ctx, &domain.User{ID: "u1", Username: "alice", Balance: decimal.NewFromInt(balance), Active: true}))
	require.NoError(t, st.InsertUser(ctx, &domain.User{ID: "u2", Username: "bob", Balance: decimal.NewFromInt(balance), Active: true}))
	rec := &recorder{}
	svc := New(st)
	svc.SetNotifier(rec)
	return svc, st, rec
}

func TestAdjustNotifiesOwnerOnly(t *testing.T) {
	svc, _, rec := newService(t, 100)
	bal, err := svc.Adjust(context.Background(), "u1", decimal.NewFromInt(25), domain.TxAdjustment, "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(125)))

	evs := rec.For("u1")
	require.Len(t, evs, 1)
	assert.Equal(t, wire.TypeWalletUpdate, evs[0].Type)
	p := evs[0].Payload.(wire.WalletUpdatePayload)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(25)))
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(125)))
	assert.Empty(t, rec.For("u2"))
}

func TestAdjustNeverGoesNegative(t *testing.T) {
	svc, _, rec := newService(t, 100)
	_, err := svc.Adjust(context.Background(), "u1", decimal.NewFromInt(-101), domain.TxAdjustment, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, rec.For("u1"))

	_, err = svc.Adjust(context.Background(), "ghost", decimal.NewFromInt(1), domain.TxAdjustment, "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = svc.Adjust(context.Background(), "u1", decimal.Zero, domain.TxAdjustment, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}

func TestConcurrentAdjustmentsSum(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Adjust(ctx, "u1", decimal.NewFromInt(2), domain.TxAdjustment, "")
		}()
	}
	wg.Wait()
	bal, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)), bal.String())

	hist, err := svc.History(ctx, "u1", 100)
	require.NoError(t, err)
	assert.Len(t, hist, 50)
}

func TestDebitAndSettleNotify(t *testing.T) {
	svc, st, rec := newService(t, 1000)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.InsertRound(ctx, &domain.Round{ID: "r1", StartTime: now, EndTime: now.Add(35 * time.Minute), Status: domain.RoundActive}))

	w := &domain.Wager{ID: "w1", UserID: "u1", RoundID: "r1", Kind: domain.BetJodi, Number: "43", Stake: decimal.NewFromInt(10), PotentialPayout: decimal.NewFromInt(900)}
	bal, err := svc.DebitForWager(ctx, store.PlaceWagerParams{Wager: w})
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(990)))

	out, err := svc.SettleWager(ctx, store.SettleParams{WagerID: "w1", UserID: "u1", Status: domain.WagerWon, Payout: decimal.NewFromInt(900)})
	require.NoError(t, err)
	assert.True(t, out.BalanceAfter.Equal(decimal.NewFromInt(1890)))

	_, err = svc.SettleWager(ctx, store.SettleParams{WagerID: "w1", UserID: "u1", Status: domain.WagerWon, Payout: decimal.NewFromInt(900)})
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	evs := rec.For("u1")
	require.Len(t, evs, 2)
	assert.True(t, evs[0].Payload.(wire.WalletUpdatePayload).Amount.Equal(decimal.NewFromInt(-10)))
	assert.True(t, evs[1].Payload.(wire.WalletUpdatePayload).Balance.Equal(decimal.NewFromInt(1890)))
}
