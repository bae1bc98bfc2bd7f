package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store used for tests and when no DATABASE_URL is configured.
// One mutex makes every method atomic, matching the transactional guarantees of SQLStore.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time

	users      map[string]*domain.User
	byUsername map[string]string
	rounds     map[string]*domain.Round
	wagers     map[string]*domain.Wager
	wagerOrder []string
	txs        map[string][]*domain.WalletTransaction
}

func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		users:      make(map[string]*domain.User),
		byUsername: make(map[string]string),
		rounds:     make(map[string]*domain.Round),
		wagers:     make(map[string]*domain.Wager),
		txs:        make(map[string][]*domain.WalletTransaction),
	}
}

func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }

func cloneUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func cloneRound(r *domain.Round) *domain.Round {
	c := *r
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return &c
}

func cloneWager(w *domain.Wager) *domain.Wager {
	c := *w
	if w.SettledAt != nil {
		t := *w.SettledAt
		c.SettledAt = &t
	}
	return &c
}

func (m *Memory) FindUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUsername[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) InsertUser(_ context.Context, u *domain.User) error {
	if u == nil || u.ID == "" || u.Username == "" || u.Balance.IsNegative() {
		return domain.ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byUsername[u.Username]; dup {
		return domain.ErrInvalidArgs
	}
	if _, dup := m.users[u.ID]; dup {
		return domain.ErrInvalidArgs
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	if u.Role == "" {
		u.Role = domain.RoleStandard
	}
	m.users[u.ID] = cloneUser(u)
	m.byUsername[u.Username] = u.ID
	return nil
}

func (m *Memory) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal, kind domain.TxKind, ref string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, domain.ErrUserNotFound
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, domain.ErrInsufficientFunds
	}
	u.Balance = next
	m.recordLocked(userID, delta, kind, ref, next)
	return next, nil
}

func (m *Memory) recordLocked(userID string, amount decimal.Decimal, kind domain.TxKind, ref string, after decimal.Decimal) {
	m.txs[userID] = append(m.txs[userID], &domain.WalletTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		Kind:         kind,
		ReferenceID:  ref,
		BalanceAfter: after,
		CreatedAt:    m.now().UTC(),
	})
}

func (m *Memory) activeExistsLocked(exclude string) bool {
	for id, r := range m.rounds {
		if id != exclude && r.Status == domain.RoundActive {
			return true
		}
	}
	return false
}

func (m *Memory) InsertRound(_ context.Context, r *domain.Round) error {
	if r == nil || r.ID == "" {
		return domain.ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.rounds[r.ID]; dup {
		return domain.ErrInvalidArgs
	}
	if r.Status == domain.RoundActive && m.activeExistsLocked("") {
		return domain.ErrAlreadyActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	m.rounds[r.ID] = cloneRound(r)
	return nil
}

func (m *Memory) UpdateRound(_ context.Context, r *domain.Round) error {
	if r == nil || r.ID == "" {
		return domain.ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rounds[r.ID]
	if !ok {
		return domain.ErrRoundNotFound
	}
	if r.Status == domain.RoundActive && m.activeExistsLocked(r.ID) {
		return domain.ErrAlreadyActive
	}
	next := cloneRound(r)
	next.StartTime = cur.StartTime
	next.CreatedAt = cur.CreatedAt
	m.rounds[r.ID] = next
	return nil
}

func (m *Memory) GetRound(_ context.Context, id string) (*domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	return cloneRound(r), nil
}

func (m *Memory) LatestRound(_ context.Context) (*domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Round
	for _, r := range m.rounds {
		if latest == nil || r.StartTime.After(latest.StartTime) ||
			(r.StartTime.Equal(latest.StartTime) && r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, domain.ErrRoundNotFound
	}
	return cloneRound(latest), nil
}

func (m *Memory) PlaceWager(_ context.Context, p PlaceWagerParams) (decimal.Decimal, error) {
	w := p.Wager
	if err := validWager(w); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[w.RoundID]
	if !ok || r.Status != domain.RoundActive {
		return decimal.Zero, domain.ErrNoActiveRound
	}
	if !p.Deadline.IsZero() && !m.now().Before(p.Deadline) {
		return decimal.Zero, domain.ErrBettingClosed
	}
	u, ok := m.users[w.UserID]
	if !ok {
		return decimal.Zero, domain.ErrUserNotFound
	}
	if u.Balance.LessThan(w.Stake) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}
	if _, dup := m.wagers[w.ID]; dup {
		return decimal.Zero, domain.ErrInvalidArgs
	}

	if w.CreatedAt.IsZero() {
		w.CreatedAt = m.now().UTC()
	}
	w.Status = domain.WagerPending
	w.Payout = decimal.Zero
	u.Balance = u.Balance.Sub(w.Stake)
	m.wagers[w.ID] = cloneWager(w)
	m.wagerOrder = append(m.wagerOrder, w.ID)
	m.recordLocked(w.UserID, w.Stake.Neg(), domain.TxBet, w.ID, u.Balance)
	return u.Balance, nil
}

func (m *Memory) SettleWager(_ context.Context, p SettleParams) (SettleOutcome, error) {
	if err := validSettle(p); err != nil {
		return SettleOutcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wagers[p.WagerID]
	if !ok || w.UserID != p.UserID || w.Status != domain.WagerPending {
		return SettleOutcome{}, domain.ErrAlreadySettled
	}
	var u *domain.User
	if p.Payout.IsPositive() {
		if u, ok = m.users[p.UserID]; !ok {
			return SettleOutcome{}, domain.ErrUserNotFound
		}
	}

	at := p.At
	if at.IsZero() {
		at = m.now().UTC()
	}
	w.Status = p.Status
	w.Payout = p.Payout
	w.SettledAt = &at
	if u == nil {
		return SettleOutcome{}, nil
	}
	u.Balance = u.Balance.Add(p.Payout)
	m.recordLocked(p.UserID, p.Payout, domain.TxWin, p.WagerID, u.Balance)
	return SettleOutcome{Credited: true, BalanceAfter: u.Balance}, nil
}

func (m *Memory) PendingWagers(_ context.Context, roundID string) ([]*domain.Wager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Wager
	for _, id := range m.wagerOrder {
		w := m.wagers[id]
		if w.RoundID == roundID && w.Status == domain.WagerPending {
			out = append(out, cloneWager(w))
		}
	}
	return out, nil
}

func (m *Memory) GetWager(_ context.Context, id string) (*domain.Wager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wagers[id]
	if !ok {
		return nil, domain.ErrInvalidArgs
	}
	return cloneWager(w), nil
}

func (m *Memory) Transactions(_ context.Context, userID string, limit int) ([]*domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.txs[userID]
	out := make([]*domain.WalletTransaction, 0, len(list))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		c := *list[i]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ Store = (*Memory)(nil)
