package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type clocked interface {
	Store
	SetClock(func() time.Time)
}

func backends(t *testing.T) map[string]func(t *testing.T) clocked {
	t.Helper()
	return map[string]func(t *testing.T) clocked{
		"memory": func(t *testing.T) clocked { return NewMemory() },
		"sqlite": func(t *testing.T) clocked {
			s, err := Open(context.Background(), "sqlite3://:memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s Store, balance string) (*domain.User, *domain.Round) {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{ID: "u1", Username: "alice", PasswordHash: "x", Balance: decimal.RequireFromString(balance), Role: domain.RoleStandard, Active: true}
	require.NoError(t, s.InsertUser(ctx, u))
	r := &domain.Round{ID: "r1", StartTime: t0, EndTime: t0.Add(35 * time.Minute), Status: domain.RoundActive}
	require.NoError(t, s.InsertRound(ctx, r))
	return u, r
}

func wager(id string, stake int64) *domain.Wager {
	return &domain.Wager{
		ID: id, UserID: "u1", RoundID: "r1", Kind: domain.BetSingleDigit, Number: "4",
		Stake: decimal.NewFromInt(stake), PotentialPayout: decimal.NewFromInt(stake * 9),
	}
}

func wagerAt(id, stake string) *domain.Wager {
	st := decimal.RequireFromString(stake)
	return &domain.Wager{
		ID: id, UserID: "u1", RoundID: "r1", Kind: domain.BetSingleDigit, Number: "4",
		Stake: st, PotentialPayout: st.Mul(decimal.NewFromInt(9)),
	}
}

func TestStoreContract(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("users", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "1000")

				u, err := s.FindUserByUsername(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, "u1", u.ID)
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(1000)))
				assert.True(t, u.Active)

				_, err = s.FindUserByUsername(ctx, "bob")
				assert.ErrorIs(t, err, domain.ErrUserNotFound)
				_, err = s.GetUser(ctx, "nope")
				assert.ErrorIs(t, err, domain.ErrUserNotFound)

				dup := &domain.User{ID: "u2", Username: "alice", PasswordHash: "y"}
				assert.Error(t, s.InsertUser(ctx, dup))
			})

			t.Run("adjust balance", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "100")

				bal, err := s.AdjustBalance(ctx, "u1", decimal.NewFromInt(-40), domain.TxAdjustment, "")
				require.NoError(t, err)
				assert.True(t, bal.Equal(decimal.NewFromInt(60)), bal.String())

				_, err = s.AdjustBalance(ctx, "u1", decimal.NewFromInt(-61), domain.TxAdjustment, "")
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
				_, err = s.AdjustBalance(ctx, "ghost", decimal.NewFromInt(5), domain.TxAdjustment, "")
				assert.ErrorIs(t, err, domain.ErrUserNotFound)

				u, err := s.GetUser(ctx, "u1")
				require.NoError(t, err)
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(60)))

				txs, err := s.Transactions(ctx, "u1", 10)
				require.NoError(t, err)
				require.Len(t, txs, 1)
				assert.Equal(t, domain.TxAdjustment, txs[0].Kind)
				assert.True(t, txs[0].BalanceAfter.Equal(decimal.NewFromInt(60)))
			})

			t.Run("single active round", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "0")

				second := &domain.Round{ID: "r2", StartTime: t0.Add(time.Hour), EndTime: t0.Add(95 * time.Minute), Status: domain.RoundActive}
				assert.ErrorIs(t, s.InsertRound(ctx, second), domain.ErrAlreadyActive)

				r, err := s.GetRound(ctx, "r1")
				require.NoError(t, err)
				r.Status = domain.RoundCompleted
				r.Result = &domain.Result{OpenPanna: "128", Jodi: "10", ClosePanna: "100"}
				require.NoError(t, s.UpdateRound(ctx, r))
				require.NoError(t, s.InsertRound(ctx, second))

				got, err := s.GetRound(ctx, "r1")
				require.NoError(t, err)
				require.NotNil(t, got.Result)
				assert.Equal(t, "128-10-100", got.Result.String())

				latest, err := s.LatestRound(ctx)
				require.NoError(t, err)
				assert.Equal(t, "r2", latest.ID)

				_, err = s.GetRound(ctx, "missing")
				assert.ErrorIs(t, err, domain.ErrRoundNotFound)
			})

			t.Run("place wager debits once", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "1000")

				bal, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 100)})
				require.NoError(t, err)
				assert.True(t, bal.Equal(decimal.NewFromInt(900)))

				pending, err := s.PendingWagers(ctx, "r1")
				require.NoError(t, err)
				require.Len(t, pending, 1)
				assert.Equal(t, domain.WagerPending, pending[0].Status)
				assert.True(t, pending[0].PotentialPayout.Equal(decimal.NewFromInt(900)))

				_, err = s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w2", 901)})
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
				u, _ := s.GetUser(ctx, "u1")
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(900)))
			})

			t.Run("fractional stakes stay exact", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "0.3")

				for i, want := range []string{"0.2", "0.1", "0"} {
					bal, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wagerAt(string(rune('a'+i)), "0.1")})
					require.NoError(t, err, "wager %d", i)
					assert.True(t, bal.Equal(decimal.RequireFromString(want)), "after wager %d: %s", i, bal)
				}
				_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wagerAt("d", "0.01")})
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

				for i := 0; i < 3; i++ {
					_, err = s.AdjustBalance(ctx, "u1", decimal.RequireFromString("0.1"), domain.TxAdjustment, "")
					require.NoError(t, err)
				}
				bal, err := s.AdjustBalance(ctx, "u1", decimal.RequireFromString("-0.3"), domain.TxAdjustment, "")
				require.NoError(t, err)
				assert.True(t, bal.IsZero(), bal.String())

				out, err := s.SettleWager(ctx, SettleParams{WagerID: "a", UserID: "u1", Status: domain.WagerWon, Payout: decimal.RequireFromString("0.9"), At: t0})
				require.NoError(t, err)
				assert.True(t, out.BalanceAfter.Equal(decimal.RequireFromString("0.9")), out.BalanceAfter.String())

				bal, err = s.PlaceWager(ctx, PlaceWagerParams{Wager: wagerAt("e", "0.9")})
				require.NoError(t, err)
				assert.True(t, bal.IsZero(), bal.String())
			})

			t.Run("failed wager insert rolls back the debit", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "1000")

				_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 100)})
				require.NoError(t, err)
				_, err = s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 100)})
				require.Error(t, err)

				u, err := s.GetUser(ctx, "u1")
				require.NoError(t, err)
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(900)), u.Balance.String())
				pending, err := s.PendingWagers(ctx, "r1")
				require.NoError(t, err)
				assert.Len(t, pending, 1)
				txs, err := s.Transactions(ctx, "u1", 10)
				require.NoError(t, err)
				assert.Len(t, txs, 1)
			})

			t.Run("place wager after deadline", func(t *testing.T) {
				s := mk(t)
				clk := &testClock{t: t0.Add(11 * time.Minute)}
				s.SetClock(clk.Now)
				ctx := context.Background()
				seed(t, s, "1000")

				deadline := t0.Add(12 * time.Minute)
				_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 10), Deadline: deadline})
				require.NoError(t, err)

				clk.Set(deadline)
				_, err = s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w2", 10), Deadline: deadline})
				assert.ErrorIs(t, err, domain.ErrBettingClosed)
				u, _ := s.GetUser(ctx, "u1")
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(990)))
			})

			t.Run("place wager on stopped round", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				_, r := seed(t, s, "1000")
				r.Status = domain.RoundStopped
				require.NoError(t, s.UpdateRound(ctx, r))

				_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 10)})
				assert.ErrorIs(t, err, domain.ErrNoActiveRound)
			})

			t.Run("concurrent wagers", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "1000")

				var wg sync.WaitGroup
				errs := make(chan error, 2)
				for _, id := range []string{"a", "b"} {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager(id, 50)})
						errs <- err
					}(id)
				}
				wg.Wait()
				close(errs)
				for err := range errs {
					require.NoError(t, err)
				}
				u, _ := s.GetUser(ctx, "u1")
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(900)), u.Balance.String())
			})

			t.Run("settle is idempotent", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "1000")
				_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 100)})
				require.NoError(t, err)

				p := SettleParams{WagerID: "w1", UserID: "u1", Status: domain.WagerWon, Payout: decimal.NewFromInt(900), At: t0}
				out, err := s.SettleWager(ctx, p)
				require.NoError(t, err)
				assert.True(t, out.Credited)
				assert.True(t, out.BalanceAfter.Equal(decimal.NewFromInt(1800)))

				_, err = s.SettleWager(ctx, p)
				assert.True(t, errors.Is(err, domain.ErrAlreadySettled))

				u, _ := s.GetUser(ctx, "u1")
				assert.True(t, u.Balance.Equal(decimal.NewFromInt(1800)))
				w, err := s.GetWager(ctx, "w1")
				require.NoError(t, err)
				assert.Equal(t, domain.WagerWon, w.Status)
				require.NotNil(t, w.SettledAt)

				pending, _ := s.PendingWagers(ctx, "r1")
				assert.Empty(t, pending)

				txs, _ := s.Transactions(ctx, "u1", 10)
				require.Len(t, txs, 2)
			})

			t.Run("settle lost", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				seed(t, s, "1000")
				_, err := s.PlaceWager(ctx, PlaceWagerParams{Wager: wager("w1", 100)})
				require.NoError(t, err)

				out, err := s.SettleWager(ctx, SettleParams{WagerID: "w1", UserID: "u1", Status: domain.WagerLost, Payout: decimal.Zero})
				require.NoError(t, err)
				assert.False(t, out.Credited)

				_, err = s.SettleWager(ctx, SettleParams{WagerID: "w1", UserID: "u1", Status: domain.WagerLost, Payout: decimal.NewFromInt(5)})
				assert.ErrorIs(t, err, domain.ErrInvalidArgs)
			})
		})
	}
}

func TestRebind(t *testing.T) {
	q := `UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $3`, DialectPostgres.rebind(q))
}

func TestDialectMoney(t *testing.T) {
	assert.Equal(t, "balance + ?", DialectPostgres.money("balance + ?"))
	assert.Equal(t, "ROUND(balance + ?, 2)", DialectSQLite.money("balance + ?"))
}

func TestParseDialect(t *testing.T) {
	assert.Equal(t, DialectPostgres, ParseDialect("postgres://u:p@db:5432/matka?sslmode=disable"))
	assert.Equal(t, DialectPostgres, ParseDialect("postgresql://db/matka"))
	assert.Equal(t, DialectSQLite, ParseDialect("file:matka.db"))
	assert.Equal(t, "matka.db", sqliteDSN("sqlite://matka.db"))
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		filename  string
		want      int
		wantError bool
	}{
		{"001_init.sql", 1, false},
		{"migrations/003_index.sql", 3, false},
		{"001_init.txt", 0, true},
		{"000_bad.sql", 0, true},
		{"_bad.sql", 0, true},
		{"abc_bad.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMigrationVersion(tt.filename)
		if (err != nil) != tt.wantError {
			t.Fatalf("ParseMigrationVersion(%q) err=%v wantError=%v", tt.filename, err, tt.wantError)
		}
		if got != tt.want {
			t.Fatalf("ParseMigrationVersion(%q) = %d, want %d", tt.filename, got, tt.want)
		}
	}
}

func TestMigrateIsIncremental(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	extra := fstest.MapFS{
		"001_init.sql":   &fstest.MapFile{Data: []byte(`SELECT 1;`)},
		"002_notes.sql":  &fstest.MapFile{Data: []byte(`CREATE TABLE notes (id INTEGER PRIMARY KEY);`)},
		"readme_not.sql": &fstest.MapFile{Data: []byte(`garbage`)},
	}
	require.NoError(t, Migrate(context.Background(), s.db, s.dialect, extra))
	require.NoError(t, Migrate(context.Background(), s.db, s.dialect, extra))

	var v int
	require.NoError(t, s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v))
	assert.Equal(t, 2, v)
}
