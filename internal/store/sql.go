package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store over database/sql for postgres and sqlite3.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects, pings and migrates. A sqlite DSN is pinned to one connection so ":memory:"
// stays a single database and writers serialise.
func Open(ctx context.Context, databaseURL string) (*SQLStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	d := ParseDialect(databaseURL)
	dsn := databaseURL
	if d == DialectSQLite {
		dsn = sqliteDSN(databaseURL)
	}
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, err
	}
	if d == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if d == DialectSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := Migrate(ctx, db, d, Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// SetClock overrides the time source used for the in-transaction deadline check.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping is used by the health endpoint.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, password_hash, balance, role, active, created_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Balance, &role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func (s *SQLStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.StorageError("find user", err)
	}
	return u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.StorageError("get user", err)
	}
	return u, nil
}

func (s *SQLStore) InsertUser(ctx context.Context, u *domain.User) error {
	if u == nil || u.ID == "" || u.Username == "" || u.Balance.IsNegative() {
		return domain.ErrInvalidArgs
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	if u.Role == "" {
		u.Role = domain.RoleStandard
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.PasswordHash, u.Balance, string(u.Role), u.Active, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user %q: %w", u.Username, domain.ErrInvalidArgs)
	}
	if err != nil {
		return domain.StorageError("insert user", err)
	}
	return nil
}

func (s *SQLStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal, kind domain.TxKind, ref string) (decimal.Decimal, error) {
	var after decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE users SET balance = `+s.dialect.money("balance + ?")+` WHERE id = ? AND `+s.dialect.money("balance + ?")+` >= 0`), delta, userID, delta)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.missingOrShort(ctx, tx, userID)
		}
		if after, err = s.balanceTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.insertTxRow(ctx, tx, userID, delta, kind, ref, after)
	})
	if err != nil {
		return decimal.Zero, domain.StorageError("adjust balance", err)
	}
	return after, nil
}

const roundColumns = `id, start_time, end_time, status, open_panna, jodi, close_panna, created_at`

func scanRound(row rowScanner) (*domain.Round, error) {
	var r domain.Round
	var status string
	var open, jodi, closeP sql.NullString
	if err := row.Scan(&r.ID, &r.StartTime, &r.EndTime, &status, &open, &jodi, &closeP, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = domain.RoundStatus(status)
	if open.Valid && jodi.Valid && closeP.Valid {
		r.Result = &domain.Result{OpenPanna: open.String, Jodi: jodi.String, ClosePanna: closeP.String}
	}
	return &r, nil
}

func resultColumns(r *domain.Round) (open, jodi, closeP sql.NullString) {
	if r.Result == nil {
		return
	}
	return sql.NullString{String: r.Result.OpenPanna, Valid: true},
		sql.NullString{String: r.Result.Jodi, Valid: true},
		sql.NullString{String: r.Result.ClosePanna, Valid: true}
}

// InsertRound stores a new round. A second active round violates uq_rounds_single_active and
// surfaces as ErrAlreadyActive.
func (s *SQLStore) InsertRound(ctx context.Context, r *domain.Round) error {
	if r == nil || r.ID == "" {
		return domain.ErrInvalidArgs
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	open, jodi, closeP := resultColumns(r)
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO rounds (`+roundColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.StartTime, r.EndTime, string(r.Status), open, jodi, closeP, r.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyActive
	}
	if err != nil {
		return domain.StorageError("insert round", err)
	}
	return nil
}

func (s *SQLStore) UpdateRound(ctx context.Context, r *domain.Round) error {
	if r == nil || r.ID == "" {
		return domain.ErrInvalidArgs
	}
	open, jodi, closeP := resultColumns(r)
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE rounds SET end_time = ?, status = ?, open_panna = ?, jodi = ?, close_panna = ? WHERE id = ?`),
		r.EndTime, string(r.Status), open, jodi, closeP, r.ID)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyActive
	}
	if err != nil {
		return domain.StorageError("update round", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoundNotFound
	}
	return nil
}

func (s *SQLStore) GetRound(ctx context.Context, id string) (*domain.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, s.q(`SELECT `+roundColumns+` FROM rounds WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoundNotFound
	}
	if err != nil {
		return nil, domain.StorageError("get round", err)
	}
	return r, nil
}

// LatestRound returns the most recently started round, or ErrRoundNotFound on an empty table.
func (s *SQLStore) LatestRound(ctx context.Context) (*domain.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY start_time DESC, created_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoundNotFound
	}
	if err != nil {
		return nil, domain.StorageError("latest round", err)
	}
	return r, nil
}

func (s *SQLStore) PlaceWager(ctx context.Context, p PlaceWagerParams) (decimal.Decimal, error) {
	w := p.Wager
	if err := validWager(w); err != nil {
		return decimal.Zero, err
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now().UTC()
	}
	w.Status = domain.WagerPending

	var after decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, s.q(`SELECT status FROM rounds WHERE id = ?`+s.dialect.lockSuffix()), w.RoundID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNoActiveRound
		}
		if err != nil {
			return err
		}
		if domain.RoundStatus(status) != domain.RoundActive {
			return domain.ErrNoActiveRound
		}
		if !p.Deadline.IsZero() && !s.now().Before(p.Deadline) {
			return domain.ErrBettingClosed
		}

		res, err := tx.ExecContext(ctx, s.q(`UPDATE users SET balance = `+s.dialect.money("balance - ?")+` WHERE id = ? AND `+s.dialect.money("balance - ?")+` >= 0`), w.Stake, w.UserID, w.Stake)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.missingOrShort(ctx, tx, w.UserID)
		}

		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO wagers (id, user_id, round_id, bet_type, bet_number, amount, potential_payout, payout, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			w.ID, w.UserID, w.RoundID, string(w.Kind), w.Number, w.Stake, w.PotentialPayout, decimal.Zero, string(w.Status), w.CreatedAt); err != nil {
			return err
		}
		if after, err = s.balanceTx(ctx, tx, w.UserID); err != nil {
			return err
		}
		return s.insertTxRow(ctx, tx, w.UserID, w.Stake.Neg(), domain.TxBet, w.ID, after)
	})
	if err != nil {
		return decimal.Zero, domain.StorageError("place wager", err)
	}
	return after, nil
}

func (s *SQLStore) SettleWager(ctx context.Context, p SettleParams) (SettleOutcome, error) {
	if err := validSettle(p); err != nil {
		return SettleOutcome{}, err
	}
	at := p.At
	if at.IsZero() {
		at = s.now().UTC()
	}

	var out SettleOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE wagers SET status = ?, payout = ?, settled_at = ? WHERE id = ? AND user_id = ? AND status = 'pending'`),
			string(p.Status), p.Payout, at, p.WagerID, p.UserID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrAlreadySettled
		}
		if !p.Payout.IsPositive() {
			return nil
		}
		res, err = tx.ExecContext(ctx, s.q(`UPDATE users SET balance = `+s.dialect.money("balance + ?")+` WHERE id = ?`), p.Payout, p.UserID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrUserNotFound
		}
		if out.BalanceAfter, err = s.balanceTx(ctx, tx, p.UserID); err != nil {
			return err
		}
		out.Credited = true
		return s.insertTxRow(ctx, tx, p.UserID, p.Payout, domain.TxWin, p.WagerID, out.BalanceAfter)
	})
	if err != nil {
		return SettleOutcome{}, domain.StorageError("settle wager", err)
	}
	return out, nil
}

const wagerColumns = `id, user_id, round_id, bet_type, bet_number, amount, potential_payout, payout, status, created_at, settled_at`

func scanWager(row rowScanner) (*domain.Wager, error) {
	var w domain.Wager
	var kind, status string
	var settled sql.NullTime
	if err := row.Scan(&w.ID, &w.UserID, &w.RoundID, &kind, &w.Number, &w.Stake, &w.PotentialPayout, &w.Payout, &status, &w.CreatedAt, &settled); err != nil {
		return nil, err
	}
	w.Kind = domain.BetKind(kind)
	w.Status = domain.WagerStatus(status)
	if settled.Valid {
		t := settled.Time
		w.SettledAt = &t
	}
	return &w, nil
}

func (s *SQLStore) PendingWagers(ctx context.Context, roundID string) ([]*domain.Wager, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+wagerColumns+` FROM wagers WHERE round_id = ? AND status = 'pending' ORDER BY created_at, id`), roundID)
	if err != nil {
		return nil, domain.StorageError("pending wagers", err)
	}
	defer rows.Close()

	var out []*domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, domain.StorageError("scan wager", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("pending wagers", err)
	}
	return out, nil
}

func (s *SQLStore) GetWager(ctx context.Context, id string) (*domain.Wager, error) {
	w, err := scanWager(s.db.QueryRowContext(ctx, s.q(`SELECT `+wagerColumns+` FROM wagers WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wager %s: %w", id, domain.ErrInvalidArgs)
	}
	if err != nil {
		return nil, domain.StorageError("get wager", err)
	}
	return w, nil
}

// Transactions lists a user's wallet history, newest first.
func (s *SQLStore) Transactions(ctx context.Context, userID string, limit int) ([]*domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, user_id, amount, type, reference_id, balance_after, created_at
		FROM wallet_transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, domain.StorageError("list transactions", err)
	}
	defer rows.Close()

	var out []*domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		var kind string
		var ref sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &kind, &ref, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, domain.StorageError("scan transaction", err)
		}
		t.Kind = domain.TxKind(kind)
		t.ReferenceID = ref.String
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list transactions", err)
	}
	return out, nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) balanceTx(ctx context.Context, tx *sql.Tx, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	if err := tx.QueryRowContext(ctx, s.q(`SELECT balance FROM users WHERE id = ?`), userID).Scan(&bal); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

// missingOrShort classifies a conditional balance update that touched no row.
func (s *SQLStore) missingOrShort(ctx context.Context, tx *sql.Tx, userID string) error {
	var one int
	err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM users WHERE id = ?`), userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrInsufficientFunds
}

func (s *SQLStore) insertTxRow(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, kind domain.TxKind, ref string, after decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO wallet_transactions (id, user_id, amount, type, reference_id, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), userID, amount, string(kind), sql.NullString{String: ref, Valid: ref != ""}, after, s.now().UTC())
	return err
}

var _ Store = (*SQLStore)(nil)
