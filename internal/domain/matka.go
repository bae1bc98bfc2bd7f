package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes players from the operators who run rounds.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "administrator"
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Balance      decimal.Decimal
	Role         Role
	Active       bool
	CreatedAt    time.Time
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// RoundStatus is the persisted lifecycle of a round. The phase is derived from time and never stored.
type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundStopped   RoundStatus = "stopped"
	RoundCompleted RoundStatus = "completed"
)

type Round struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Status    RoundStatus
	Result    *Result
	CreatedAt time.Time
}

// AcceptsResult reports whether a result may still be declared for the round.
func (r *Round) AcceptsResult() bool {
	if r == nil || r.Result != nil {
		return false
	}
	return r.Status == RoundActive || r.Status == RoundStopped
}

// Result is the declared outcome of a round: open panna, jodi, close panna.
type Result struct {
	OpenPanna  string `json:"openPanna"`
	Jodi       string `json:"jodi"`
	ClosePanna string `json:"closePanna"`
}

func (r Result) String() string { return r.OpenPanna + "-" + r.Jodi + "-" + r.ClosePanna }

// BetKind is the wager type; values match the wire names.
type BetKind string

const (
	BetSingleDigit BetKind = "single_digit"
	BetJodi        BetKind = "jodi"
	BetSinglePanna BetKind = "single_panna"
	BetDoublePanna BetKind = "double_panna"
	BetTriplePanna BetKind = "triple_panna"
)

var multipliers = map[BetKind]int64{
	BetSingleDigit: 9,
	BetJodi:        90,
	BetSinglePanna: 150,
	BetDoublePanna: 300,
	BetTriplePanna: 600,
}

// Multiplier returns the fixed payout multiplier for the kind, false for unknown kinds.
func (k BetKind) Multiplier() (decimal.Decimal, bool) {
	m, ok := multipliers[k]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(m), true
}

func (k BetKind) Valid() bool {
	_, ok := multipliers[k]
	return ok
}

// IsPanna reports whether the kind wagers on a three digit combination.
func (k BetKind) IsPanna() bool {
	return k == BetSinglePanna || k == BetDoublePanna || k == BetTriplePanna
}

// Digits is the length of the wagered number for the kind.
func (k BetKind) Digits() int {
	switch k {
	case BetSingleDigit:
		return 1
	case BetJodi:
		return 2
	case BetSinglePanna, BetDoublePanna, BetTriplePanna:
		return 3
	default:
		return 0
	}
}

type WagerStatus string

const (
	WagerPending WagerStatus = "pending"
	WagerWon     WagerStatus = "won"
	WagerLost    WagerStatus = "lost"
)

type Wager struct {
	ID              string
	UserID          string
	RoundID         string
	Kind            BetKind
	Number          string
	Stake           decimal.Decimal
	PotentialPayout decimal.Decimal
	Payout          decimal.Decimal
	Status          WagerStatus
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// TxKind labels a wallet transaction row.
type TxKind string

const (
	TxBet        TxKind = "bet"
	TxWin        TxKind = "win"
	TxAdjustment TxKind = "adjustment"
)

type WalletTransaction struct {
	ID           string
	UserID       string
	Amount       decimal.Decimal
	Kind         TxKind
	ReferenceID  string
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}
