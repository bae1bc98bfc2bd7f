package wire

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outbound event kinds.
const (
	TypeAuthResponse   = "auth_response"
	TypeGameState      = "game_state"
	TypeGamePhase      = "game_phase"
	TypeWalletUpdate   = "wallet_update"
	TypeBetResponse    = "bet_response"
	TypeResultDeclared = "result_declared"
	TypeUsersList      = "users_list"
	TypeError          = "error"
	TypeBetPlaced      = "bet_placed"
)

// Event is the outbound tagged variant. Payload is one of the *Payload structs below.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Error is the wire error DTO.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UserInfo struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	IsAdmin       bool            `json:"isAdmin"`
	WalletBalance decimal.Decimal `json:"walletBalance"`
}

type AuthResponsePayload struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	User    *UserInfo `json:"user,omitempty"`
}

type GameInfo struct {
	ID          string         `json:"id"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
	Status      string         `json:"status"`
	Phase       string         `json:"phase,omitempty"`
	TimeLeftSec int64          `json:"timeLeft"`
	Result      *ResultPayload `json:"result,omitempty"`
}

type GameStatePayload struct {
	Game        *GameInfo  `json:"game"`
	NextRoundAt *time.Time `json:"nextRoundAt,omitempty"`
}

type GamePhasePayload struct {
	RoundID string    `json:"roundId"`
	Phase   string    `json:"phase"`
	From    string    `json:"from,omitempty"`
	At      time.Time `json:"at"`
}

type WalletUpdatePayload struct {
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

type WagerInfo struct {
	ID              string          `json:"id"`
	RoundID         string          `json:"roundId"`
	Kind            string          `json:"type"`
	Number          string          `json:"number"`
	Amount          decimal.Decimal `json:"amount"`
	PotentialPayout decimal.Decimal `json:"potentialPayout"`
	Status          string          `json:"status"`
}

type BetResponsePayload struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`
	Wager   *WagerInfo `json:"bet,omitempty"`
}

type ResultDeclaredPayload struct {
	RoundID string        `json:"roundId"`
	Result  ResultPayload `json:"result"`
}

type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

type UsersListPayload struct {
	Users []UserSummary `json:"users"`
}

type BetPlacedPayload struct {
	Username string    `json:"username"`
	Wager    WagerInfo `json:"bet"`
}

func NewError(code, message string) Event {
	return Event{Type: TypeError, Payload: Error{Code: code, Message: message}}
}

func NewAuthResponse(p AuthResponsePayload) Event {
	return Event{Type: TypeAuthResponse, Payload: p}
}

func NewGameState(p GameStatePayload) Event {
	return Event{Type: TypeGameState, Payload: p}
}

func NewGamePhase(p GamePhasePayload) Event {
	return Event{Type: TypeGamePhase, Payload: p}
}

func NewWalletUpdate(amount, balance decimal.Decimal) Event {
	return Event{Type: TypeWalletUpdate, Payload: WalletUpdatePayload{Amount: amount, Balance: balance}}
}

func NewBetResponse(p BetResponsePayload) Event {
	return Event{Type: TypeBetResponse, Payload: p}
}

func NewResultDeclared(roundID string, r ResultPayload) Event {
	return Event{Type: TypeResultDeclared, Payload: ResultDeclaredPayload{RoundID: roundID, Result: r}}
}

func NewUsersList(users []UserSummary) Event {
	if users == nil {
		users = []UserSummary{}
	}
	return Event{Type: TypeUsersList, Payload: UsersListPayload{Users: users}}
}

func NewBetPlaced(username string, w WagerInfo) Event {
	return Event{Type: TypeBetPlaced, Payload: BetPlacedPayload{Username: username, Wager: w}}
}
