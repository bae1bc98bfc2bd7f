// Package wire holds the JSON frames exchanged over the websocket: {type, payload} in both directions.
package wire

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Inbound message kinds.
const (
	TypeAuth         = "auth"
	TypePlaceBet     = "place_bet"
	TypeGetWallet    = "get_wallet"
	TypeGetGameState = "get_game_state"
	TypeAdminAction  = "admin_action"
)

// Admin sub-commands carried in AdminAction.Command.
const (
	CommandStartGame    = "start_game"
	CommandStopGame     = "stop_game"
	CommandSetResult    = "set_result"
	CommandUpdateWallet = "update_wallet"
)

// Envelope is the outer frame. Payload is decoded lazily once Type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PlaceBetRequest keeps the original field name "type" for the bet kind.
type PlaceBetRequest struct {
	Kind   string          `json:"type"`
	Number string          `json:"number"`
	Amount decimal.Decimal `json:"amount"`
}

// ResultPayload is the manual result of set_result. Mode is "auto" or "manual".
type ResultPayload struct {
	OpenPanna  string `json:"openPanna"`
	Jodi       string `json:"jodi"`
	ClosePanna string `json:"closePanna"`
}

type AdminAction struct {
	Command string          `json:"command"`
	Mode    string          `json:"mode,omitempty"`
	Result  *ResultPayload  `json:"result,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
}

// Decode unmarshals the envelope payload into v. An absent payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
