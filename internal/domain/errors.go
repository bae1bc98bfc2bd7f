package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups failures by how they are reported to clients.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindStateConflict ErrorKind = "state_conflict"
	KindAuth          ErrorKind = "auth"
	KindNotFound      ErrorKind = "not_found"
	KindStorage       ErrorKind = "storage"
)

// Error is a classified failure. Code doubles as the message catalog key.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func newErr(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidStake        = newErr(KindValidation, "invalid_stake", "invalid stake")
	ErrInvalidNumberFormat = newErr(KindValidation, "invalid_number_format", "invalid number format")
	ErrInvalidResultFormat = newErr(KindValidation, "invalid_result_format", "invalid result format")
	ErrInvalidBetKind      = newErr(KindValidation, "invalid_bet_kind", "unknown bet type")
	ErrInsufficientFunds   = newErr(KindValidation, "insufficient_funds", "insufficient wallet balance")
	ErrInvalidArgs         = newErr(KindValidation, "invalid_arguments", "invalid arguments")

	ErrNoActiveRound          = newErr(KindStateConflict, "no_active_round", "no active round")
	ErrAlreadyActive          = newErr(KindStateConflict, "round_already_active", "a round is already active")
	ErrBettingClosed          = newErr(KindStateConflict, "betting_closed", "betting is closed")
	ErrOutsideOperatingWindow = newErr(KindStateConflict, "outside_operating_window", "outside operating hours")
	ErrAlreadySettled         = newErr(KindStateConflict, "already_settled", "wager already settled")

	ErrInvalidCredentials = newErr(KindAuth, "invalid_credentials", "invalid credentials")
	ErrAuthThrottled      = newErr(KindAuth, "auth_throttled", "too many failed attempts")
	ErrForbidden          = newErr(KindAuth, "forbidden", "administrator role required")

	ErrUserNotFound  = newErr(KindNotFound, "user_not_found", "user not found")
	ErrRoundNotFound = newErr(KindNotFound, "round_not_found", "round not found")

	ErrStorage = newErr(KindStorage, "storage_error", "storage error")
)

// StorageError marks err as a storage failure while keeping the cause in the chain.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != KindStorage {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// CodeOf returns the classification code of err, or storage_error for unclassified errors.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrStorage.Code
}

func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}
