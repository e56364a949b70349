// internal/errcode/errcode.go
package errcode

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sergioBarril/smashbot/internal/models"
)

// Code is a machine-readable failure reason surfaced to callers.
type Code string

const (
	AlreadyInPool            Code = "ALREADY_SEARCHING"
	NotInPool                Code = "NOT_SEARCHING"
	TierMismatch             Code = "BAD_TIERS"
	NoTierAssigned           Code = "NO_TIER"
	StatusConflict           Code = "STATUS_CONFLICT"
	ResourceAllocationFailed Code = "RESOURCE_ALLOCATION_FAILED"
	ConsensusTimeout         Code = "CONSENSUS_TIMEOUT"
	BothTimedOut             Code = "BOTH_TIMED_OUT"
	NotFound                 Code = "NOT_FOUND"
	NotParticipant           Code = "NOT_PARTICIPANT"
	WrongPhase               Code = "WRONG_PHASE"
	Invalid                  Code = "INVALID"
)

// Error is a coded failure. Tiers is populated for TierMismatch so the
// caller can tell the player which tiers were involved.
type Error struct {
	Code    Code
	Message string
	Tiers   []models.Tier
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// BadTiers reports a band that runs above the player's own tier.
func BadTiers(own, from models.Tier) *Error {
	return &Error{
		Code:    TierMismatch,
		Message: fmt.Sprintf("tier %s cannot search from %s", own.Name, from.Name),
		Tiers:   []models.Tier{own, from},
	}
}

// Sentinels for errors.Is.
var (
	ErrAlreadyInPool            = &Error{Code: AlreadyInPool}
	ErrNotInPool                = &Error{Code: NotInPool}
	ErrTierMismatch             = &Error{Code: TierMismatch}
	ErrNoTierAssigned           = &Error{Code: NoTierAssigned}
	ErrStatusConflict           = &Error{Code: StatusConflict}
	ErrResourceAllocationFailed = &Error{Code: ResourceAllocationFailed}
	ErrConsensusTimeout         = &Error{Code: ConsensusTimeout}
	ErrBothTimedOut             = &Error{Code: BothTimedOut}
	ErrNotFound                 = &Error{Code: NotFound}
	ErrNotParticipant           = &Error{Code: NotParticipant}
	ErrWrongPhase               = &Error{Code: WrongPhase}
	ErrInvalid                  = &Error{Code: Invalid}
)

// CodeOf extracts the code of err, or "" when err is not coded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps a coded error to a response status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case AlreadyInPool, StatusConflict, WrongPhase:
		return http.StatusConflict
	case NotInPool, NotFound:
		return http.StatusNotFound
	case TierMismatch, NoTierAssigned, Invalid:
		return http.StatusBadRequest
	case NotParticipant:
		return http.StatusForbidden
	case ResourceAllocationFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
