package authz

import (
	"errors"
	"fmt"
)

// Code classifies command failures. Codes are stable and surface to API clients.
type Code string

const (
	CodeFeatureDisabled    Code = "FEATURE_DISABLED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeForbidden          Code = "FORBIDDEN"
	CodeAlreadyApproved    Code = "ALREADY_APPROVED"
	CodeAlreadyRequested   Code = "ALREADY_REQUESTED"
	CodeInvalidStatus      Code = "INVALID_STATUS"
	CodeLimitReached       Code = "LIMIT_REACHED"
	CodeCooldownActive     Code = "COOLDOWN_ACTIVE"
	CodePermanentlyRevoked Code = "PERMANENTLY_REVOKED"
	CodeReasonRequired     Code = "REASON_REQUIRED"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeSystemError        Code = "SYSTEM_ERROR"
)

// Error is the typed failure returned by every command. Two errors match with
// errors.Is when their codes are equal, so the package sentinels can be used as
// targets regardless of message or wrapped cause.
type Error struct {
	Code    Code
	Message string
	// DaysRemaining is set for CodeCooldownActive.
	DaysRemaining int
	Err           error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("authz: %s: %v", msg, e.Err)
	}
	return "authz: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrFeatureDisabled    = &Error{Code: CodeFeatureDisabled, Message: "seller authorization is disabled"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "authorization not found"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "actor may not modify this authorization"}
	ErrAlreadyApproved    = &Error{Code: CodeAlreadyApproved, Message: "product is already approved for this seller"}
	ErrAlreadyRequested   = &Error{Code: CodeAlreadyRequested, Message: "authorization is already pending"}
	ErrInvalidStatus      = &Error{Code: CodeInvalidStatus, Message: "operation not allowed in current status"}
	ErrLimitReached       = &Error{Code: CodeLimitReached, Message: "seller product limit reached"}
	ErrCooldownActive     = &Error{Code: CodeCooldownActive, Message: "re-request blocked by cooldown"}
	ErrPermanentlyRevoked = &Error{Code: CodePermanentlyRevoked, Message: "authorization was permanently revoked"}
	ErrReasonRequired     = &Error{Code: CodeReasonRequired, Message: "a reason of at least 10 characters is required"}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrSystem             = &Error{Code: CodeSystemError, Message: "internal error"}
)

// CodeOf returns the code carried by err, SYSTEM_ERROR for untyped errors and ""
// for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystemError
}

func invalidStatus(current Status, op string) error {
	return &Error{
		Code:    CodeInvalidStatus,
		Message: fmt.Sprintf("cannot %s an authorization in status %s", op, current),
	}
}

func cooldownError(days int) error {
	return &Error{
		Code:          CodeCooldownActive,
		Message:       fmt.Sprintf("re-request blocked by cooldown for %d more day(s)", days),
		DaysRemaining: days,
	}
}

func invalidInput(msg string) error {
	return &Error{Code: CodeInvalidInput, Message: msg}
}

// systemError wraps infrastructure failures; typed errors pass through unchanged.
func systemError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeSystemError, Message: "internal error", Err: err}
}
