package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates malformed or missing arguments. Not retryable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the requested action clashes with current state.
	ErrConflict = errors.New("conflict")
	// ErrDenied is produced by access decisions only.
	ErrDenied = errors.New("denied")
	// ErrUnavailable wraps storage failures. Safe for the caller to retry.
	ErrUnavailable = errors.New("unavailable")
	// ErrUnauthorized indicates a missing or invalid operator credential.
	ErrUnauthorized = errors.New("unauthorized")
)

// Conflict kinds. Each one matches ErrConflict with errors.Is.
var (
	ErrAlreadyBanned   = fmt.Errorf("%w: account already banned", ErrConflict)
	ErrAlreadyBlocked  = fmt.Errorf("%w: account already blocked", ErrConflict)
	ErrSelfBlock       = fmt.Errorf("%w: cannot block yourself", ErrConflict)
	ErrForbiddenTarget = fmt.Errorf("%w: target account cannot be acted upon", ErrConflict)
)

// Unavailable marks err as a storage failure while keeping the cause inspectable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// InvalidInput builds an ErrInvalidInput carrying a field specific message.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// UserSafeMessage returns a message that can be shown to end users without
// leaking internal state.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrConflict):
		return err.Error()
	case errors.Is(err, ErrDenied):
		return "action not permitted"
	case errors.Is(err, ErrUnavailable):
		return "service temporarily unavailable, please retry"
	default:
		return "internal error"
	}
}

// Denial reason codes carried by DeniedError.
const (
	DenyBanned           = "BANNED"
	DenyInactive         = "INACTIVE"
	DenyInsufficientRole = "INSUFFICIENT_ROLE"
	DenyBlocked          = "BLOCKED"
)

// DeniedError is a rejected authorization. Reason is for logs and operators;
// end users only ever see UserSafeMessage.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "denied: " + e.Reason }

// Unwrap makes DeniedError match ErrDenied.
func (e *DeniedError) Unwrap() error { return ErrDenied }

// Denied builds a DeniedError.
func Denied(reason string) error {
	return &DeniedError{Reason: reason}
}

// DenialReason extracts the reason code from err, if any.
func DenialReason(err error) (string, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return "", false
}
