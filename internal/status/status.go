package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrUnknownTransaction is returned when a status report names a
	// transaction that was never opened here.
	ErrUnknownTransaction = fmt.Errorf("unknown transaction: %w", ErrNotFound)

	// ErrUnresolvedSettlement marks a successful payment with no attributable
	// booking: money was captured and no ticket could be issued.
	ErrUnresolvedSettlement = errors.New("settlement: payment captured but no booking attributable")

	ErrPaymentNotConfirmed = errors.New("ticket: payment not confirmed")
	ErrTicketCancelled     = errors.New("ticket: ticket cancelled")

	ErrConfirmationRequired = errors.New("confirmation required")
	ErrOverrideDenied       = errors.New("override pin rejected")
	ErrLocked               = errors.New("resource locked by another settlement")
)

// ValidationError is the caller's fault; Field names the offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// GatewayError carries the provider's code and message through untouched,
// since callers often need to act on it ("insufficient balance").
type GatewayError struct {
	Code    string
	Message string

	// Temporary is set for timeouts and an unavailable provider. The
	// transaction state is unknown and must be left PENDING.
	Temporary bool
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return "gateway: " + e.Message
	}
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// InvariantViolation means an internal guard tripped. It points at a bug or a
// forged request and must never be swallowed.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// AlreadyUsedError is returned when a validated ticket is scanned again.
type AlreadyUsedError struct {
	ValidatedAt time.Time
	ValidatedBy string
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("ticket: already used at %s", e.ValidatedAt.Format(time.RFC3339))
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
