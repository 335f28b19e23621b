package domain

import "errors"

// ValidationError reports malformed input. Calls failing with it have no side effects.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Conflicts: legitimate outcomes of concurrent use. Never retried automatically.
var (
	ErrSlotUnavailable           = errors.New("slot unavailable")
	ErrPeriodAlreadyMaterialized = errors.New("period already materialized")
	ErrPeriodOutOfOrder          = errors.New("previous period has not been materialized")
	ErrCreditExhausted           = errors.New("no sessions remaining")
	ErrCreditExpired             = errors.New("consultation credit has expired")
	ErrCreditRequired            = errors.New("a consultation credit is required to book")
	ErrInvalidTransition         = errors.New("invalid enrollment status transition")
)

var conflicts = []error{
	ErrSlotUnavailable,
	ErrPeriodAlreadyMaterialized,
	ErrPeriodOutOfOrder,
	ErrCreditExhausted,
	ErrCreditExpired,
	ErrCreditRequired,
	ErrInvalidTransition,
}

// IsConflict reports whether err is one of the business-rule conflicts.
func IsConflict(err error) bool {
	for _, c := range conflicts {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}

// IsTerminal reports errors that must be surfaced to the caller as-is and never retried.
func IsTerminal(err error) bool {
	return IsConflict(err) || IsValidation(err)
}
