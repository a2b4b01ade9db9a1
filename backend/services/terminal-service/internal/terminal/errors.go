package terminal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConnected        = errors.New("terminal: not connected")
	ErrBusy                = errors.New("terminal: busy with another transaction")
	ErrUnsupportedMethod   = errors.New("terminal: unsupported payment method")
	ErrValidationFailed    = errors.New("terminal: validation failed")
	ErrTransactionRejected = errors.New("terminal: transaction rejected")
	ErrTimeout             = errors.New("terminal: timeout")
	ErrTransport           = errors.New("terminal: transport error")
	ErrInvalidTransition   = errors.New("terminal: invalid status transition")
	ErrUnknownTransaction  = errors.New("terminal: unknown transaction")
)

// ValidationError lists every constraint a request violated. It is a caller input error
// and must not be retried.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("terminal: validation failed: %s", strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// NewValidationError collapses validate() output into a single error, or nil.
func NewValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	v := &ValidationError{Violations: make([]string, 0, len(errs))}
	for _, err := range errs {
		v.Violations = append(v.Violations, err.Error())
	}
	return v
}

// RejectedError carries the vendor's reason for refusing a command.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("terminal: transaction rejected: %s", e.Message)
	}
	return fmt.Sprintf("terminal: transaction rejected (%s): %s", e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrTransactionRejected }
