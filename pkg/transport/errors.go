package transport

import (
	"fmt"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
)

type ErrorCategory string

const (
	CategoryConnectionRefused ErrorCategory = "connection_refused"
	CategoryProtocolViolation ErrorCategory = "protocol_violation"
	CategoryAuthFailed        ErrorCategory = "auth_failed"
	CategoryServerExit        ErrorCategory = "server_exit"
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryUnknown           ErrorCategory = "unknown"
)

// Error is a transport-level failure. LikelyServerBug is true when the
// transport itself worked but the server produced garbage (for example a
// well-formed HTTP body that fails JSON decoding) and false for
// network-level failures.
type Error struct {
	Category        ErrorCategory
	Message         string
	LikelyServerBug bool
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("transport %s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code maps the category onto the error taxonomy.
func (e *Error) Code() errdefs.Code {
	switch e.Category {
	case CategoryConnectionRefused:
		return errdefs.CodeTransportConnectionRefused
	case CategoryProtocolViolation:
		return errdefs.CodeTransportProtocolViolation
	case CategoryAuthFailed:
		return errdefs.CodeTransportAuthFailed
	case CategoryServerExit:
		return errdefs.CodeTransportServerExit
	case CategoryTimeout:
		return errdefs.CodeTransportTimeout
	default:
		return errdefs.CodeUnknown
	}
}

// Audit converts the transport error into its taxonomy form.
func (e *Error) Audit(operation string) *errdefs.AuditError {
	return errdefs.Wrap(e.Code(), e.Message, e,
		errdefs.WithComponent("transport", operation))
}

func newError(category ErrorCategory, message string, serverBug bool, cause error) *Error {
	return &Error{
		Category:        category,
		Message:         message,
		LikelyServerBug: serverBug,
		Err:             cause,
	}
}
