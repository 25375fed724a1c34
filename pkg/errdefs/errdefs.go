// Package errdefs defines the error taxonomy shared by every subsystem.
//
// Every internal failure carries a stable code, a severity, a retryability
// tag, and a context record identifying the component and operation that
// produced it. Classifiers elsewhere (retry engine, fallback client) key off
// these tags instead of inspecting error strings.
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

type Code string

const (
	CodeTransportConnectionRefused Code = "TRANSPORT_CONNECTION_REFUSED"
	CodeTransportAuthFailed        Code = "TRANSPORT_AUTH_FAILED"
	CodeTransportServerExit        Code = "TRANSPORT_SERVER_EXIT"
	CodeTransportProtocolViolation Code = "TRANSPORT_PROTOCOL_VIOLATION"
	CodeTransportTimeout           Code = "TRANSPORT_TIMEOUT"

	CodeLLMAuth       Code = "LLM_AUTH"
	CodeLLMRateLimit  Code = "LLM_RATE_LIMIT"
	CodeLLMQuota      Code = "LLM_QUOTA"
	CodeLLMConnection Code = "LLM_CONNECTION"
	CodeLLMRefusal    Code = "LLM_REFUSAL"
	CodeLLMParse      Code = "LLM_PARSE"

	CodeProtocolNotInitialized  Code = "PROTOCOL_NOT_INITIALIZED"
	CodeProtocolInvalidResponse Code = "PROTOCOL_INVALID_RESPONSE"
	CodeProtocolUnknownMethod   Code = "PROTOCOL_UNKNOWN_METHOD"

	CodeValidationConfig   Code = "VALIDATION_CONFIG"
	CodeValidationScenario Code = "VALIDATION_SCENARIO"
	CodeValidationWorkflow Code = "VALIDATION_WORKFLOW"

	CodeCircuitBreakerOpen Code = "CIRCUIT_BREAKER_OPEN"

	CodeCancelled Code = "CANCELLED"
	CodeUnknown   Code = "UNKNOWN"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Retryability string

const (
	Retryable    Retryability = "retryable"
	Terminal     Retryability = "terminal"
	CircuitBreak Retryability = "circuit-break"
)

// RetryInfo carries server-provided retry hints, when present.
type RetryInfo struct {
	RetryAfter time.Duration
	Attempt    int
}

// AuditError is the concrete error type carrying the taxonomy.
type AuditError struct {
	Code         Code
	Severity     Severity
	Retryability Retryability
	Component    string
	Operation    string
	Message      string
	Metadata     map[string]any
	Timing       time.Duration
	Retry        *RetryInfo
	Err          error
}

func (e *AuditError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuditError) Unwrap() error {
	return e.Err
}

// Is matches on code so callers can use errors.Is with sentinel AuditErrors.
func (e *AuditError) Is(target error) bool {
	var other *AuditError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func (e *AuditError) IsRetryable() bool {
	return e.Retryability == Retryable || e.Retryability == CircuitBreak
}

func (e *AuditError) WithMetadata(key string, value any) *AuditError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

type Option func(*AuditError)

func WithComponent(component, operation string) Option {
	return func(e *AuditError) {
		e.Component = component
		e.Operation = operation
	}
}

func WithSeverity(s Severity) Option {
	return func(e *AuditError) {
		e.Severity = s
	}
}

func WithTiming(d time.Duration) Option {
	return func(e *AuditError) {
		e.Timing = d
	}
}

func WithRetryAfter(d time.Duration) Option {
	return func(e *AuditError) {
		e.Retry = &RetryInfo{RetryAfter: d}
	}
}

func WithCause(err error) Option {
	return func(e *AuditError) {
		e.Err = err
	}
}

// New builds an AuditError with the defaults implied by the code: severity
// and retryability come from the taxonomy table unless overridden.
func New(code Code, message string, opts ...Option) *AuditError {
	e := &AuditError{
		Code:         code,
		Severity:     defaultSeverity(code),
		Retryability: defaultRetryability(code),
		Message:      message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Wrap(code Code, message string, err error, opts ...Option) *AuditError {
	e := New(code, message, opts...)
	if e.Err == nil {
		e.Err = err
	}
	return e
}

// CodeOf extracts the taxonomy code from any error, returning CodeUnknown
// when the chain carries no AuditError.
func CodeOf(err error) Code {
	var ae *AuditError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether the error chain carries a retryable tag.
func IsRetryable(err error) bool {
	var ae *AuditError
	if errors.As(err, &ae) {
		return ae.IsRetryable()
	}
	return false
}

// RetryAfterOf returns the server-provided retry hint, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ae *AuditError
	if errors.As(err, &ae) && ae.Retry != nil && ae.Retry.RetryAfter > 0 {
		return ae.Retry.RetryAfter, true
	}
	return 0, false
}

func defaultRetryability(code Code) Retryability {
	switch code {
	case CodeTransportTimeout, CodeLLMRateLimit, CodeLLMConnection:
		return Retryable
	case CodeCircuitBreakerOpen:
		return CircuitBreak
	default:
		return Terminal
	}
}

func defaultSeverity(code Code) Severity {
	switch code {
	case CodeTransportAuthFailed, CodeLLMAuth, CodeLLMQuota:
		return SeverityCritical
	case CodeTransportServerExit, CodeTransportConnectionRefused, CodeProtocolNotInitialized:
		return SeverityHigh
	case CodeTransportTimeout, CodeLLMRateLimit, CodeLLMConnection, CodeCircuitBreakerOpen:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Remediation returns a user-facing hint for fatal errors. Empty when no
// useful hint exists for the code.
func Remediation(err error) string {
	switch CodeOf(err) {
	case CodeLLMAuth:
		return "check the provider API key (env var or .env entry) and retry"
	case CodeTransportAuthFailed:
		return "the server rejected authentication; verify credentials or headers"
	case CodeTransportConnectionRefused:
		return "verify the server command/URL and that the server is running"
	case CodeLLMQuota:
		return "the provider account is out of quota; top up or switch providers"
	case CodeValidationConfig:
		return "fix the reported config key and re-run validate"
	default:
		return ""
	}
}
