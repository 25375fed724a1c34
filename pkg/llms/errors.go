package llms

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/httpclient"
)

// DefaultRefusalPatterns returns the built-in substrings that mark a model
// refusal. The table is loaded per provider config so deployments can extend
// it without a rebuild.
func DefaultRefusalPatterns() []string {
	return []string{
		"i can't help with",
		"i cannot help with",
		"i can't assist with",
		"i cannot assist with",
		"i'm not able to help",
		"i am not able to help",
		"i must decline",
		"against my guidelines",
	}
}

func detectRefusal(text string, patterns []string) bool {
	lowered := strings.ToLower(text)
	for _, p := range patterns {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

// classifyHTTPError maps a provider HTTP failure onto the taxonomy.
func classifyHTTPError(provider, operation string, statusCode int, body string, cause error) *errdefs.AuditError {
	opts := []errdefs.Option{
		errdefs.WithComponent(provider, operation),
		errdefs.WithCause(cause),
	}

	var retryable *httpclient.RetryableError
	if errors.As(cause, &retryable) {
		if statusCode == 0 {
			statusCode = retryable.StatusCode
		}
		if retryable.RetryAfter > 0 {
			opts = append(opts, errdefs.WithRetryAfter(retryable.RetryAfter))
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errdefs.New(errdefs.CodeLLMAuth, "provider rejected credentials", opts...)
	case statusCode == http.StatusTooManyRequests:
		if strings.Contains(body, "insufficient_quota") || strings.Contains(body, "billing") {
			return errdefs.New(errdefs.CodeLLMQuota, "provider quota exhausted", opts...)
		}
		return errdefs.New(errdefs.CodeLLMRateLimit, "provider rate limited the request", opts...)
	case statusCode == http.StatusPaymentRequired:
		return errdefs.New(errdefs.CodeLLMQuota, "provider quota exhausted", opts...)
	case statusCode >= 500:
		return errdefs.New(errdefs.CodeLLMConnection, "provider server error", opts...)
	case statusCode == http.StatusBadRequest:
		return errdefs.New(errdefs.CodeLLMParse, "provider rejected the request: "+truncate(body, 200), opts...)
	default:
		return errdefs.New(errdefs.CodeLLMConnection, "provider request failed", opts...)
	}
}

func classifyTransportFailure(provider, operation string, cause error) *errdefs.AuditError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	opts := []errdefs.Option{
		errdefs.WithComponent(provider, operation),
		errdefs.WithCause(cause),
	}
	switch {
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "Client.Timeout"):
		return errdefs.New(errdefs.CodeLLMConnection, "provider request timed out",
			append(opts, errdefs.WithRetryAfter(time.Second))...)
	case strings.Contains(msg, "context canceled"):
		return errdefs.New(errdefs.CodeCancelled, "provider request cancelled", opts...)
	default:
		return errdefs.New(errdefs.CodeLLMConnection, "failed to reach provider", opts...)
	}
}

func refusalError(provider, operation string) *errdefs.AuditError {
	return errdefs.New(errdefs.CodeLLMRefusal, "model declined the request",
		errdefs.WithComponent(provider, operation))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
