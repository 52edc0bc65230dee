package tool

import (
	"errors"
	"strings"

	"conclave/internal/domain"
)

// retryableSentinels are domain errors that describe transient failures.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrProviderError,
	domain.ErrStorageUnavailable,
	domain.ErrRateLimit,
	domain.ErrContextOverflow,
}

// retryablePatterns are matched case-insensitively against errors that
// carry no sentinel.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"database is locked",
	"try again",
}

// classifyToolError reports whether a tool call failing with err may
// succeed when the model tries again.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
