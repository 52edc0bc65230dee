package usecase

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"conclave/internal/domain"
)

// ErrorCategory indicates whether an error is retryable or permanent.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, connection errors, context overflow
	ErrorCategoryPermanent               // 401, 403, 400 (non-overflow), open circuit
)

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel, or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// ErrorClassifier decides whether a failed model call is worth retrying.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// statusPattern matches the status codes the provider SDKs embed in
// their error strings ("API error 429:", `429 Too Many Requests`).
var statusPattern = regexp.MustCompile(`(?:API error |": )(\d{3})\b`)

var sentinelRules = []struct {
	sentinel error
	category ErrorCategory
}{
	{domain.ErrRateLimit, ErrorCategoryRetryable},
	{domain.ErrContextOverflow, ErrorCategoryRetryable},
	{domain.ErrAuthInvalid, ErrorCategoryPermanent},
	{domain.ErrCircuitOpen, ErrorCategoryPermanent},
}

var stringRules = []struct {
	patterns []string
	sentinel error
}{
	{[]string{"rate limit", "too many requests"}, domain.ErrRateLimit},
	{[]string{"context length", "token limit", "maximum context"}, domain.ErrContextOverflow},
	{[]string{"connection refused", "no such host", "timeout", "deadline exceeded", "connection reset"}, nil},
}

// Classify inspects an error from an LLM provider.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}
	for _, r := range sentinelRules {
		if errors.Is(err, r.sentinel) {
			return ClassifiedError{Original: err, Category: r.category, Sentinel: r.sentinel}
		}
	}

	msg := err.Error()
	if m := statusPattern.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(err, code, msg)
	}

	lower := strings.ToLower(msg)
	for _, r := range stringRules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: r.sentinel}
			}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func classifyStatus(err error, code int, body string) ClassifiedError {
	ce := ClassifiedError{Original: err, Category: ErrorCategoryPermanent, StatusCode: code}
	switch {
	case code == 429:
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
	case code == 401 || code == 403:
		ce.Sentinel = domain.ErrAuthInvalid
	case code == 413:
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrContextOverflow
	case code == 400:
		lower := strings.ToLower(body)
		for _, kw := range []string{"context", "too long", "maximum"} {
			if strings.Contains(lower, kw) {
				ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrContextOverflow
				break
			}
		}
	case code >= 500 && code < 600:
		ce.Category = ErrorCategoryRetryable
	}
	return ce
}
