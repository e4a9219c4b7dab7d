package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies an inference failure for retry purposes.
type ErrorKind string

const (
	// ErrKindRateLimit means the provider throttled us (HTTP 429). Retryable
	// after backing off.
	ErrKindRateLimit ErrorKind = "rate_limit"

	// ErrKindTransient covers server-side and network failures (5xx,
	// connection resets, timeouts). Retryable.
	ErrKindTransient ErrorKind = "transient"

	// ErrKindEmptyResponse means the call succeeded but returned no usable
	// content. Retryable: models occasionally produce empty completions.
	ErrKindEmptyResponse ErrorKind = "empty_response"

	// ErrKindAuth means credentials were rejected (401/403). Not retryable.
	ErrKindAuth ErrorKind = "auth"

	// ErrKindBadPrompt means the provider rejected the request itself
	// (400/413/422). Not retryable: the same prompt will fail the same way.
	ErrKindBadPrompt ErrorKind = "bad_prompt"

	// ErrKindUnknown is everything we could not classify. Not retryable,
	// so unclassified failures surface instead of looping.
	ErrKindUnknown ErrorKind = "unknown"
)

// Error is a classified inference failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could plausibly succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrKindRateLimit, ErrKindTransient, ErrKindEmptyResponse:
		return true
	default:
		return false
	}
}

// NewError wraps err with an explicit classification.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify extracts the classification from err, defaulting to unknown.
func Classify(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ErrKindUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Retryable()
	}
	return false
}

var statusCodeRe = regexp.MustCompile(`\b([1-5]\d{2})\b`)

// classifyHTTPError maps an SDK error to an ErrorKind by extracting an HTTP
// status code from its message. SDKs wrap status codes inconsistently, so
// string inspection is the lowest common denominator that works across all
// of them.
func classifyHTTPError(err error) *Error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") {
		return NewError(ErrKindTransient, err)
	}

	if m := statusCodeRe.FindString(msg); m != "" {
		code, _ := strconv.Atoi(m)
		switch {
		case code == 429:
			return NewError(ErrKindRateLimit, err)
		case code == 401 || code == 403:
			return NewError(ErrKindAuth, err)
		case code == 400 || code == 413 || code == 422:
			return NewError(ErrKindBadPrompt, err)
		case code >= 500:
			return NewError(ErrKindTransient, err)
		}
	}

	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "overloaded") {
		return NewError(ErrKindRateLimit, err)
	}

	return NewError(ErrKindUnknown, err)
}
