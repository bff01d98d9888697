package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited marks a request rejected by the provider's rate limiter.
	ErrRateLimited = errors.New("ai: rate limited")
	// ErrTimeout marks a request that did not finish before its deadline.
	ErrTimeout = errors.New("ai: request timed out")
	// ErrUnavailable marks a provider side failure (5xx, connection reset).
	ErrUnavailable = errors.New("ai: service unavailable")
	// ErrMalformedResponse marks output that could not be parsed into the
	// requested structure. Retrying the same prompt rarely helps.
	ErrMalformedResponse = errors.New("ai: malformed response")
)

// ClassifyStatus wraps err with the sentinel matching an HTTP status code.
// Codes that do not map to a sentinel return err unchanged.
func ClassifyStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// ClassifyContext wraps deadline errors with ErrTimeout. Cancellation is left
// as is so callers can tell an abandoned request from a slow one.
func ClassifyContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
