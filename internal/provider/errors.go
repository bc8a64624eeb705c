package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/resilience"
)

// ErrNoResults indicates the provider responded successfully but found
// no contacts. Triggers fallback, never retry.
var ErrNoResults = eris.New("provider: no results")

// RateLimitedError indicates the provider rejected the call with a 429.
// Retryable; also triggers fallback in the orchestrator.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// Unwrap lets the resilience layer treat rate limiting as transient.
func (e *RateLimitedError) Unwrap() error {
	return resilience.NewTransient(errors.New("rate limited"), 429)
}

// AuthError indicates invalid or expired credentials. Permanent — the
// record is marked failed without retry or fallback escalation.
type AuthError struct {
	Provider string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Provider, e.Status)
}

func (e *AuthError) Unwrap() error {
	return resilience.NewPermanent(errors.New("authentication failed"))
}

// IsRateLimited reports whether err carries a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// classifyStatus converts a non-2xx provider response into the typed
// failure the orchestrator branches on.
func classifyStatus(providerName string, status int) error {
	switch {
	case status == 429:
		return &RateLimitedError{Provider: providerName}
	case status == 401 || status == 403:
		return &AuthError{Provider: providerName, Status: status}
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransient(eris.Errorf("%s: server error", providerName), status)
	default:
		return resilience.NewPermanent(eris.Errorf("%s: unexpected status %d", providerName, status))
	}
}
