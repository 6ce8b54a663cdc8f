package ratelimit

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spigell/cv-matcher/internal/apperr"
)

// ErrUnavailable is in the chain of every counter store failure.
var ErrUnavailable = errors.New("rate limiter unavailable")

func unavailable(op string, err error) error {
	return apperr.New(apperr.KindUpstream, ErrUnavailable.Error(), fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err))
}

// ExceededError reports a rejected request together with the metadata a
// client needs to back off.
type ExceededError struct {
	Tier  Tier
	Limit int
	// Reset is the epoch second at which the oldest counted request leaves
	// the window.
	Reset int64
	// Wait is the number of seconds until Reset.
	Wait int64
}

func newExceededError(tier Tier, limit int, reset, wait int64) *ExceededError {
	return &ExceededError{Tier: tier, Limit: limit, Reset: reset, Wait: wait}
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded for %s tier", e.Limit, e.Tier)
}

func (e *ExceededError) Kind() apperr.Kind { return apperr.KindRateLimited }

func (e *ExceededError) UserMessage() string {
	return fmt.Sprintf("Rate limit exceeded. Try again in %s.", FormatWait(e.Wait))
}

// RetryAfter is the Retry-After value in seconds, never below one.
func (e *ExceededError) RetryAfter() int64 {
	return max(1, e.Wait)
}

// Headers returns the response headers announcing the rejection.
func (e *ExceededError) Headers() map[string]string {
	return map[string]string{
		"Retry-After":            strconv.FormatInt(e.RetryAfter(), 10),
		"X-Rate-Limit-Limit":     strconv.Itoa(e.Limit),
		"X-Rate-Limit-Remaining": "0",
		"X-Rate-Limit-Reset":     strconv.FormatInt(e.Reset, 10),
	}
}

// FormatWait renders seconds as "Xh Ym", or "Ym" below one hour.
func FormatWait(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
