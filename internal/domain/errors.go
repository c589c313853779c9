package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrUpstreamUnavailable covers timeouts, connection failures and 5xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited is returned when an upstream answers 429.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrInvalidICAO is returned for codes that are not four letters.
	ErrInvalidICAO = errors.New("invalid ICAO code")
)

// RateLimitError carries the upstream's Retry-After hint, if any.
type RateLimitError struct {
	Adapter    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Adapter, e.RetryAfter)
	}
	return e.Adapter + ": rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

var icaoRe = regexp.MustCompile(`^[A-Z]{4}$`)

// NormalizeICAO trims and upper-cases a code and checks it is four letters.
func NormalizeICAO(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !icaoRe.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidICAO, code)
	}
	return c, nil
}
