package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/errors"
)

const maxErrorBody = 512

// StatusError is a non-2xx answer from a downstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
	// RetryAfter is the server's hint for when to try again, zero if none was given.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Message)
}

// NewStatusError builds a StatusError from resp, reading a bounded slice of the
// body and any rate limit reset headers. It does not close the body.
func NewStatusError(service string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: ParseRetryAfter(resp.Header, time.Now()),
	}
}

// ParseRetryAfter reads the wait hint from the headers the supported services send:
// Retry-After (seconds or HTTP date), x-rate-limit-reset (unix seconds) and
// x-ratelimit-reset-requests (Go duration syntax).
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			return positive(at.Sub(now))
		}
	}

	if v := h.Get("X-Rate-Limit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return positive(time.Unix(unix, 0).Sub(now))
		}
	}

	if v := h.Get("X-Ratelimit-Reset-Requests"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return positive(d)
		}
	}

	return 0
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// RateLimitWait reports whether err is a throttling answer and how long the
// service asked us to wait.
func RateLimitWait(err error) (time.Duration, bool) {
	var se *StatusError
	if stderrors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		return se.RetryAfter, true
	}
	if errors.IsType(err, errors.ErrTypeRateLimit) {
		return errors.RetryAfter(err), true
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying: timeouts, 5xx answers and
// connection-level failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode >= 500
	}

	if errors.IsType(err, errors.ErrTypeConnection) || errors.IsType(err, errors.ErrTypeTimeout) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	return stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, io.EOF)
}

// IsClientError reports whether the service rejected the request itself (4xx
// other than 429). Such answers say nothing about the service's health.
func IsClientError(err error) bool {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
	}
	return errors.IsType(err, errors.ErrTypeValidation) || errors.IsType(err, errors.ErrTypeNotFound)
}

// BreakerOutcome decides what a failed call tells its breaker. A call the
// caller cancelled, or whose own deadline ran out, never reached a verdict on
// the service and hands its permit back. Client errors mean the service
// answered.
func BreakerOutcome(ctx context.Context, err error) circuitbreaker.Outcome {
	switch {
	case err == nil:
		return circuitbreaker.Success
	case ctx.Err() != nil, stderrors.Is(err, context.Canceled):
		return circuitbreaker.Abandoned
	case IsClientError(err):
		return circuitbreaker.Success
	default:
		return circuitbreaker.Failure
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
