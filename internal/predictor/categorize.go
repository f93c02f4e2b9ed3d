package predictor

import (
	"context"
	"errors"
	"net"

	"github.com/sony/gobreaker"
)

// ErrorCategory is a stable metrics label for model failures.
type ErrorCategory string

const (
	ErrorCategoryTimeout           ErrorCategory = "timeout"
	ErrorCategoryNetwork           ErrorCategory = "network"
	ErrorCategoryBreakerOpen       ErrorCategory = "breaker_open"
	ErrorCategoryRateLimited       ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx       ErrorCategory = "upstream_5xx"
	ErrorCategoryUpstream4xx       ErrorCategory = "upstream_4xx"
	ErrorCategoryInvalidPrediction ErrorCategory = "invalid_prediction"
	ErrorCategoryUnavailable       ErrorCategory = "unavailable"
	ErrorCategoryUnknown           ErrorCategory = "unknown"
)

// Categorize maps err to an ErrorCategory. Returns "" for nil.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrorCategoryBreakerOpen
	}
	if errors.Is(err, errRateLimited) {
		return ErrorCategoryRateLimited
	}
	if errors.Is(err, errUpstream5xx) {
		return ErrorCategoryUpstream5xx
	}
	if errors.Is(err, errUpstream4xx) {
		return ErrorCategoryUpstream4xx
	}
	if errors.Is(err, ErrInvalidPrediction) {
		return ErrorCategoryInvalidPrediction
	}
	if errors.Is(err, ErrModelUnavailable) {
		return ErrorCategoryUnavailable
	}
	return ErrorCategoryUnknown
}
