package classifier

import (
	"context"
	"errors"
	"net"
	"strings"
)

// UpstreamReason 把上游调用错误归类
func UpstreamReason(ctx context.Context, err error) FailureReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonUpstreamTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "status code: 429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"):
		return ReasonUpstreamRateLimited
	case strings.Contains(msg, "status code: 500"),
		strings.Contains(msg, "status code: 502"),
		strings.Contains(msg, "status code: 503"),
		strings.Contains(msg, "status code: 504"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return ReasonUpstreamUnavailable
	}
	return ReasonUpstreamError
}

// IsTransient 是否为限流、不可用或超时这类可稍后重试的错误
func IsTransient(ctx context.Context, err error) bool {
	switch UpstreamReason(ctx, err) {
	case ReasonUpstreamRateLimited, ReasonUpstreamUnavailable, ReasonUpstreamTimeout:
		return true
	}
	return false
}
