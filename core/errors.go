package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DispatchErrorBadInput           = "DISPATCH_BAD_INPUT"
	DispatchErrorHookNotFound       = "DISPATCH_HOOK_NOT_FOUND"
	DispatchErrorBlockedDestination = "DISPATCH_BLOCKED_DESTINATION"
	DispatchErrorDeliveryFailed     = "DISPATCH_DELIVERY_FAILED"
	DispatchErrorRateLimited        = "DISPATCH_RATE_LIMITED"
	DispatchErrorQueueUnavailable   = "DISPATCH_QUEUE_UNAVAILABLE"
	DispatchErrorInternal           = "DISPATCH_INTERNAL_ERROR"
)

func dispatchErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureDispatchErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrUnknownHookType):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorHookNotFound)
	case errors.Is(err, ErrBlockedDestination):
		return newDispatchError(err.Error(), goerrors.CategoryOperation, DispatchErrorBlockedDestination)
	case errors.Is(err, ErrQueueUnavailable):
		return newDispatchError(err.Error(), goerrors.CategoryInternal, DispatchErrorQueueUnavailable)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newDispatchError(err.Error(), goerrors.CategoryRateLimit, DispatchErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureDispatchErrorEnvelope(mapped)
}

func newDispatchError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureDispatchErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureDispatchErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = dispatchHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultDispatchTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultDispatchTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return DispatchErrorBadInput
	case goerrors.CategoryNotFound:
		return DispatchErrorHookNotFound
	case goerrors.CategoryRateLimit:
		return DispatchErrorRateLimited
	case goerrors.CategoryExternal:
		return DispatchErrorDeliveryFailed
	case goerrors.CategoryOperation:
		return DispatchErrorDeliveryFailed
	default:
		return DispatchErrorInternal
	}
}

func dispatchHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewRetryableError marks a delivery failure as transient: network-level
// conditions and upstream 429/5xx responses.
func NewRetryableError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryExternal).
		WithTextCode(DispatchErrorDeliveryFailed).
		WithCode(http.StatusBadGateway)
}

// WrapRetryable preserves the cause while classifying it as transient.
func WrapRetryable(err error, message string) *goerrors.Error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithTextCode(DispatchErrorDeliveryFailed).
		WithCode(http.StatusBadGateway)
}

// NewNonRetryableError marks a delivery failure that will never succeed on
// retry and must surface to operators immediately.
func NewNonRetryableError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryOperation).
		WithTextCode(DispatchErrorDeliveryFailed).
		WithCode(http.StatusBadRequest)
}

// Retryable classifies an error per the delivery taxonomy: network-level
// conditions, timeouts, rate limits, and errors categorized external are
// transient; everything else, including unknown error shapes, is permanent
// so programming errors cannot loop forever.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBlockedDestination) || errors.Is(err, ErrUnknownHookType) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// RetryableStatus classifies an upstream HTTP response: 429 and 5xx are
// transient, every other non-2xx status is permanent.
func RetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}
