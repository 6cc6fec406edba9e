package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/breaker"
)

// Error is the single shape every failed call is reported in, both to
// fallbacks and to callers without one.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Data    any    `json:"data,omitempty"`

	err error
}

func (e *Error) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("rpc %s: %s", e.Pattern, e.Message)
	}
	return "rpc: " + e.Message
}

func (e *Error) Unwrap() error { return e.err }

// StatusCode lets the breaker error filter classify the failure.
func (e *Error) StatusCode() int { return e.Status }

// NotFound builds the error a server handler returns for a missing entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Code: "NOT_FOUND", Status: http.StatusNotFound}
}

// BadRequest builds the error a server handler returns for unusable input.
func BadRequest(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Code: "BAD_REQUEST", Status: http.StatusBadRequest}
}

// normalize folds any failure into an *Error carrying the call context.
func normalize(err error, pattern string, data any) *Error {
	var re *Error
	if errors.As(err, &re) {
		out := *re
		if out.Pattern == "" {
			out.Pattern = pattern
		}
		if out.Data == nil {
			out.Data = data
		}
		if out.err == nil {
			out.err = err
		}
		return &out
	}

	out := &Error{Message: err.Error(), Pattern: pattern, Data: data, err: err}
	switch {
	case errors.Is(err, breaker.ErrOpen):
		out.Code, out.Status = "CIRCUIT_OPEN", http.StatusServiceUnavailable
	case errors.Is(err, breaker.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		out.Code, out.Status = "TIMEOUT", http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		out.Code, out.Status = "CANCELED", 499
	default:
		var sc breaker.StatusCoder
		if errors.As(err, &sc) {
			out.Status = sc.StatusCode()
		} else {
			out.Status = http.StatusInternalServerError
		}
		out.Code = "INTERNAL"
	}
	return out
}
