// Package rpc sends request/reply calls to other services behind a
// per-service circuit breaker.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/breaker"
)

// Client is a request/reply transport to one downstream service.
type Client interface {
	Send(ctx context.Context, pattern string, data any) (json.RawMessage, error)
}

type Dispatcher struct {
	registry *breaker.Registry
	log      *slog.Logger
}

func NewDispatcher(registry *breaker.Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, log: log.With(slog.String("component", "rpc"))}
}

func (d *Dispatcher) Registry() *breaker.Registry { return d.registry }

func (d *Dispatcher) Status() map[string]breaker.Stats { return d.registry.Status() }

func (d *Dispatcher) ResetBreaker(serviceID string) error { return d.registry.Reset(serviceID) }

func (d *Dispatcher) OpenBreaker(serviceID string) error { return d.registry.Open(serviceID) }

type callOptions struct {
	timeout time.Duration
	breaker []breaker.Option
}

type CallOption func(*callOptions)

// WithTimeout overrides the breaker timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithBreakerOptions configures the service's breaker if this call creates it.
func WithBreakerOptions(opts ...breaker.Option) CallOption {
	return func(o *callOptions) { o.breaker = append(o.breaker, opts...) }
}

// Send calls pattern on serviceID and decodes the reply into T. On any
// failure, including a fast-fail from an open circuit, fallback (when not nil)
// is invoked with the normalized error and its result returned instead.
func Send[T any](
	ctx context.Context,
	d *Dispatcher,
	client Client,
	serviceID, pattern string,
	data any,
	fallback func(*Error) (T, error),
	opts ...CallOption,
) (T, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	b := d.registry.Get(serviceID, co.breaker...)

	var reply json.RawMessage
	err := b.ExecuteTimeout(ctx, co.timeout, func(ctx context.Context) error {
		raw, err := client.Send(ctx, pattern, data)
		if err != nil {
			return err
		}
		reply = raw
		return nil
	})

	var zero T
	if err == nil {
		var out T
		if uerr := json.Unmarshal(reply, &out); uerr != nil {
			err = &Error{Message: "decode reply: " + uerr.Error(), Code: "BAD_REPLY", Status: http.StatusBadGateway, err: uerr}
		} else {
			return out, nil
		}
	}

	rerr := normalize(err, pattern, data)
	if fallback == nil {
		d.log.Warn("rpc_failed",
			slog.String("service_id", serviceID),
			slog.String("pattern", pattern),
			slog.String("code", rerr.Code),
			slog.String("err", rerr.Message),
		)
		return zero, rerr
	}

	b.RecordFallback()
	d.log.Warn("rpc_fallback",
		slog.String("service_id", serviceID),
		slog.String("pattern", pattern),
		slog.String("code", rerr.Code),
		slog.String("err", rerr.Message),
	)
	return fallback(rerr)
}
