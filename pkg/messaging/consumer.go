package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

// Handler reacts to one decoded event. A returned error is retried and the
// message is dead-lettered once retries are exhausted.
type Handler func(ctx context.Context, env Envelope) error

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so that the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Publisher sends envelopes to every interested service.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subscriber delivers events of one topic to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// EventBus is the publish/subscribe surface shared by the broker-backed and in-memory buses.
type EventBus interface {
	Publisher
	Subscriber
}

// RetryPolicy bounds in-process redelivery of a failing handler.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a handler five times starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// QueueName is the durable queue a service consumes a topic from.
func QueueName(service, topic string) string {
	return service + "." + topic
}

// DeadLetterQueueName is where a queue's rejected messages end up.
func DeadLetterQueueName(queue string) string {
	return queue + ".dead"
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDeadLetter
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomeRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// consumer turns a raw delivery into an acknowledgement decision.
type consumer struct {
	queue   string
	topic   string
	handler Handler
	retry   RetryPolicy
	log     *slog.Logger
	metrics *telemetry.ServiceMetrics
}

func (c *consumer) process(ctx context.Context, body []byte) outcome {
	env, err := Decode(body)
	if err != nil {
		c.metrics.Failed.WithLabelValues(c.topic).Inc()
		c.metrics.DeadLettered.WithLabelValues(c.topic).Inc()
		c.log.Error("event_rejected",
			slog.String("queue", c.queue),
			slog.String("err", err.Error()),
		)
		return outcomeDeadLetter
	}

	attrs := []any{
		slog.String("queue", c.queue),
		slog.String("event_id", env.ID.String()),
		slog.String("event_name", env.EventName),
		slog.String("correlation_id", env.CorrelationID),
	}

	op := func() error {
		err := c.handler(ctx, env)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.Retried.WithLabelValues(c.topic).Inc()
		c.log.Warn("handler_retry", append(attrs,
			slog.String("err", err.Error()),
			slog.Duration("wait", wait),
		)...)
	}

	if err := backoff.RetryNotify(op, c.retry.backoff(ctx), notify); err != nil {
		c.metrics.Failed.WithLabelValues(c.topic).Inc()
		// Shutdown mid-retry: give the message back to the broker instead of burying it.
		if ctx.Err() != nil && !IsPermanent(err) {
			c.log.Warn("handler_interrupted", append(attrs, slog.String("err", err.Error()))...)
			return outcomeRequeue
		}
		c.metrics.DeadLettered.WithLabelValues(c.topic).Inc()
		c.log.Error("handler_failed", append(attrs, slog.String("err", err.Error()))...)
		return outcomeDeadLetter
	}

	c.metrics.Consumed.WithLabelValues(c.topic).Inc()
	c.log.Info("event_consumed", attrs...)
	return outcomeAck
}
