package idempotency

import (
	"context"
	"log/slog"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

// Key identifies one event as handled by one service.
func Key(service string, env messaging.Envelope) string {
	return service + ":" + env.EventName + ":" + env.ID.String()
}

// Middleware skips envelopes the service already handled and records the
// key once the handler succeeds. A failed Mark is logged, not returned.
func Middleware(service string, store Store, log *slog.Logger, metrics *telemetry.ServiceMetrics) messaging.Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env messaging.Envelope) error {
			key := Key(service, env)
			seen, err := store.Seen(ctx, key)
			if err != nil {
				return err
			}
			if seen {
				if metrics != nil {
					metrics.Duplicates.WithLabelValues(env.EventName).Inc()
				}
				log.Info("event_duplicate",
					slog.String("event_id", env.ID.String()),
					slog.String("event_name", env.EventName),
				)
				return nil
			}

			if err := next(ctx, env); err != nil {
				return err
			}
			if err := store.Mark(ctx, key); err != nil {
				log.Warn("dedup_mark_failed",
					slog.String("event_id", env.ID.String()),
					slog.String("err", err.Error()),
				)
			}
			return nil
		}
	}
}
