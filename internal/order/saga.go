package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

// Saga reacts to payment events on behalf of the order service.
type Saga struct {
	svc  *Service
	sub  messaging.Subscriber
	log  *slog.Logger
	once sync.Once
}

func NewSaga(svc *Service, sub messaging.Subscriber, log *slog.Logger) *Saga {
	if log == nil {
		log = slog.Default()
	}
	return &Saga{svc: svc, sub: sub, log: log.With(slog.String("component", "order_saga"))}
}

// Start subscribes to PaymentCreated. Calls after the first are no-ops.
func (s *Saga) Start(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.sub.Subscribe(ctx, messaging.EventPaymentCreated, s.handlePaymentCreated)
	})
	return err
}

// handlePaymentCreated marks the order PAID. An order that is already PAID is
// left alone so a redelivered PaymentCreated publishes nothing.
func (s *Saga) handlePaymentCreated(ctx context.Context, env messaging.Envelope) error {
	p, err := messaging.PayloadAs[messaging.PaymentCreated](env)
	if err != nil {
		return messaging.Permanent(err)
	}

	o, err := s.svc.Get(ctx, p.OrderID)
	if errors.Is(err, ErrNotFound) {
		return messaging.Permanent(fmt.Errorf("payment %d: order %d: %w", p.ID, p.OrderID, err))
	}
	if err != nil {
		return err
	}

	if o.Status.Is(messaging.OrderPaid) {
		s.log.Info("order_already_paid",
			slog.String("event_id", env.ID.String()),
			slog.Int64("order_id", o.ID),
		)
		return nil
	}

	if _, err := s.svc.UpdateStatus(ctx, o.ID, messaging.OrderPaid); err != nil {
		return err
	}
	s.log.Info("order_paid",
		slog.String("event_id", env.ID.String()),
		slog.Int64("order_id", o.ID),
		slog.Int64("payment_id", p.ID),
	)
	return nil
}
