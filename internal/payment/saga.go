package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

// Saga keeps COD payments in step with the order lifecycle.
type Saga struct {
	repo   Repository
	orders OrderLookup
	sub    messaging.Subscriber
	log    *slog.Logger
	now    func() time.Time
	once   sync.Once
}

// NewSaga wires the payment saga. orders may be nil when every OrderCreated
// is expected to carry its payment method.
func NewSaga(repo Repository, orders OrderLookup, sub messaging.Subscriber, log *slog.Logger) *Saga {
	if log == nil {
		log = slog.Default()
	}
	return &Saga{
		repo:   repo,
		orders: orders,
		sub:    sub,
		log:    log.With(slog.String("component", "payment_saga")),
		now:    time.Now,
	}
}

// Start subscribes to OrderCreated and OrderUpdated once.
func (s *Saga) Start(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		if err = s.sub.Subscribe(ctx, messaging.EventOrderCreated, s.handleOrderCreated); err != nil {
			return
		}
		err = s.sub.Subscribe(ctx, messaging.EventOrderUpdated, s.handleOrderUpdated)
	})
	return err
}

func (s *Saga) paymentMethod(ctx context.Context, p messaging.OrderCreated) (string, error) {
	if p.PaymentMethod != nil && p.PaymentMethod.Code != "" {
		return p.PaymentMethod.Code, nil
	}
	if s.orders == nil {
		return "", nil
	}
	return s.orders.PaymentMethod(ctx, p.ID)
}

func (s *Saga) handleOrderCreated(ctx context.Context, env messaging.Envelope) error {
	p, err := messaging.PayloadAs[messaging.OrderCreated](env)
	if err != nil {
		return messaging.Permanent(err)
	}

	code, err := s.paymentMethod(ctx, p)
	if err != nil {
		return err
	}
	if !strings.EqualFold(code, MethodCOD) {
		s.log.Debug("non_cod_order_skipped", slog.Int64("order_id", p.ID), slog.String("method", code))
		return nil
	}

	existing, err := s.repo.ListByOrder(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		s.log.Info("payment_exists",
			slog.String("event_id", env.ID.String()),
			slog.Int64("order_id", p.ID),
		)
		return nil
	}

	method, err := s.repo.MethodByCode(ctx, MethodCOD)
	if err != nil {
		return fmt.Errorf("resolve COD method: %w", err)
	}
	now := s.now().UTC()
	created, err := s.repo.Create(ctx, Payment{
		OrderID:         p.ID,
		PaymentMethodID: method.ID,
		MethodCode:      method.Code,
		Amount:          p.FinalAmount,
		Status:          StatusPending,
		TransactionID:   fmt.Sprintf("COD-%s-%d", p.OrderCode, now.UnixMilli()),
		CreatedAt:       now,
	})
	if err != nil {
		return err
	}
	s.log.Info("cod_payment_created",
		slog.String("event_id", env.ID.String()),
		slog.Int64("order_id", p.ID),
		slog.Int64("payment_id", created.ID),
	)
	return nil
}

func (s *Saga) handleOrderUpdated(ctx context.Context, env messaging.Envelope) error {
	p, err := messaging.PayloadAs[messaging.OrderUpdated](env)
	if err != nil {
		return messaging.Permanent(err)
	}

	var next Status
	switch {
	case p.Status.Is(messaging.OrderDelivered):
		next = StatusCompleted
	case p.Status.Is(messaging.OrderFailed):
		next = StatusFailed
	default:
		return nil
	}

	payments, err := s.repo.ListByOrder(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, pay := range payments {
		if !pay.isPendingCOD() {
			continue
		}
		var payDate *time.Time
		if next == StatusCompleted {
			t := s.now().UTC()
			payDate = &t
		}
		if err := s.repo.UpdateStatus(ctx, pay.ID, next, payDate); err != nil {
			return fmt.Errorf("update payment %d: %w", pay.ID, err)
		}
		s.log.Info("cod_payment_settled",
			slog.String("event_id", env.ID.String()),
			slog.Int64("order_id", p.ID),
			slog.Int64("payment_id", pay.ID),
			slog.String("status", string(next)),
		)
	}
	return nil
}
