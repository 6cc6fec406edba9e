package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

// ServiceName is the sender id of payment events.
const ServiceName = "payment-service"

// GatewayResult is the verified outcome of a VNPay return or IPN callback.
type GatewayResult struct {
	OrderID       int64
	Amount        float64
	TransactionID string
	Success       bool
	PaidAt        time.Time
}

type Service struct {
	repo Repository
	pub  messaging.Publisher
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, pub messaging.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, pub: pub, log: log, now: time.Now}
}

// RecordGatewayPayment stores a VNPay payment in its terminal state and
// publishes PaymentCreated when it completed.
func (s *Service) RecordGatewayPayment(ctx context.Context, r GatewayResult) (Payment, error) {
	method, err := s.repo.MethodByCode(ctx, MethodVNPay)
	if err != nil {
		return Payment{}, fmt.Errorf("resolve VNPAY method: %w", err)
	}

	p := Payment{
		OrderID:         r.OrderID,
		PaymentMethodID: method.ID,
		MethodCode:      method.Code,
		Amount:          r.Amount,
		Status:          StatusFailed,
		TransactionID:   r.TransactionID,
		CreatedAt:       s.now().UTC(),
	}
	if r.Success {
		paid := r.PaidAt.UTC()
		if r.PaidAt.IsZero() {
			paid = p.CreatedAt
		}
		p.Status = StatusCompleted
		p.PayDate = &paid
	}

	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return Payment{}, fmt.Errorf("record payment: %w", err)
	}
	if created.Status != StatusCompleted {
		return created, nil
	}

	env := messaging.NewEnvelope(created.createdEvent(), ServiceName, messaging.WithCorrelationID(r.TransactionID))
	if err := s.pub.Publish(ctx, env); err != nil {
		s.log.Error("publish_failed",
			slog.String("event_name", env.EventName),
			slog.Int64("payment_id", created.ID),
			slog.String("err", err.Error()),
		)
		return created, fmt.Errorf("payment %d saved, publish %s: %w", created.ID, env.EventName, err)
	}
	return created, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}
