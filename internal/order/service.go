package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

// ServiceName is the sender id stamped on order events and the queue prefix
// of the order saga.
const ServiceName = "order-service"

var ErrInvalidOrder = errors.New("invalid order")

// Service performs order mutations and publishes the matching event after
// the write is committed. A publish failure is returned to the caller but
// does not undo the write.
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

func (s *Service) Create(ctx context.Context, o Order) (Order, error) {
	if len(o.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	if o.OrderCode == "" {
		return Order{}, fmt.Errorf("%w: empty order code", ErrInvalidOrder)
	}
	now := s.now().UTC()
	if o.OrderDate.IsZero() {
		o.OrderDate = now
	}
	if o.Status == "" {
		o.Status = messaging.OrderPending
	}
	o.Status = o.Status.Normalize()
	o.UpdatedAt = now

	created, err := s.repo.Create(ctx, o)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}

	env := messaging.NewEnvelope(created.createdEvent(), ServiceName, messaging.WithCorrelationID(created.OrderCode))
	if err := s.pub.Publish(ctx, env); err != nil {
		s.log.Error("publish_failed",
			slog.String("event_name", env.EventName),
			slog.Int64("order_id", created.ID),
			slog.String("err", err.Error()),
		)
		return created, fmt.Errorf("order %d saved, publish %s: %w", created.ID, env.EventName, err)
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateStatus moves the order to status and publishes OrderUpdated with the
// order's items so inventory can be restocked on cancellation.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status messaging.OrderStatus) (Order, error) {
	updated, err := s.repo.UpdateStatus(ctx, id, status.Normalize(), s.now().UTC())
	if err != nil {
		return Order{}, fmt.Errorf("update order %d: %w", id, err)
	}

	env := messaging.NewEnvelope(updated.updatedEvent(), ServiceName, messaging.WithCorrelationID(updated.OrderCode))
	if err := s.pub.Publish(ctx, env); err != nil {
		s.log.Error("publish_failed",
			slog.String("event_name", env.EventName),
			slog.Int64("order_id", updated.ID),
			slog.String("err", err.Error()),
		)
		return updated, fmt.Errorf("order %d updated, publish %s: %w", updated.ID, env.EventName, err)
	}
	return updated, nil
}
