package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

// ServiceName is the sender id of inventory events.
const ServiceName = "phone-service"

// catalogEvents change what the search index should contain.
var catalogEvents = []string{
	messaging.EventPhoneCreated,
	messaging.EventVariantCreated,
	messaging.EventBrandUpdated,
	messaging.EventCategoryUpdated,
	messaging.EventPhoneUpdated,
	messaging.EventPhoneVariantUpdated,
}

// Saga adjusts inventory on order events and re-indexes the catalog on
// catalog events.
//
// Handler retries of one delivery resume after the last applied order line.
// A redelivery by the broker decrements stock again unless the bus carries
// the idempotency middleware.
type Saga struct {
	inventory InventoryRepository
	reingest  Reingester
	bus       messaging.EventBus
	log       *slog.Logger
	progress  *progress
	once      sync.Once
}

// NewSaga wires the phone saga. reingest may be nil when no ingestion
// endpoint is configured; catalog events are then only logged.
func NewSaga(inventory InventoryRepository, reingest Reingester, bus messaging.EventBus, log *slog.Logger) *Saga {
	if log == nil {
		log = slog.Default()
	}
	return &Saga{
		inventory: inventory,
		reingest:  reingest,
		bus:       bus,
		log:       log.With(slog.String("component", "phone_saga")),
		progress:  newProgress(),
	}
}

func (s *Saga) Start(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		if err = s.bus.Subscribe(ctx, messaging.EventOrderCreated, s.handleOrderCreated); err != nil {
			return
		}
		if err = s.bus.Subscribe(ctx, messaging.EventOrderUpdated, s.handleOrderUpdated); err != nil {
			return
		}
		for _, topic := range catalogEvents {
			if err = s.bus.Subscribe(ctx, topic, s.handleCatalogChange); err != nil {
				return
			}
		}
	})
	return err
}

func (s *Saga) handleOrderCreated(ctx context.Context, env messaging.Envelope) error {
	p, err := messaging.PayloadAs[messaging.OrderCreated](env)
	if err != nil {
		return messaging.Permanent(err)
	}

	for i, it := range p.Items {
		st := s.progress.step(env.ID, i)
		if !st.applied {
			inv, err := s.inventory.Adjust(ctx, it.VariantID, it.ColorID, -it.Quantity)
			switch {
			case errors.Is(err, ErrNotFound):
				s.logMissing(env, p.ID, it)
				st.missing = true
			case err != nil:
				return fmt.Errorf("decrement variant %d color %d: %w", it.VariantID, it.ColorID, err)
			default:
				st.stock = inv.StockQuantity
			}
			st.applied = true
		}
		if st.missing || st.lowSent || st.stock > LowStockThreshold {
			continue
		}

		low := messaging.InventoryLow{
			VariantID:     it.VariantID,
			ColorID:       it.ColorID,
			StockQuantity: st.stock,
			Threshold:     LowStockThreshold,
		}
		out := messaging.NewEnvelope(low, ServiceName, messaging.WithCorrelationID(env.CorrelationID))
		if err := s.bus.Publish(ctx, out); err != nil {
			return fmt.Errorf("publish %s: %w", out.EventName, err)
		}
		st.lowSent = true
		s.log.Warn("inventory_low",
			slog.Int64("variant_id", it.VariantID),
			slog.Int64("color_id", it.ColorID),
			slog.Int("stock_quantity", st.stock),
		)
	}
	s.progress.done(env.ID)
	return nil
}

func (s *Saga) logMissing(env messaging.Envelope, orderID int64, it messaging.OrderItem) {
	s.log.Warn("inventory_missing",
		slog.String("event_id", env.ID.String()),
		slog.Int64("order_id", orderID),
		slog.Int64("variant_id", it.VariantID),
		slog.Int64("color_id", it.ColorID),
	)
}

func (s *Saga) handleOrderUpdated(ctx context.Context, env messaging.Envelope) error {
	p, err := messaging.PayloadAs[messaging.OrderUpdated](env)
	if err != nil {
		return messaging.Permanent(err)
	}
	if !p.Status.Is(messaging.OrderCanceled) {
		return nil
	}
	if len(p.Items) == 0 {
		s.log.Warn("cancel_without_items", slog.String("event_id", env.ID.String()), slog.Int64("order_id", p.ID))
		return nil
	}

	for i, it := range p.Items {
		st := s.progress.step(env.ID, i)
		if st.applied {
			continue
		}
		inv, err := s.inventory.Adjust(ctx, it.VariantID, it.ColorID, it.Quantity)
		switch {
		case errors.Is(err, ErrNotFound):
			s.logMissing(env, p.ID, it)
		case err != nil:
			return fmt.Errorf("restock variant %d color %d: %w", it.VariantID, it.ColorID, err)
		default:
			s.log.Info("inventory_restocked",
				slog.Int64("order_id", p.ID),
				slog.Int64("variant_id", inv.VariantID),
				slog.Int("stock_quantity", inv.StockQuantity),
			)
		}
		st.applied = true
	}
	s.progress.done(env.ID)
	return nil
}

func (s *Saga) handleCatalogChange(ctx context.Context, env messaging.Envelope) error {
	if s.reingest == nil {
		s.log.Info("reingest_skipped", slog.String("event_name", env.EventName))
		return nil
	}
	if err := s.reingest.Reingest(ctx); err != nil {
		return err
	}
	s.log.Info("reingest_triggered",
		slog.String("event_id", env.ID.String()),
		slog.String("event_name", env.EventName),
	)
	return nil
}
