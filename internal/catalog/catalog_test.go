package catalog_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/catalog"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/idempotency"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

var noRetry = messaging.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type countingReingester struct {
	calls atomic.Int32
	err   error
}

func (c *countingReingester) Reingest(context.Context) error {
	c.calls.Add(1)
	return c.err
}

type fixture struct {
	ctx       context.Context
	broker    *messaging.MemoryBroker
	inventory *catalog.MemoryInventory
	reingest  *countingReingester
	low       []messaging.InventoryLow
}

func start(t *testing.T, mws ...messaging.Middleware) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		broker:    messaging.NewMemoryBroker(quiet(), noRetry),
		inventory: catalog.NewMemoryInventory(),
		reingest:  &countingReingester{},
	}
	bus := f.broker.Bus(catalog.ServiceName, nil, mws...)
	require.NoError(t, catalog.NewSaga(f.inventory, f.reingest, bus, quiet()).Start(f.ctx))
	require.NoError(t, f.broker.Bus("notification-service", nil).Subscribe(f.ctx, messaging.EventInventoryLow,
		func(_ context.Context, env messaging.Envelope) error {
			p, err := messaging.PayloadAs[messaging.InventoryLow](env)
			if err != nil {
				return err
			}
			f.low = append(f.low, p)
			return nil
		}))
	return f
}

func orderCreated(id int64, items ...messaging.OrderItem) messaging.OrderCreated {
	return messaging.OrderCreated{
		ID:             id,
		CustomerID:     1,
		OrderCode:      "ORD-X",
		OrderDate:      time.Now().UTC(),
		TotalAmount:    1,
		FinalAmount:    1,
		RecipientName:  "n",
		RecipientPhone: "p",
		Status:         messaging.OrderPending,
		Street:         "s",
		CommuneID:      1,
		ProvinceID:     1,
		Items:          items,
	}
}

func item(variant, color int64, qty int) messaging.OrderItem {
	return messaging.OrderItem{OrderID: 1, VariantID: variant, ColorID: color, Quantity: qty, Price: 10}
}

func (f *fixture) stock(t *testing.T, variant, color int64) int {
	t.Helper()
	inv, err := f.inventory.Get(f.ctx, variant, color)
	require.NoError(t, err)
	return inv.StockQuantity
}

func (f *fixture) publish(t *testing.T, p messaging.Payload) messaging.Envelope {
	t.Helper()
	env := messaging.NewEnvelope(p, "order-service")
	raw, err := messaging.Encode(env)
	require.NoError(t, err)
	require.NoError(t, f.broker.PublishRaw(f.ctx, env.EventName, raw))
	return env
}

func (f *fixture) redeliver(t *testing.T, env messaging.Envelope) {
	t.Helper()
	raw, err := messaging.Encode(env)
	require.NoError(t, err)
	require.NoError(t, f.broker.PublishRaw(f.ctx, env.EventName, raw))
}

func TestOrderCreatedDecrementsAndSignalsLowStock(t *testing.T) {
	f := start(t)
	f.inventory.Set(5, 2, 12)
	f.inventory.Set(6, 1, 100)

	f.publish(t, orderCreated(1, item(5, 2, 3), item(6, 1, 1)))

	assert.Equal(t, 9, f.stock(t, 5, 2))
	assert.Equal(t, 99, f.stock(t, 6, 1))
	require.Len(t, f.low, 1)
	assert.Equal(t, messaging.InventoryLow{VariantID: 5, ColorID: 2, StockQuantity: 9, Threshold: catalog.LowStockThreshold}, f.low[0])
}

func TestLowStockFiresOnEveryDecrement(t *testing.T) {
	f := start(t)
	f.inventory.Set(5, 2, 11)

	f.publish(t, orderCreated(1, item(5, 2, 1)))
	f.publish(t, orderCreated(2, item(5, 2, 1)))

	assert.Equal(t, 9, f.stock(t, 5, 2))
	assert.Len(t, f.low, 2)
}

func TestMissingInventoryIsSkipped(t *testing.T) {
	f := start(t)
	f.inventory.Set(6, 1, 50)

	f.publish(t, orderCreated(1, item(404, 1, 2), item(6, 1, 5)))

	assert.Equal(t, 45, f.stock(t, 6, 1))
	assert.Empty(t, f.broker.DeadLetters())
}

func TestCancellationRestocks(t *testing.T) {
	f := start(t)
	f.inventory.Set(5, 2, 12)
	f.publish(t, orderCreated(1, item(5, 2, 3)))
	require.Equal(t, 9, f.stock(t, 5, 2))

	f.publish(t, messaging.OrderUpdated{ID: 1, Status: "Canceled", Items: []messaging.OrderItem{item(5, 2, 3)}})
	assert.Equal(t, 12, f.stock(t, 5, 2))

	f.publish(t, messaging.OrderUpdated{ID: 1, Status: messaging.OrderDelivered, Items: []messaging.OrderItem{item(5, 2, 3)}})
	assert.Equal(t, 12, f.stock(t, 5, 2))
}

func TestRedeliveryDecrementsTwiceWithoutDedup(t *testing.T) {
	f := start(t)
	f.inventory.Set(5, 2, 12)

	env := f.publish(t, orderCreated(1, item(5, 2, 3)))
	f.redeliver(t, env)

	assert.Equal(t, 6, f.stock(t, 5, 2))
}

func TestDedupMiddlewarePreventsDoubleDecrement(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Hour)
	f := start(t, idempotency.Middleware(catalog.ServiceName, store, quiet(), nil))
	f.inventory.Set(5, 2, 12)

	env := f.publish(t, orderCreated(1, item(5, 2, 3)))
	f.redeliver(t, env)

	assert.Equal(t, 9, f.stock(t, 5, 2))
	assert.Len(t, f.low, 1)
}

func TestCatalogEventsTriggerReingestion(t *testing.T) {
	f := start(t)
	f.publish(t, messaging.PhoneCreated{ID: 1, Name: "Pixel 9"})
	f.publish(t, messaging.VariantCreated{ID: 2, PhoneID: 1})
	f.publish(t, messaging.BrandUpdated{ID: 3, Name: "Google"})
	f.publish(t, messaging.CategoryUpdated{ID: 4, Name: "Android"})
	f.publish(t, messaging.PhoneUpdated{ID: 1, Name: "Pixel 9 Pro"})
	f.publish(t, messaging.PhoneVariantUpdated{ID: 2, PhoneID: 1})

	assert.EqualValues(t, 6, f.reingest.calls.Load())
}

func TestReingestFailureIsRetriedThenDeadLettered(t *testing.T) {
	f := start(t)
	f.reingest.err = errors.New("ingest down")
	f.publish(t, messaging.BrandUpdated{ID: 3, Name: "Google"})

	dead := f.broker.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "phone-service.BrandUpdated", dead[0].Queue)
}

func TestHTTPReingesterPosts(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, catalog.NewHTTPReingester(srv.URL).Reingest(context.Background()))
	assert.Equal(t, http.MethodPost, method)
}

func TestHTTPReingesterReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, catalog.NewHTTPReingester(srv.URL).Reingest(context.Background()))
}

var fiveRetries = messaging.RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

// flakyBus fails the next failPublishes publishes.
type flakyBus struct {
	messaging.EventBus
	failPublishes int
}

func (b *flakyBus) Publish(ctx context.Context, env messaging.Envelope) error {
	if b.failPublishes > 0 {
		b.failPublishes--
		return errors.New("channel closed")
	}
	return b.EventBus.Publish(ctx, env)
}

// flakyInventory fails the next failures adjustments of one variant.
type flakyInventory struct {
	*catalog.MemoryInventory
	variant  int64
	failures int
}

func (r *flakyInventory) Adjust(ctx context.Context, variantID, colorID int64, delta int) (catalog.Inventory, error) {
	if variantID == r.variant && r.failures > 0 {
		r.failures--
		return catalog.Inventory{}, errors.New("deadlock detected")
	}
	return r.MemoryInventory.Adjust(ctx, variantID, colorID, delta)
}

func TestRetryAfterLowStockPublishFailureDecrementsOnce(t *testing.T) {
	ctx := context.Background()
	broker := messaging.NewMemoryBroker(quiet(), fiveRetries)
	inventory := catalog.NewMemoryInventory()
	inventory.Set(5, 2, 12)
	bus := &flakyBus{EventBus: broker.Bus(catalog.ServiceName, nil), failPublishes: 1}
	require.NoError(t, catalog.NewSaga(inventory, nil, bus, quiet()).Start(ctx))

	var low []messaging.InventoryLow
	require.NoError(t, broker.Bus("notification-service", nil).Subscribe(ctx, messaging.EventInventoryLow,
		func(_ context.Context, env messaging.Envelope) error {
			p, err := messaging.PayloadAs[messaging.InventoryLow](env)
			low = append(low, p)
			return err
		}))

	env := messaging.NewEnvelope(orderCreated(1, item(5, 2, 3)), "order-service")
	require.NoError(t, broker.Bus("order-service", nil).Publish(ctx, env))

	inv, err := inventory.Get(ctx, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 9, inv.StockQuantity)
	require.Len(t, low, 1)
	assert.Equal(t, 9, low[0].StockQuantity)
	assert.Empty(t, broker.DeadLetters())
}

func TestRetryAfterPartialDecrementResumesAtFailedItem(t *testing.T) {
	ctx := context.Background()
	broker := messaging.NewMemoryBroker(quiet(), fiveRetries)
	inventory := &flakyInventory{MemoryInventory: catalog.NewMemoryInventory(), variant: 6, failures: 1}
	inventory.Set(5, 1, 50)
	inventory.Set(6, 1, 50)
	require.NoError(t, catalog.NewSaga(inventory, nil, broker.Bus(catalog.ServiceName, nil), quiet()).Start(ctx))

	order := orderCreated(1, item(5, 1, 3), item(6, 1, 3))
	require.NoError(t, broker.Bus("order-service", nil).Publish(ctx, messaging.NewEnvelope(order, "order-service")))

	v5, err := inventory.Get(ctx, 5, 1)
	require.NoError(t, err)
	v6, err := inventory.Get(ctx, 6, 1)
	require.NoError(t, err)
	assert.Equal(t, 47, v5.StockQuantity)
	assert.Equal(t, 47, v6.StockQuantity)
	assert.Empty(t, broker.DeadLetters())
}

func TestRetryAfterPartialRestockResumesAtFailedItem(t *testing.T) {
	ctx := context.Background()
	broker := messaging.NewMemoryBroker(quiet(), fiveRetries)
	inventory := &flakyInventory{MemoryInventory: catalog.NewMemoryInventory(), variant: 6, failures: 2}
	inventory.Set(5, 1, 10)
	inventory.Set(6, 1, 10)
	require.NoError(t, catalog.NewSaga(inventory, nil, broker.Bus(catalog.ServiceName, nil), quiet()).Start(ctx))

	canceled := messaging.OrderUpdated{ID: 1, Status: messaging.OrderCanceled, Items: []messaging.OrderItem{item(5, 1, 2), item(6, 1, 2)}}
	require.NoError(t, broker.Bus("order-service", nil).Publish(ctx, messaging.NewEnvelope(canceled, "order-service")))

	v5, err := inventory.Get(ctx, 5, 1)
	require.NoError(t, err)
	v6, err := inventory.Get(ctx, 6, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, v5.StockQuantity)
	assert.Equal(t, 12, v6.StockQuantity)
}
