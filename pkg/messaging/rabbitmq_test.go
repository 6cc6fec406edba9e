package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

func TestPublishingCarriesEnvelopeMetadata(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	id := uuid.New()
	env := NewEnvelope(BrandUpdated{ID: 1, Name: "Apple"}, "phone-service",
		WithID(id), WithCorrelationID("ORD-1001"), WithOccurredAt(at))
	body, err := Encode(env)
	require.NoError(t, err)

	msg := publishing(env, body, "phone-service")

	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, id.String(), msg.MessageId)
	assert.Equal(t, "ORD-1001", msg.CorrelationId)
	assert.True(t, at.Equal(msg.Timestamp))
	assert.Equal(t, "phone-service", msg.AppId)
	assert.Equal(t, amqp.Table{
		"x-correlation-id": "ORD-1001",
		"x-version":        env.Version,
		"x-sender-id":      "phone-service",
	}, msg.Headers)
	assert.Equal(t, body, msg.Body)
}

func TestTopologyDeclaresDurableQueuesWithDeadLetterRouting(t *testing.T) {
	cfg := Config{ServiceName: "payment-service"}
	cfg.setDefaults()

	work, dead := cfg.topology(EventOrderCreated)

	assert.Equal(t, "payment-service.OrderCreated", work.Name)
	assert.True(t, work.Durable)
	assert.False(t, work.AutoDelete)
	assert.Equal(t, "events", work.Exchange)
	assert.Equal(t, EventOrderCreated, work.RoutingKey)
	assert.Equal(t, amqp.Table{
		"x-dead-letter-exchange":    "events.dlx",
		"x-dead-letter-routing-key": "payment-service.OrderCreated",
	}, work.Args)

	assert.Equal(t, "payment-service.OrderCreated.dead", dead.Name)
	assert.True(t, dead.Durable)
	assert.False(t, dead.AutoDelete)
	assert.Equal(t, "events.dlx", dead.Exchange)
	assert.Equal(t, work.Name, dead.RoutingKey)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ServiceName: "phone-service"}
	cfg.setDefaults()
	assert.Equal(t, DefaultExchange, cfg.Exchange)
	assert.Equal(t, 10, cfg.PrefetchCount)
	assert.Equal(t, DefaultRetryPolicy, cfg.Retry)

	custom := Config{ServiceName: "phone-service", PrefetchCount: 3, Exchange: "shop"}
	custom.setDefaults()
	assert.Equal(t, 3, custom.PrefetchCount)
	assert.Equal(t, "shop.dlx", custom.deadLetterExchange())
}

func TestEnsureConnectedDoesNotRedialLiveConnection(t *testing.T) {
	var dials atomic.Int32
	cfg := Config{ServiceName: "order-service", Metrics: telemetry.NewNopMetrics("order-service")}
	cfg.setDefaults()
	b := &Bus{
		cfg:   cfg,
		log:   testLogger(),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		conn:  &amqp.Connection{},
		pubCh: &amqp.Channel{},
		dial: func(string) (*amqp.Connection, error) {
			dials.Add(1)
			return nil, errors.New("unexpected dial")
		},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.ensureConnected(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Zero(t, dials.Load())
}

func TestEnsureConnectedSerialisesDials(t *testing.T) {
	var inFlight, peak, dials atomic.Int32
	cfg := Config{ServiceName: "order-service", Metrics: telemetry.NewNopMetrics("order-service")}
	cfg.setDefaults()
	b := &Bus{
		cfg:   cfg,
		log:   testLogger(),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		dial: func(string) (*amqp.Connection, error) {
			dials.Add(1)
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return nil, errors.New("connection refused")
		},
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Error(t, b.ensureConnected(context.Background()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 5, dials.Load())
	assert.EqualValues(t, 1, peak.Load())
	assert.Equal(t, StateDisconnected, b.State())
}
