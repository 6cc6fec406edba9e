package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/payment"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

var noRetry = messaging.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func orderCreated(id int64, method string) messaging.OrderCreated {
	p := messaging.OrderCreated{
		ID:             id,
		CustomerID:     7,
		OrderCode:      "ORD-77",
		OrderDate:      time.Now().UTC(),
		TotalAmount:    500,
		FinalAmount:    480,
		RecipientName:  "Le Van C",
		RecipientPhone: "0922222222",
		Status:         messaging.OrderPending,
		Street:         "3 Hai Ba Trung",
		CommuneID:      1,
		ProvinceID:     1,
		Items:          []messaging.OrderItem{{OrderID: id, VariantID: 1, ColorID: 1, Quantity: 1, Price: 480}},
	}
	if method != "" {
		p.PaymentMethod = &messaging.PaymentMethodRef{Code: method}
	}
	return p
}

type stubLookup struct {
	code  string
	err   error
	calls int
}

func (s *stubLookup) PaymentMethod(context.Context, int64) (string, error) {
	s.calls++
	return s.code, s.err
}

type fixture struct {
	ctx    context.Context
	broker *messaging.MemoryBroker
	bus    *messaging.MemoryBus
	repo   *payment.MemoryRepo
}

func start(t *testing.T, lookup payment.OrderLookup) fixture {
	t.Helper()
	f := fixture{
		ctx:    context.Background(),
		broker: messaging.NewMemoryBroker(quiet(), noRetry),
		repo:   payment.NewMemoryRepo(),
	}
	f.bus = f.broker.Bus(payment.ServiceName, nil)
	require.NoError(t, payment.NewSaga(f.repo, lookup, f.bus, quiet()).Start(f.ctx))
	return f
}

func (f fixture) publish(t *testing.T, p messaging.Payload) {
	t.Helper()
	require.NoError(t, f.bus.Publish(f.ctx, messaging.NewEnvelope(p, "order-service")))
}

func TestCODOrderCreatesOnePendingPayment(t *testing.T) {
	f := start(t, nil)
	f.publish(t, orderCreated(42, "cod"))

	payments, err := f.repo.ListByOrder(f.ctx, 42)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	p := payments[0]
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, 480.0, p.Amount)
	assert.Equal(t, payment.MethodCOD, p.MethodCode)
	assert.True(t, strings.HasPrefix(p.TransactionID, "COD-ORD-77-"), p.TransactionID)
	assert.Nil(t, p.PayDate)

	f.publish(t, orderCreated(42, "COD"))
	payments, _ = f.repo.ListByOrder(f.ctx, 42)
	assert.Len(t, payments, 1)
}

func TestNonCODOrderIsIgnored(t *testing.T) {
	f := start(t, nil)
	f.publish(t, orderCreated(43, payment.MethodVNPay))

	payments, err := f.repo.ListByOrder(f.ctx, 43)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestMissingMethodIsResolvedThroughLookup(t *testing.T) {
	lookup := &stubLookup{code: "COD"}
	f := start(t, lookup)
	f.publish(t, orderCreated(44, ""))

	assert.Equal(t, 1, lookup.calls)
	payments, _ := f.repo.ListByOrder(f.ctx, 44)
	assert.Len(t, payments, 1)
}

func TestLookupFailureDeadLetters(t *testing.T) {
	lookup := &stubLookup{err: errors.New("order-service unavailable")}
	f := start(t, lookup)
	f.publish(t, orderCreated(45, ""))

	assert.Len(t, f.broker.DeadLetters(), 1)
	payments, _ := f.repo.ListByOrder(f.ctx, 45)
	assert.Empty(t, payments)
}

func TestDeliveredCompletesPendingCOD(t *testing.T) {
	f := start(t, nil)
	f.publish(t, orderCreated(50, "COD"))
	f.publish(t, messaging.OrderUpdated{ID: 50, Status: "delivered"})

	payments, _ := f.repo.ListByOrder(f.ctx, 50)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.StatusCompleted, payments[0].Status)
	require.NotNil(t, payments[0].PayDate)
}

func TestFailedOrderFailsPendingCOD(t *testing.T) {
	f := start(t, nil)
	f.publish(t, orderCreated(51, "COD"))
	f.publish(t, messaging.OrderUpdated{ID: 51, Status: messaging.OrderFailed})

	payments, _ := f.repo.ListByOrder(f.ctx, 51)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.StatusFailed, payments[0].Status)
	assert.Nil(t, payments[0].PayDate)
}

func TestOtherStatusesLeavePaymentsAlone(t *testing.T) {
	f := start(t, nil)
	f.publish(t, orderCreated(52, "COD"))
	for _, st := range []messaging.OrderStatus{messaging.OrderPaid, messaging.OrderShipped, messaging.OrderCanceled} {
		f.publish(t, messaging.OrderUpdated{ID: 52, Status: st})
	}

	payments, _ := f.repo.ListByOrder(f.ctx, 52)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.StatusPending, payments[0].Status)
}

func TestSettledPaymentsAreNotTouchedAgain(t *testing.T) {
	f := start(t, nil)
	f.publish(t, orderCreated(53, "COD"))
	f.publish(t, messaging.OrderUpdated{ID: 53, Status: messaging.OrderDelivered})
	f.publish(t, messaging.OrderUpdated{ID: 53, Status: messaging.OrderFailed})

	payments, _ := f.repo.ListByOrder(f.ctx, 53)
	assert.Equal(t, payment.StatusCompleted, payments[0].Status)
}

func TestRecordGatewayPaymentPublishesOnlyCompleted(t *testing.T) {
	ctx := context.Background()
	broker := messaging.NewMemoryBroker(quiet(), noRetry)
	var got []messaging.Envelope
	require.NoError(t, broker.Bus("order-service", nil).Subscribe(ctx, messaging.EventPaymentCreated,
		func(_ context.Context, env messaging.Envelope) error {
			got = append(got, env)
			return nil
		}))

	repo := payment.NewMemoryRepo()
	svc := payment.NewService(repo, broker.Bus(payment.ServiceName, nil), quiet())

	failed, err := svc.RecordGatewayPayment(ctx, payment.GatewayResult{OrderID: 60, Amount: 100, TransactionID: "VNP-1"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, failed.Status)
	assert.Empty(t, got)

	paidAt := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	ok, err := svc.RecordGatewayPayment(ctx, payment.GatewayResult{OrderID: 60, Amount: 100, TransactionID: "VNP-2", Success: true, PaidAt: paidAt})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, ok.Status)

	require.Len(t, got, 1)
	p, err := messaging.PayloadAs[messaging.PaymentCreated](got[0])
	require.NoError(t, err)
	assert.Equal(t, int64(60), p.OrderID)
	assert.Equal(t, "COMPLETED", p.Status)
	assert.Equal(t, "VNP-2", p.TransactionID)
	require.NotNil(t, p.PayDate)
	assert.True(t, paidAt.Equal(*p.PayDate))
	assert.Equal(t, "VNP-2", got[0].CorrelationID)
}
