package payment

import (
	"context"
	"fmt"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/rpc"
)

// OrderLookup resolves the payment method of an order the event did not describe.
type OrderLookup interface {
	PaymentMethod(ctx context.Context, orderID int64) (string, error)
}

const (
	orderServiceID   = "order-service"
	patternOrderByID = "order.get_by_id"
)

type orderReply struct {
	ID            int64 `json:"id"`
	PaymentMethod *struct {
		Code string `json:"code"`
	} `json:"paymentMethod"`
}

// RPCOrderLookup asks the order service through the circuit-breaking dispatcher.
type RPCOrderLookup struct {
	dispatcher *rpc.Dispatcher
	client     rpc.Client
}

func NewRPCOrderLookup(d *rpc.Dispatcher, client rpc.Client) *RPCOrderLookup {
	return &RPCOrderLookup{dispatcher: d, client: client}
}

func (l *RPCOrderLookup) PaymentMethod(ctx context.Context, orderID int64) (string, error) {
	reply, err := rpc.Send[orderReply](ctx, l.dispatcher, l.client, orderServiceID, patternOrderByID,
		map[string]int64{"id": orderID}, nil)
	if err != nil {
		return "", fmt.Errorf("lookup order %d: %w", orderID, err)
	}
	if reply.PaymentMethod == nil {
		return "", nil
	}
	return reply.PaymentMethod.Code, nil
}
