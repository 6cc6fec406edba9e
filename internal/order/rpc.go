package order

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/rpc"
)

// PatternGetByID is the request pattern answered with a View.
const PatternGetByID = "order.get_by_id"

type GetByIDRequest struct {
	ID int64 `json:"id"`
}

// View is the read model other services fetch over RPC.
type View struct {
	ID            int64                       `json:"id"`
	OrderCode     string                      `json:"orderCode"`
	Status        messaging.OrderStatus       `json:"status"`
	FinalAmount   float64                     `json:"finalAmount"`
	PaymentMethod *messaging.PaymentMethodRef `json:"paymentMethod,omitempty"`
}

func viewOf(o Order) View {
	v := View{ID: o.ID, OrderCode: o.OrderCode, Status: o.Status, FinalAmount: o.FinalAmount}
	if o.PaymentMethod != "" {
		v.PaymentMethod = &messaging.PaymentMethodRef{Code: o.PaymentMethod}
	}
	return v
}

// RegisterRPC serves order lookups on srv.
func RegisterRPC(srv *rpc.Server, svc *Service) {
	srv.Handle(PatternGetByID, func(ctx context.Context, data json.RawMessage) (any, error) {
		var req GetByIDRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID <= 0 {
			return nil, rpc.BadRequest("expected {\"id\": <positive integer>}")
		}
		o, err := svc.Get(ctx, req.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, rpc.NotFound("order %d not found", req.ID)
		}
		if err != nil {
			return nil, err
		}
		return viewOf(o), nil
	})
}
