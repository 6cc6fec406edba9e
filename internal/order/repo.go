package order

import (
	"context"
	"errors"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

var ErrNotFound = errors.New("order not found")

type Repository interface {
	Create(ctx context.Context, o Order) (Order, error)
	GetByID(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, id int64, status messaging.OrderStatus, at time.Time) (Order, error)
}
