package payment

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("payment not found")

type Repository interface {
	Create(ctx context.Context, p Payment) (Payment, error)
	ListByOrder(ctx context.Context, orderID int64) ([]Payment, error)
	UpdateStatus(ctx context.Context, id int64, status Status, payDate *time.Time) error
	MethodByCode(ctx context.Context, code string) (Method, error)
}
