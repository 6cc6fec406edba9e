package order

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]Order
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{orders: make(map[int64]Order)}
}

func (r *MemoryRepo) Create(_ context.Context, o Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == 0 {
		r.nextID++
		o.ID = r.nextID
	} else if o.ID > r.nextID {
		r.nextID = o.ID
	}
	o.Items = slices.Clone(o.Items)
	r.orders[o.ID] = o
	return o, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id int64, status messaging.OrderStatus, at time.Time) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	r.orders[id] = o
	o.Items = slices.Clone(o.Items)
	return o, nil
}
