package payment

import (
	"context"
	"strings"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	payments []Payment
	methods  []Method
}

// NewMemoryRepo returns a repository seeded with the COD and VNPAY methods.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{methods: []Method{
		{ID: 1, Code: MethodCOD, Name: "Cash on delivery"},
		{ID: 2, Code: MethodVNPay, Name: "VNPay"},
	}}
}

func (r *MemoryRepo) Create(_ context.Context, p Payment) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	r.payments = append(r.payments, p)
	return p, nil
}

func (r *MemoryRepo) ListByOrder(_ context.Context, orderID int64) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id int64, status Status, payDate *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.payments {
		if r.payments[i].ID == id {
			r.payments[i].Status = status
			if payDate != nil {
				r.payments[i].PayDate = payDate
			}
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) MethodByCode(_ context.Context, code string) (Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.methods {
		if strings.EqualFold(m.Code, code) {
			return m, nil
		}
	}
	return Method{}, ErrNotFound
}
