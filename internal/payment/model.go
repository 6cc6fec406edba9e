package payment

import (
	"strings"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

const (
	MethodCOD   = messaging.PaymentMethodCOD
	MethodVNPay = "VNPAY"
)

type Method struct {
	ID   int64
	Code string
	Name string
}

type Payment struct {
	ID              int64
	OrderID         int64
	PaymentMethodID int64
	MethodCode      string
	Amount          float64
	Status          Status
	TransactionID   string
	PayDate         *time.Time
	CreatedAt       time.Time
}

func (p Payment) isPendingCOD() bool {
	return strings.EqualFold(string(p.Status), string(StatusPending)) && strings.EqualFold(p.MethodCode, MethodCOD)
}

func (p Payment) createdEvent() messaging.PaymentCreated {
	return messaging.PaymentCreated{
		ID:              p.ID,
		OrderID:         p.OrderID,
		PaymentMethodID: p.PaymentMethodID,
		Amount:          p.Amount,
		Status:          string(p.Status),
		TransactionID:   p.TransactionID,
		PayDate:         p.PayDate,
	}
}
