package order

import (
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

type Item struct {
	VariantID int64
	ColorID   int64
	Quantity  int
	Price     float64
	Discount  float64
}

type Order struct {
	ID             int64
	CustomerID     int64
	OrderCode      string
	OrderDate      time.Time
	TotalAmount    float64
	ShippingFee    float64
	DiscountAmount float64
	FinalAmount    float64
	RecipientName  string
	RecipientPhone string
	Status         messaging.OrderStatus
	Street         string
	CommuneID      int64
	ProvinceID     int64
	PostalCode     string
	Note           string
	// PaymentMethod is the method code chosen at checkout, e.g. COD.
	PaymentMethod string
	Items         []Item
	UpdatedAt     time.Time
}

func (o Order) eventItems() []messaging.OrderItem {
	items := make([]messaging.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, messaging.OrderItem{
			OrderID:   o.ID,
			VariantID: it.VariantID,
			ColorID:   it.ColorID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Discount:  it.Discount,
		})
	}
	return items
}

func (o Order) createdEvent() messaging.OrderCreated {
	ev := messaging.OrderCreated{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		OrderCode:      o.OrderCode,
		OrderDate:      o.OrderDate,
		TotalAmount:    o.TotalAmount,
		ShippingFee:    o.ShippingFee,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		RecipientName:  o.RecipientName,
		RecipientPhone: o.RecipientPhone,
		Status:         o.Status,
		Street:         o.Street,
		CommuneID:      o.CommuneID,
		ProvinceID:     o.ProvinceID,
		PostalCode:     o.PostalCode,
		Note:           o.Note,
		Items:          o.eventItems(),
	}
	if o.PaymentMethod != "" {
		ev.PaymentMethod = &messaging.PaymentMethodRef{Code: o.PaymentMethod}
	}
	return ev
}

func (o Order) updatedEvent() messaging.OrderUpdated {
	at := o.UpdatedAt
	return messaging.OrderUpdated{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		OrderCode:  o.OrderCode,
		Status:     o.Status,
		Items:      o.eventItems(),
		UpdatedAt:  &at,
	}
}
