package messaging

import (
	"strings"
	"time"
)

// Event names. Each one is also the routing key on the events exchange.
const (
	EventOrderCreated        = "OrderCreated"
	EventOrderUpdated        = "OrderUpdated"
	EventPaymentCreated      = "PaymentCreated"
	EventInventoryLow        = "InventoryLow"
	EventPhoneCreated        = "PhoneCreated"
	EventPhoneUpdated        = "PhoneUpdated"
	EventVariantCreated      = "VariantCreated"
	EventPhoneVariantUpdated = "PhoneVariantUpdated"
	EventBrandUpdated        = "BrandUpdated"
	EventCategoryUpdated     = "CategoryUpdated"
)

// OrderStatus is the order lifecycle state carried by order events.
// Producers are not consistent about casing, so compare with Is.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderPaid       OrderStatus = "PAID"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCanceled   OrderStatus = "CANCELED"
	OrderFailed     OrderStatus = "FAILED"
)

// Is compares two statuses ignoring case.
func (s OrderStatus) Is(other OrderStatus) bool {
	return strings.EqualFold(string(s), string(other))
}

// Normalize returns the canonical upper-case form.
func (s OrderStatus) Normalize() OrderStatus {
	return OrderStatus(strings.ToUpper(strings.TrimSpace(string(s))))
}

// PaymentMethodCOD is the cash-on-delivery payment method code.
const PaymentMethodCOD = "COD"

type OrderItem struct {
	OrderID   int64   `json:"orderId"`
	VariantID int64   `json:"variantId"`
	ColorID   int64   `json:"colorId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Discount  float64 `json:"discount,omitempty"`
}

type PaymentMethodRef struct {
	ID   int64  `json:"id,omitempty"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

type OrderCreated struct {
	ID              int64             `json:"id"`
	CustomerID      int64             `json:"customerId"`
	OrderCode       string            `json:"orderCode"`
	OrderDate       time.Time         `json:"orderDate"`
	TotalAmount     float64           `json:"totalAmount"`
	ShippingFee     float64           `json:"shippingFee,omitempty"`
	DiscountAmount  float64           `json:"discountAmount,omitempty"`
	FinalAmount     float64           `json:"finalAmount"`
	RecipientName   string            `json:"recipientName"`
	RecipientPhone  string            `json:"recipientPhone"`
	Status          OrderStatus       `json:"status"`
	Street          string            `json:"street"`
	CommuneID       int64             `json:"communeId"`
	ProvinceID      int64             `json:"provinceId"`
	PostalCode      string            `json:"postalCode,omitempty"`
	Note            string            `json:"note,omitempty"`
	PaymentMethodID int64             `json:"paymentMethodId,omitempty"`
	PaymentMethod   *PaymentMethodRef `json:"paymentMethod,omitempty"`
	Items           []OrderItem       `json:"items"`
}

func (OrderCreated) EventName() string { return EventOrderCreated }

type OrderUpdated struct {
	ID         int64       `json:"id"`
	CustomerID int64       `json:"customerId,omitempty"`
	OrderCode  string      `json:"orderCode,omitempty"`
	Status     OrderStatus `json:"status"`
	Items      []OrderItem `json:"items,omitempty"`
	UpdatedAt  *time.Time  `json:"updatedAt,omitempty"`
}

func (OrderUpdated) EventName() string { return EventOrderUpdated }

type PaymentCreated struct {
	ID              int64      `json:"id"`
	OrderID         int64      `json:"orderId"`
	PaymentMethodID int64      `json:"paymentMethodId,omitempty"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	TransactionID   string     `json:"transactionId,omitempty"`
	PayDate         *time.Time `json:"payDate,omitempty"`
}

func (PaymentCreated) EventName() string { return EventPaymentCreated }

// InventoryLow is emitted whenever a decrement leaves stock at or below the threshold.
type InventoryLow struct {
	VariantID     int64 `json:"variantId"`
	ColorID       int64 `json:"colorId"`
	StockQuantity int   `json:"stockQuantity"`
	Threshold     int   `json:"threshold,omitempty"`
}

func (InventoryLow) EventName() string { return EventInventoryLow }

type PhoneCreated struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	BrandID    int64  `json:"brandId,omitempty"`
	CategoryID int64  `json:"categoryId,omitempty"`
}

func (PhoneCreated) EventName() string { return EventPhoneCreated }

type PhoneUpdated struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	BrandID    int64  `json:"brandId,omitempty"`
	CategoryID int64  `json:"categoryId,omitempty"`
}

func (PhoneUpdated) EventName() string { return EventPhoneUpdated }

type VariantCreated struct {
	ID          int64  `json:"id"`
	PhoneID     int64  `json:"phoneId"`
	VariantName string `json:"variantName,omitempty"`
}

func (VariantCreated) EventName() string { return EventVariantCreated }

type PhoneVariantUpdated struct {
	ID          int64  `json:"id"`
	PhoneID     int64  `json:"phoneId"`
	VariantName string `json:"variantName,omitempty"`
}

func (PhoneVariantUpdated) EventName() string { return EventPhoneVariantUpdated }

type BrandUpdated struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (BrandUpdated) EventName() string { return EventBrandUpdated }

type CategoryUpdated struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (CategoryUpdated) EventName() string { return EventCategoryUpdated }
