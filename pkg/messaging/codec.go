package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type wireEnvelope struct {
	ID            string    `json:"id"`
	EventName     string    `json:"eventName"`
	Payload       Payload   `json:"payload"`
	OccurredAt    time.Time `json:"occurredAt"`
	SenderID      string    `json:"senderId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Version       string    `json:"version"`
}

// Encode serialises an envelope to its wire JSON form. The result is checked
// against the same schema consumers apply, so a payload every subscriber
// would dead-letter (e.g. OrderCreated without items) fails here with
// *ValidationError instead.
func Encode(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		return nil, fmt.Errorf("encode envelope %s: nil payload", env.ID)
	}
	raw, err := json.Marshal(wireEnvelope{
		ID:            env.ID.String(),
		EventName:     env.EventName,
		Payload:       env.Payload,
		OccurredAt:    env.OccurredAt,
		SenderID:      env.SenderID,
		CorrelationID: env.CorrelationID,
		Version:       env.Version,
	})
	if err != nil {
		return nil, err
	}
	if _, err := Decode(raw); err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.EventName, err)
	}
	return raw, nil
}

type decodeFunc func(o *object) Payload

var decoders = map[string]decodeFunc{
	EventOrderCreated:        decodeOrderCreated,
	EventOrderUpdated:        decodeOrderUpdated,
	EventPaymentCreated:      decodePaymentCreated,
	EventInventoryLow:        decodeInventoryLow,
	EventPhoneCreated:        decodePhoneCreated,
	EventPhoneUpdated:        decodePhoneUpdated,
	EventVariantCreated:      decodeVariantCreated,
	EventPhoneVariantUpdated: decodePhoneVariantUpdated,
	EventBrandUpdated:        decodeBrandUpdated,
	EventCategoryUpdated:     decodeCategoryUpdated,
}

// Known reports whether an event name has a registered decoder.
func Known(eventName string) bool {
	_, ok := decoders[eventName]
	return ok
}

// Decode parses wire JSON into an envelope with a typed payload. It fails
// with *ValidationError or *UnknownEventError and never returns a partially
// populated envelope.
func Decode(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Envelope{}, &ValidationError{Field: "$", Reason: "malformed JSON: " + err.Error()}
	}
	if m == nil {
		return Envelope{}, &ValidationError{Field: "$", Reason: "expected object"}
	}

	top := newObject("", "", m)
	name := top.String("eventName")
	rawID := top.OptString("id")
	occurredAt := top.OptTime("occurredAt")
	env := Envelope{
		EventName:     name,
		SenderID:      top.OptString("senderId"),
		CorrelationID: top.OptString("correlationId"),
		Version:       top.OptString("version"),
	}
	body := top.Object("payload")
	if err := top.Err(); err != nil {
		return Envelope{}, err
	}

	decode, ok := decoders[name]
	if !ok {
		return Envelope{}, &UnknownEventError{EventName: name}
	}

	if rawID != "" {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return Envelope{}, &ValidationError{EventName: name, Field: "id", Reason: "expected UUID, got " + rawID}
		}
		env.ID = id
	} else {
		env.ID = uuid.New()
	}
	if occurredAt != nil {
		env.OccurredAt = *occurredAt
	} else {
		env.OccurredAt = time.Now().UTC()
	}
	if env.Version == "" {
		env.Version = DefaultVersion
	}

	body.event = name
	body.path = ""
	payload := decode(body)
	if err := body.Err(); err != nil {
		return Envelope{}, err
	}
	env.Payload = payload
	return env, nil
}

func decodeItems(objs []*object) []OrderItem {
	if objs == nil {
		return nil
	}
	items := make([]OrderItem, 0, len(objs))
	for _, it := range objs {
		items = append(items, OrderItem{
			OrderID:   it.Int64("orderId"),
			VariantID: it.Int64("variantId"),
			ColorID:   it.Int64("colorId"),
			Quantity:  it.Int("quantity"),
			Price:     it.Float("price"),
			Discount:  it.OptFloat("discount"),
		})
	}
	return items
}

func decodeOrderCreated(o *object) Payload {
	p := OrderCreated{
		ID:              o.Int64("id"),
		CustomerID:      o.Int64("customerId"),
		OrderCode:       o.String("orderCode"),
		OrderDate:       o.Time("orderDate"),
		TotalAmount:     o.Float("totalAmount"),
		ShippingFee:     o.OptFloat("shippingFee"),
		DiscountAmount:  o.OptFloat("discountAmount"),
		FinalAmount:     o.Float("finalAmount"),
		RecipientName:   o.String("recipientName"),
		RecipientPhone:  o.String("recipientPhone"),
		Status:          OrderStatus(o.String("status")),
		Street:          o.String("street"),
		CommuneID:       o.Int64("communeId"),
		ProvinceID:      o.Int64("provinceId"),
		PostalCode:      o.OptString("postalCode"),
		Note:            o.OptString("note"),
		PaymentMethodID: o.OptInt64("paymentMethodId"),
	}
	if pm := o.OptObject("paymentMethod"); pm != nil {
		p.PaymentMethod = &PaymentMethodRef{
			ID:   pm.OptInt64("id"),
			Code: pm.String("code"),
			Name: pm.OptString("name"),
		}
	}
	p.Items = decodeItems(o.Objects("items"))
	return p
}

func decodeOrderUpdated(o *object) Payload {
	return OrderUpdated{
		ID:         o.Int64("id"),
		CustomerID: o.OptInt64("customerId"),
		OrderCode:  o.OptString("orderCode"),
		Status:     OrderStatus(o.String("status")),
		Items:      decodeItems(o.OptObjects("items")),
		UpdatedAt:  o.OptTime("updatedAt"),
	}
}

func decodePaymentCreated(o *object) Payload {
	return PaymentCreated{
		ID:              o.Int64("id"),
		OrderID:         o.Int64("orderId"),
		PaymentMethodID: o.OptInt64("paymentMethodId"),
		Amount:          o.Float("amount"),
		Status:          o.String("status"),
		TransactionID:   o.OptString("transactionId"),
		PayDate:         o.OptTime("payDate"),
	}
}

func decodeInventoryLow(o *object) Payload {
	return InventoryLow{
		VariantID:     o.Int64("variantId"),
		ColorID:       o.Int64("colorId"),
		StockQuantity: o.Int("stockQuantity"),
		Threshold:     o.OptInt("threshold"),
	}
}

func decodePhoneCreated(o *object) Payload {
	return PhoneCreated{
		ID:         o.Int64("id"),
		Name:       o.String("name"),
		BrandID:    o.OptInt64("brandId"),
		CategoryID: o.OptInt64("categoryId"),
	}
}

func decodePhoneUpdated(o *object) Payload {
	return PhoneUpdated{
		ID:         o.Int64("id"),
		Name:       o.String("name"),
		BrandID:    o.OptInt64("brandId"),
		CategoryID: o.OptInt64("categoryId"),
	}
}

func decodeVariantCreated(o *object) Payload {
	return VariantCreated{
		ID:          o.Int64("id"),
		PhoneID:     o.Int64("phoneId"),
		VariantName: o.OptString("variantName"),
	}
}

func decodePhoneVariantUpdated(o *object) Payload {
	return PhoneVariantUpdated{
		ID:          o.Int64("id"),
		PhoneID:     o.Int64("phoneId"),
		VariantName: o.OptString("variantName"),
	}
}

func decodeBrandUpdated(o *object) Payload {
	return BrandUpdated{ID: o.Int64("id"), Name: o.String("name")}
}

func decodeCategoryUpdated(o *object) Payload {
	return CategoryUpdated{ID: o.Int64("id"), Name: o.String("name")}
}
