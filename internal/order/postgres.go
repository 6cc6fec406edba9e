package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/messaging"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, o Order) (Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO orders (customer_id, order_code, order_date, total_amount, shipping_fee, discount_amount,
    final_amount, recipient_name, recipient_phone, status, street, commune_id, province_id,
    postal_code, note, payment_method, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING id;
`
	err = tx.QueryRowContext(ctx, q,
		o.CustomerID, o.OrderCode, o.OrderDate, o.TotalAmount, o.ShippingFee, o.DiscountAmount,
		o.FinalAmount, o.RecipientName, o.RecipientPhone, string(o.Status), o.Street, o.CommuneID, o.ProvinceID,
		o.PostalCode, o.Note, o.PaymentMethod, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	const qi = `
INSERT INTO order_items (order_id, variant_id, color_id, quantity, price, discount)
VALUES ($1,$2,$3,$4,$5,$6);
`
	for _, it := range o.Items {
		if _, err := tx.ExecContext(ctx, qi, o.ID, it.VariantID, it.ColorID, it.Quantity, it.Price, it.Discount); err != nil {
			return Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id int64) (Order, error) {
	const q = `
SELECT id, customer_id, order_code, order_date, total_amount, shipping_fee, discount_amount,
    final_amount, recipient_name, recipient_phone, status, street, commune_id, province_id,
    postal_code, note, payment_method, updated_at
FROM orders
WHERE id = $1;
`
	var o Order
	var status string
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.CustomerID, &o.OrderCode, &o.OrderDate, &o.TotalAmount, &o.ShippingFee, &o.DiscountAmount,
		&o.FinalAmount, &o.RecipientName, &o.RecipientPhone, &status, &o.Street, &o.CommuneID, &o.ProvinceID,
		&o.PostalCode, &o.Note, &o.PaymentMethod, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Status = messaging.OrderStatus(status)

	items, err := r.items(ctx, id)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

func (r *PostgresRepo) items(ctx context.Context, orderID int64) ([]Item, error) {
	const q = `
SELECT variant_id, color_id, quantity, price, discount
FROM order_items
WHERE order_id = $1
ORDER BY variant_id, color_id;
`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.VariantID, &it.ColorID, &it.Quantity, &it.Price, &it.Discount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id int64, status messaging.OrderStatus, at time.Time) (Order, error) {
	const q = `
UPDATE orders
SET status = $2, updated_at = $3
WHERE id = $1;
`
	res, err := r.db.ExecContext(ctx, q, id, string(status), at)
	if err != nil {
		return Order{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Order{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}
