package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, p Payment) (Payment, error) {
	const q = `
INSERT INTO payments (order_id, payment_method_id, amount, status, transaction_id, pay_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id;
`
	err := r.db.QueryRowContext(ctx, q,
		p.OrderID, p.PaymentMethodID, p.Amount, string(p.Status), p.TransactionID, p.PayDate, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

func (r *PostgresRepo) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	const q = `
SELECT p.id, p.order_id, p.payment_method_id, m.code, p.amount, p.status, p.transaction_id, p.pay_date, p.created_at
FROM payments p
JOIN payment_methods m ON m.id = p.payment_method_id
WHERE p.order_id = $1
ORDER BY p.id;
`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Payment
	for rows.Next() {
		var p Payment
		var status string
		var payDate sql.NullTime
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PaymentMethodID, &p.MethodCode, &p.Amount, &status,
			&p.TransactionID, &payDate, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Status = Status(status)
		if payDate.Valid {
			t := payDate.Time
			p.PayDate = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id int64, status Status, payDate *time.Time) error {
	const q = `
UPDATE payments
SET status = $2, pay_date = COALESCE($3, pay_date)
WHERE id = $1;
`
	res, err := r.db.ExecContext(ctx, q, id, string(status), payDate)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) MethodByCode(ctx context.Context, code string) (Method, error) {
	const q = `
SELECT id, code, name
FROM payment_methods
WHERE upper(code) = upper($1);
`
	var m Method
	err := r.db.QueryRowContext(ctx, q, code).Scan(&m.ID, &m.Code, &m.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Method{}, ErrNotFound
		}
		return Method{}, err
	}
	return m, nil
}
