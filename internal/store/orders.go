package store

import (
	"context"

	"PaymentReconciler/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `order_id, customer_id, total_amount, currency, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.OrderID,
		&o.CustomerID,
		&o.TotalAmount,
		&o.Currency,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o *models.Order
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		o, err = scanOrder(conn.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID))
		return classify(err)
	})
	return o, err
}

// CreateOrder is used by seeding tools; order management lives elsewhere.
func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO orders (order_id, customer_id, total_amount, currency, status)
			VALUES ($1,$2,$3,$4,$5)
		`,
			o.OrderID,
			o.CustomerID,
			o.TotalAmount,
			o.Currency,
			o.Status,
		)
		return classify(err)
	})
}
