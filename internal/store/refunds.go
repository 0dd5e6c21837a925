package store

import (
	"context"

	"PaymentReconciler/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

const refundColumns = `refund_id, payment_id, order_id, amount, COALESCE(reason, ''), status, gateway_refund_id, refund_date`

func (s *Store) ListRefundsByOrder(ctx context.Context, orderID string) ([]models.Refund, error) {
	return s.listRefunds(ctx, `SELECT `+refundColumns+` FROM refunds WHERE order_id=$1 ORDER BY refund_date DESC`, orderID)
}

func (s *Store) ListRefundsByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	return s.listRefunds(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id=$1 ORDER BY refund_date DESC`, paymentID)
}

func (s *Store) listRefunds(ctx context.Context, sql string, arg any) ([]models.Refund, error) {
	var out []models.Refund
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, sql, arg)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			var r models.Refund
			if err := rows.Scan(
				&r.RefundID,
				&r.PaymentID,
				&r.OrderID,
				&r.Amount,
				&r.Reason,
				&r.Status,
				&r.GatewayRefundID,
				&r.RefundDate,
			); err != nil {
				return classify(err)
			}
			out = append(out, r)
		}
		return classify(rows.Err())
	})
	return out, err
}
