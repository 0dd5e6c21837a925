package store

import (
	"context"
	"fmt"
	"time"

	"PaymentReconciler/internal/models"

	"github.com/jackc/pgx/v5"
)

// pgTx implements ledger.Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id=$1 FOR UPDATE`, paymentID))
	if err != nil {
		return nil, fmt.Errorf("lock payment %d: %w", paymentID, classify(err))
	}
	return p, nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, classify(err))
	}
	return o, nil
}

func (t *pgTx) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	out, err := listOrderPayments(ctx, t.tx, orderID, true)
	if err != nil {
		return nil, fmt.Errorf("list order payments: %w", classify(err))
	}
	return out, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE order_id=$1
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order status: %w", classify(pgx.ErrNoRows))
	}
	return nil
}

func (t *pgTx) MarkPaymentReconciled(ctx context.Context, paymentID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE payments SET reconciled_at=$2, reconcile_failed_permanent_at=NULL WHERE payment_id=$1`, paymentID, at)
	if err != nil {
		return fmt.Errorf("mark payment reconciled: %w", classify(err))
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := appendAudit(ctx, t.tx, entry); err != nil {
		return fmt.Errorf("append audit: %w", classify(err))
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, eventID, eventType string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reconciliation_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)
	`, eventID, eventType, payload)
	if err != nil {
		return fmt.Errorf("enqueue outbox: %w", classify(err))
	}
	return nil
}
