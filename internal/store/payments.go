package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `payment_id, order_id, amount, currency, status, payment_date,
	gateway_name, gateway_id, gateway_response, retry_count, last_retry_at, reconciled_at,
	reconcile_failed_permanent_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.PaymentID,
		&p.OrderID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.PaymentDate,
		&p.GatewayName,
		&p.GatewayID,
		&p.GatewayResponse,
		&p.RetryCount,
		&p.LastRetryAt,
		&p.ReconciledAt,
		&p.PermanentFailAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]models.Payment, error) {
	defer rows.Close()
	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	var p *models.Payment
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		p, err = scanPayment(conn.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id=$1`, paymentID))
		return classify(err)
	})
	return p, err
}

func (s *Store) GetPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	var p *models.Payment
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		p, err = scanPayment(conn.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_id=$1`, gatewayID))
		return classify(err)
	})
	return p, err
}

func (s *Store) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	var out []models.Payment
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var err error
		out, err = listOrderPayments(ctx, conn, orderID, false)
		return classify(err)
	})
	return out, err
}

func listOrderPayments(ctx context.Context, q querier, orderID string, lock bool) ([]models.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id=$1 ORDER BY payment_date DESC, payment_id DESC`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, orderID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// CreatePayment records a new gateway event and its payment_created audit
// entry in one transaction.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) (int64, error) {
	if len(p.GatewayResponse) == 0 {
		p.GatewayResponse = json.RawMessage(`{}`)
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Now().UTC()
	}

	var id int64
	err := s.inTx(ctx, func(ctx context.Context, t *pgTx) error {
		err := t.tx.QueryRow(ctx, `
			INSERT INTO payments (
				order_id, amount, currency, status, payment_date,
				gateway_name, gateway_id, gateway_response, retry_count
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0)
			RETURNING payment_id
		`,
			p.OrderID,
			p.Amount,
			p.Currency,
			p.Status,
			p.PaymentDate,
			p.GatewayName,
			p.GatewayID,
			p.GatewayResponse,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert payment: %w", classify(err))
		}

		details, err := json.Marshal(map[string]string{
			"gateway_id":   p.GatewayID,
			"gateway_name": p.GatewayName,
			"amount":       p.Amount.String(),
			"currency":     p.Currency,
		})
		if err != nil {
			return err
		}
		orderID := p.OrderID
		return t.AppendAudit(ctx, &models.AuditLogEntry{
			PaymentID: &id,
			OrderID:   &orderID,
			Action:    models.ActionPaymentCreated,
			NewStatus: string(p.Status),
			Details:   details,
		})
	})
	if err != nil {
		return 0, err
	}
	p.PaymentID = id
	return id, nil
}

func (s *Store) ListRetryCandidates(ctx context.Context, q ledger.RetryQuery) ([]models.Payment, error) {
	var out []models.Payment
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+paymentColumns+`
			FROM payments
			WHERE retry_count < $1
				AND reconcile_failed_permanent_at IS NULL
				AND (last_retry_at IS NULL OR last_retry_at < $2)
				AND (status = 'failed' OR (reconciled_at IS NULL AND payment_date < $2))
			ORDER BY payment_date ASC, payment_id ASC
			LIMIT $3
		`, q.MaxRetries, q.Cutoff, q.Limit)
		if err != nil {
			return classify(err)
		}
		out, err = collectPayments(rows)
		return classify(err)
	})
	return out, err
}

func (s *Store) RecordRetryAttempt(ctx context.Context, paymentID int64, maxRetries int, at time.Time) (int, error) {
	var count int
	err := s.inTx(ctx, func(ctx context.Context, t *pgTx) error {
		var status models.PaymentStatus
		var orderID string
		err := t.tx.QueryRow(ctx, `
			UPDATE payments
			SET retry_count = retry_count + 1, last_retry_at = $3
			WHERE payment_id = $1 AND retry_count < $2
			RETURNING retry_count, status, order_id
		`, paymentID, maxRetries, at).Scan(&count, &status, &orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE payment_id=$1)`, paymentID).Scan(&exists); err != nil {
				return classify(err)
			}
			if exists {
				return ledger.ErrRetryExhausted
			}
			return ledger.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("record retry: %w", classify(err))
		}

		details, err := json.Marshal(map[string]int{"attempt": count, "max_retries": maxRetries})
		if err != nil {
			return err
		}
		return t.AppendAudit(ctx, &models.AuditLogEntry{
			PaymentID: &paymentID,
			OrderID:   &orderID,
			Action:    models.ActionRetryAttempted,
			OldStatus: string(status),
			NewStatus: string(status),
			Details:   details,
		})
	})
	return count, err
}

func (s *Store) MarkPermanentFailure(ctx context.Context, paymentID int64, at time.Time) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE payments SET reconcile_failed_permanent_at = $2
			WHERE payment_id = $1 AND reconciled_at IS NULL
		`, paymentID, at)
		if err != nil {
			return fmt.Errorf("mark permanent failure: %w", classify(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("mark permanent failure: payment %d: %w", paymentID, ledger.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) PaymentSummary(ctx context.Context) (models.PaymentSummary, error) {
	var sum models.PaymentSummary
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, `
			SELECT
				COUNT(*),
				COUNT(*) FILTER (WHERE status = 'success'),
				COUNT(*) FILTER (WHERE status = 'failed'),
				COUNT(*) FILTER (WHERE status = 'partial'),
				COUNT(*) FILTER (WHERE reconciled_at IS NULL),
				COALESCE(SUM(amount) FILTER (WHERE status = 'success'), 0),
				COALESCE(SUM(amount), 0)
			FROM payments
		`).Scan(
			&sum.TotalPayments,
			&sum.SuccessfulPayments,
			&sum.FailedPayments,
			&sum.PartialPayments,
			&sum.Unreconciled,
			&sum.TotalSuccessfulAmount,
			&sum.TotalAmount,
		)
		return classify(err)
	})
	return sum, err
}
