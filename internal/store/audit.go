package store

import (
	"context"
	"encoding/json"
	"fmt"

	"PaymentReconciler/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditColumns = `log_id, payment_id, order_id, action,
	COALESCE(old_status, ''), COALESCE(new_status, ''), log_time, details`

func scanAudit(row pgx.Row) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	err := row.Scan(
		&e.LogID,
		&e.PaymentID,
		&e.OrderID,
		&e.Action,
		&e.OldStatus,
		&e.NewStatus,
		&e.LogTime,
		&e.Details,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectAudit(rows pgx.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()
	var out []models.AuditLogEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// appendAudit inserts entry and fills LogID and LogTime from the database.
func appendAudit(ctx context.Context, q querier, entry *models.AuditLogEntry) error {
	if len(entry.Details) == 0 {
		entry.Details = json.RawMessage(`{}`)
	}
	return q.QueryRow(ctx, `
		INSERT INTO payment_audit_log (payment_id, order_id, action, old_status, new_status, details)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING log_id, log_time
	`,
		entry.PaymentID,
		entry.OrderID,
		entry.Action,
		nullIfEmpty(entry.OldStatus),
		nullIfEmpty(entry.NewStatus),
		entry.Details,
	).Scan(&entry.LogID, &entry.LogTime)
}

// AppendAudit writes a standalone audit entry outside any reconciliation
// transaction.
func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		if err := appendAudit(ctx, conn, entry); err != nil {
			return fmt.Errorf("append audit: %w", classify(err))
		}
		return nil
	})
}

func (s *Store) ListAuditByPayment(ctx context.Context, paymentID int64) ([]models.AuditLogEntry, error) {
	return s.listAudit(ctx, `SELECT `+auditColumns+` FROM payment_audit_log
		WHERE payment_id=$1 ORDER BY log_time DESC, log_id DESC`, paymentID)
}

// ListAuditAfter returns entries with log_id greater than afterID in
// ascending order. Used to tail the log.
func (s *Store) ListAuditAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditLogEntry, error) {
	return s.listAudit(ctx, `SELECT `+auditColumns+` FROM payment_audit_log
		WHERE log_id > $1 ORDER BY log_id ASC LIMIT $2`, afterID, limit)
}

func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	return s.listAudit(ctx, `SELECT `+auditColumns+` FROM payment_audit_log
		ORDER BY log_id DESC LIMIT $1`, limit)
}

func (s *Store) listAudit(ctx context.Context, sql string, args ...any) ([]models.AuditLogEntry, error) {
	var out []models.AuditLogEntry
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return classify(err)
		}
		out, err = collectAudit(rows)
		return classify(err)
	})
	return out, err
}
