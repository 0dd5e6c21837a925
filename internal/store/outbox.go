package store

import (
	"context"
	"time"

	"PaymentReconciler/internal/ledger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClaimOutbox leases up to limit unsent events for lease. Concurrent
// dispatchers skip rows another one already holds.
func (s *Store) ClaimOutbox(ctx context.Context, limit int, lease time.Duration) ([]ledger.OutboxEvent, error) {
	var out []ledger.OutboxEvent
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE reconciliation_outbox o
			SET attempts = o.attempts + 1, next_attempt_at = now() + $2::interval
			WHERE o.id IN (
				SELECT id FROM reconciliation_outbox
				WHERE sent_at IS NULL AND next_attempt_at <= now()
				ORDER BY id
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING o.id, o.event_id, o.event_type, o.payload, o.attempts, o.created_at
		`, limit, lease)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			var e ledger.OutboxEvent
			if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
				return classify(err)
			}
			out = append(out, e)
		}
		return classify(rows.Err())
	})
	return out, err
}

func (s *Store) MarkOutboxSent(ctx context.Context, id int64) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `UPDATE reconciliation_outbox SET sent_at=now(), last_error=NULL WHERE id=$1`, id)
		return classify(err)
	})
}

// MarkOutboxRetry records a failed publish and pushes the next attempt out
// by backoff.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration, cause string) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE reconciliation_outbox
			SET next_attempt_at = now() + $2::interval, last_error = $3
			WHERE id = $1
		`, id, backoff, cause)
		return classify(err)
	})
}
