// Package ledger defines the contracts between the reconciliation core and the
// storage that backs orders, payments, refunds and the audit log.
package ledger

import (
	"context"
	"errors"
	"time"

	"PaymentReconciler/internal/models"
)

var (
	ErrNotFound       = errors.New("ledger: not found")
	ErrDuplicateEvent = errors.New("ledger: gateway event already recorded")
	ErrRetryExhausted = errors.New("ledger: max retries exceeded")

	// ErrTransient marks failures expected to succeed on retry: connection
	// loss, timeouts, lock waits and serialization conflicts.
	ErrTransient = errors.New("ledger: transient failure")

	// ErrUnknownOutcome marks a write whose commit was never acknowledged.
	// It always comes wrapped together with ErrTransient.
	ErrUnknownOutcome = errors.New("ledger: write outcome unknown")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Tx is the view of the ledger inside one atomic unit. Every write made
// through a Tx is discarded unless the surrounding InTx call commits.
type Tx interface {
	LockPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
	LockOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	MarkPaymentReconciled(ctx context.Context, paymentID int64, at time.Time) error
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	EnqueueOutbox(ctx context.Context, eventID, eventType string, payload []byte) error
}

// Transactor runs fn inside a single database transaction. A nil return from
// fn commits; anything else rolls back. fn must use the ctx it is given: it
// carries the store's call deadline.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditLog is the append-only audit trail.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	ListAuditByPayment(ctx context.Context, paymentID int64) ([]models.AuditLogEntry, error)
	ListAuditAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditLogEntry, error)
	ListRecentAudit(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
}

type Orders interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type Payments interface {
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error)
	// CreatePayment inserts the payment together with its payment_created
	// audit entry. A second insert of the same gateway id fails with
	// ErrDuplicateEvent.
	CreatePayment(ctx context.Context, p *models.Payment) (int64, error)
	ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error)
	PaymentSummary(ctx context.Context) (models.PaymentSummary, error)
}

// RetryQueue exposes payments whose reconciliation failed or never finished.
type RetryQueue interface {
	ListRetryCandidates(ctx context.Context, q RetryQuery) ([]models.Payment, error)
	// RecordRetryAttempt bumps retry_count and last_retry_at unless the
	// payment already reached maxRetries, in which case it returns
	// ErrRetryExhausted. It returns the new retry count.
	RecordRetryAttempt(ctx context.Context, paymentID int64, maxRetries int, at time.Time) (int, error)
	// MarkPermanentFailure takes the payment out of the retry queue.
	MarkPermanentFailure(ctx context.Context, paymentID int64, at time.Time) error
}

type Refunds interface {
	ListRefundsByOrder(ctx context.Context, orderID string) ([]models.Refund, error)
	ListRefundsByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error)
}

// OutboxEvent is a committed reconciliation event waiting to be published.
type OutboxEvent struct {
	ID        int64
	EventID   string
	EventType string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Outbox hands committed events to the publisher. Claimed events are leased
// so that concurrent dispatchers do not publish the same row twice.
type Outbox interface {
	ClaimOutbox(ctx context.Context, limit int, lease time.Duration) ([]OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration, cause string) error
}

// RetryQuery selects retry candidates.
type RetryQuery struct {
	MaxRetries int
	Cutoff     time.Time
	Limit      int
}

// Store is everything the service layer needs from the ledger.
type Store interface {
	Transactor
	AuditLog
	Orders
	Payments
	RetryQueue
	Refunds
	Outbox
}
