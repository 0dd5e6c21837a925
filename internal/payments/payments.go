// Package payments applies gateway events to orders: the derived order status
// rule and the reconciliation transaction.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventPaymentReconciled = "payment.reconciled"

var ErrCurrencyMismatch = errors.New("payment currency does not match order")

// DeriveOrderStatus computes an order's status from all of its payments.
// Refunded and cancelled orders are owned by other workflows and kept as is.
func DeriveOrderStatus(order models.Order, payments []models.Payment) models.OrderStatus {
	switch order.Status {
	case models.OrderRefunded, models.OrderCancelled:
		return order.Status
	}

	covered := decimal.Zero
	var failed, pending bool
	for _, p := range payments {
		switch p.Status {
		case models.PaymentSuccess, models.PaymentPartial:
			covered = covered.Add(p.Amount)
		case models.PaymentFailed:
			failed = true
		case models.PaymentPending:
			pending = true
		}
	}

	switch {
	case covered.IsPositive() && covered.GreaterThanOrEqual(order.TotalAmount):
		return models.OrderPaid
	case covered.IsPositive():
		return models.OrderPartiallyPaid
	case failed && !pending:
		return models.OrderPaymentFailed
	default:
		return models.OrderCreated
	}
}

// ReconcileError is returned when a payment could not be reconciled. Transient
// failures are left for the retry scheduler; permanent ones need an operator.
type ReconcileError struct {
	PaymentID int64
	Transient bool
	Err       error
}

func (e *ReconcileError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("reconcile payment %d (%s): %v", e.PaymentID, kind, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// Outcome describes a committed reconciliation.
type Outcome struct {
	PaymentID int64
	OrderID   string
	OldStatus models.OrderStatus
	NewStatus models.OrderStatus
	EventID   string
}

// ReconciledEvent is the outbox payload published after commit.
type ReconciledEvent struct {
	EventID       string               `json:"event_id"`
	PaymentID     int64                `json:"payment_id"`
	OrderID       string               `json:"order_id"`
	GatewayID     string               `json:"gateway_id"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	OldStatus     models.OrderStatus   `json:"old_order_status"`
	NewStatus     models.OrderStatus   `json:"new_order_status"`
	ReconciledAt  time.Time            `json:"reconciled_at"`
}

type Reconciler struct {
	Ledger interface {
		ledger.Transactor
		AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
		MarkPermanentFailure(ctx context.Context, paymentID int64, at time.Time) error
	}
	Log *slog.Logger
	Now func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Reconcile applies a persisted payment to its order in one transaction:
// lock payment and order, recompute the order status from every payment,
// mark the payment reconciled, append the audit entry and enqueue the
// outbox event. Nothing is written unless all of it commits.
func (r *Reconciler) Reconcile(ctx context.Context, paymentID int64) (*Outcome, error) {
	var out Outcome
	err := r.Ledger.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		payment, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if payment.Currency != "" && order.Currency != "" && payment.Currency != order.Currency {
			return fmt.Errorf("%w: payment %s, order %s", ErrCurrencyMismatch, payment.Currency, order.Currency)
		}

		all, err := tx.ListOrderPayments(ctx, order.OrderID)
		if err != nil {
			return err
		}
		next := DeriveOrderStatus(*order, all)
		if next != order.Status {
			if err := tx.UpdateOrderStatus(ctx, order.OrderID, next); err != nil {
				return err
			}
		}

		now := r.now()
		if err := tx.MarkPaymentReconciled(ctx, payment.PaymentID, now); err != nil {
			return err
		}

		eventID := uuid.NewString()
		details, err := json.Marshal(map[string]any{
			"gateway_id":     payment.GatewayID,
			"payment_status": payment.Status,
			"amount":         payment.Amount.String(),
			"event_id":       eventID,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &models.AuditLogEntry{
			PaymentID: &payment.PaymentID,
			OrderID:   &order.OrderID,
			Action:    models.ActionReconciled,
			OldStatus: string(order.Status),
			NewStatus: string(next),
			Details:   details,
		}); err != nil {
			return err
		}

		payload, err := json.Marshal(ReconciledEvent{
			EventID:       eventID,
			PaymentID:     payment.PaymentID,
			OrderID:       order.OrderID,
			GatewayID:     payment.GatewayID,
			PaymentStatus: payment.Status,
			OldStatus:     order.Status,
			NewStatus:     next,
			ReconciledAt:  now,
		})
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, eventID, EventPaymentReconciled, payload); err != nil {
			return err
		}

		out = Outcome{
			PaymentID: payment.PaymentID,
			OrderID:   order.OrderID,
			OldStatus: order.Status,
			NewStatus: next,
			EventID:   eventID,
		}
		return nil
	})
	if err != nil {
		rerr := &ReconcileError{PaymentID: paymentID, Transient: ledger.IsTransient(err), Err: err}
		r.recordFailure(ctx, rerr)
		return nil, rerr
	}

	r.logger().Info("payment reconciled",
		"payment_id", out.PaymentID,
		"order_id", out.OrderID,
		"old_status", out.OldStatus,
		"new_status", out.NewStatus,
	)
	return &out, nil
}

// recordFailure writes a reconcile_failed entry outside the rolled back
// transaction, and takes permanently failed payments out of the retry queue.
// Both writes are best effort: if the ledger is down they fail too, and the
// payment stays eligible for retry.
func (r *Reconciler) recordFailure(ctx context.Context, rerr *ReconcileError) {
	log := r.logger().With("payment_id", rerr.PaymentID, "transient", rerr.Transient)
	if errors.Is(rerr.Err, ledger.ErrNotFound) && !rerr.Transient {
		log.Error("reconcile failed: payment or order missing", "err", rerr.Err)
		return
	}
	ctx = context.WithoutCancel(ctx)

	if !rerr.Transient {
		if err := r.Ledger.MarkPermanentFailure(ctx, rerr.PaymentID, r.now()); err != nil {
			log.Error("mark permanent failure failed", "err", err)
		}
	}

	details, err := json.Marshal(map[string]any{
		"transient": rerr.Transient,
		"error":     rerr.Err.Error(),
	})
	if err != nil {
		log.Error("reconcile failed", "err", rerr.Err)
		return
	}
	id := rerr.PaymentID
	entry := &models.AuditLogEntry{
		PaymentID: &id,
		Action:    models.ActionReconcileFailed,
		Details:   details,
	}
	if err := r.Ledger.AppendAudit(ctx, entry); err != nil {
		log.Error("reconcile failed; audit write failed", "err", rerr.Err, "audit_err", err)
		return
	}
	if rerr.Transient {
		log.Warn("reconcile failed, left for retry", "err", rerr.Err)
	} else {
		log.Error("reconcile failed permanently", "err", rerr.Err)
	}
}
