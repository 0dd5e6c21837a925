package services

import (
	"context"
	"errors"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"
)

var ErrPaymentNotFound = errors.New("payment not found")

const recentActivityLimit = 10

// LedgerViews serves the read side. Composite views are built from
// sequential calls and the first failure aborts the view.
type LedgerViews struct {
	Ledger ledger.Store
	Now    func() time.Time
}

type OrderDetails struct {
	Order    models.Order
	Payments []models.Payment
	Refunds  []models.Refund
}

type PaymentDetails struct {
	Payment   models.Payment
	Order     models.Order
	Refunds   []models.Refund
	AuditLogs []models.AuditLogEntry
}

type WebhookStats struct {
	Summary        models.PaymentSummary
	RecentActivity []models.AuditLogEntry
	Timestamp      time.Time
}

func (v LedgerViews) OrderDetails(ctx context.Context, orderID string) (*OrderDetails, error) {
	order, err := v.Ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, notFoundAs(err, ErrOrderNotFound)
	}
	pays, err := v.Ledger.ListOrderPayments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	refunds, err := v.Ledger.ListRefundsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Order: *order, Payments: pays, Refunds: refunds}, nil
}

func (v LedgerViews) OrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	if _, err := v.Ledger.GetOrder(ctx, orderID); err != nil {
		return nil, notFoundAs(err, ErrOrderNotFound)
	}
	return v.Ledger.ListOrderPayments(ctx, orderID)
}

func (v LedgerViews) PaymentDetails(ctx context.Context, paymentID int64) (*PaymentDetails, error) {
	payment, err := v.Ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, notFoundAs(err, ErrPaymentNotFound)
	}
	order, err := v.Ledger.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, notFoundAs(err, ErrOrderNotFound)
	}
	refunds, err := v.Ledger.ListRefundsByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	logs, err := v.Ledger.ListAuditByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &PaymentDetails{Payment: *payment, Order: *order, Refunds: refunds, AuditLogs: logs}, nil
}

func (v LedgerViews) PaymentAuditLogs(ctx context.Context, paymentID int64) ([]models.AuditLogEntry, error) {
	if _, err := v.Ledger.GetPayment(ctx, paymentID); err != nil {
		return nil, notFoundAs(err, ErrPaymentNotFound)
	}
	return v.Ledger.ListAuditByPayment(ctx, paymentID)
}

func (v LedgerViews) Stats(ctx context.Context) (*WebhookStats, error) {
	sum, err := v.Ledger.PaymentSummary(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := v.Ledger.ListRecentAudit(ctx, recentActivityLimit)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	return &WebhookStats{Summary: sum, RecentActivity: recent, Timestamp: now}, nil
}

func notFoundAs(err, target error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return target
	}
	return err
}
