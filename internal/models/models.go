package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated       OrderStatus = "created"
	OrderPaid          OrderStatus = "paid"
	OrderPartiallyPaid OrderStatus = "partially_paid"
	OrderPaymentFailed OrderStatus = "payment_failed"
	OrderRefunded      OrderStatus = "refunded"
	OrderCancelled     OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentPartial   PaymentStatus = "partial"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

// PaymentStatuses lists every status a gateway may report.
var PaymentStatuses = []PaymentStatus{
	PaymentPending,
	PaymentSuccess,
	PaymentFailed,
	PaymentPartial,
	PaymentRefunded,
	PaymentCancelled,
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSuccess   RefundStatus = "success"
	RefundFailed    RefundStatus = "failed"
	RefundCancelled RefundStatus = "cancelled"
)

// Audit actions written by the reconciliation core.
const (
	ActionPaymentCreated  = "payment_created"
	ActionReconciled      = "reconciled"
	ActionReconcileFailed = "reconcile_failed"
	ActionRetryAttempted  = "retry_attempted"
)

type Order struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Payment struct {
	PaymentID       int64           `json:"payment_id"`
	OrderID         string          `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          PaymentStatus   `json:"status"`
	PaymentDate     time.Time       `json:"payment_date"`
	GatewayName     string          `json:"gateway_name"`
	GatewayID       string          `json:"gateway_id"`
	GatewayResponse json.RawMessage `json:"gateway_response"`
	RetryCount      int             `json:"retry_count"`
	LastRetryAt     *time.Time      `json:"last_retry_at,omitempty"`
	ReconciledAt    *time.Time      `json:"reconciled_at,omitempty"`
	// PermanentFailAt is set when reconciliation failed for a reason a retry
	// cannot clear. Such payments wait for an operator.
	PermanentFailAt *time.Time      `json:"reconcile_failed_permanent_at,omitempty"`
}

type Refund struct {
	RefundID        int64           `json:"refund_id"`
	PaymentID       int64           `json:"payment_id"`
	OrderID         string          `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason,omitempty"`
	Status          RefundStatus    `json:"status"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty"`
	RefundDate      time.Time       `json:"refund_date"`
}

type AuditLogEntry struct {
	LogID     int64           `json:"log_id"`
	PaymentID *int64          `json:"payment_id,omitempty"`
	OrderID   *string         `json:"order_id,omitempty"`
	Action    string          `json:"action"`
	OldStatus string          `json:"old_status,omitempty"`
	NewStatus string          `json:"new_status,omitempty"`
	LogTime   time.Time       `json:"log_time"`
	Details   json.RawMessage `json:"details"`
}

// PaymentSummary aggregates the payments table for operator stats.
type PaymentSummary struct {
	TotalPayments         int64           `json:"total_payments"`
	SuccessfulPayments    int64           `json:"successful_payments"`
	FailedPayments        int64           `json:"failed_payments"`
	PartialPayments       int64           `json:"partial_payments"`
	Unreconciled          int64           `json:"unreconciled_payments"`
	TotalSuccessfulAmount decimal.Decimal `json:"total_successful_amount"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
}
