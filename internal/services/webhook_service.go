package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"
	"PaymentReconciler/internal/payments"
	"PaymentReconciler/internal/signature"
	"PaymentReconciler/internal/validation"

	validatorv10 "github.com/go-playground/validator/v10"
)

var (
	ErrUnauthorized   = errors.New("invalid webhook signature")
	ErrInvalidRequest = errors.New("invalid webhook request")
	ErrOrderNotFound  = errors.New("order not found")

	// ErrPaymentNotRecorded means the payment insert failed and nothing was
	// written. Re-delivery is safe.
	ErrPaymentNotRecorded = errors.New("payment not recorded")
)

type IngestStatus string

const (
	StatusProcessed            IngestStatus = "processed"
	StatusAlreadyProcessed     IngestStatus = "already_processed"
	StatusAcceptedPendingRetry IngestStatus = "accepted_pending_retry"
	StatusProcessingFailed     IngestStatus = "processing_failed"
)

// IngestResult is the outcome of a webhook that reached the ledger.
type IngestResult struct {
	Status      IngestStatus
	PaymentID   int64
	OrderStatus models.OrderStatus
	// Err is the reconciliation failure for pending or failed outcomes.
	Err error
}

type WebhookService struct {
	Ledger interface {
		ledger.Orders
		ledger.Payments
	}
	Guard           IdempotencyGuard
	Reconciler      *payments.Reconciler
	Verifier        signature.Verifier
	Validate        *validatorv10.Validate
	DefaultCurrency string
	DefaultGateway  string
	Log             *slog.Logger
}

func (s *WebhookService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Ingest authenticates, validates and records one gateway event, then
// reconciles it. Infrastructure failures after the payment is stored do not
// fail the request: the payment stays eligible for the retry scheduler.
func (s *WebhookService) Ingest(ctx context.Context, body []byte, sig string) (*IngestResult, error) {
	if !s.Verifier.Verify(body, sig) {
		s.logger().Warn("webhook signature rejected", "security_event", true, "signature_present", sig != "")
		return nil, ErrUnauthorized
	}

	req, err := validation.DecodeWebhook(s.Validate, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	log := s.logger().With("gateway_id", req.GatewayID, "order_id", req.OrderID)

	if existing, dup, err := s.Guard.Check(ctx, req.GatewayID); err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	} else if dup {
		log.Info("webhook already processed", "payment_id", existing)
		return &IngestResult{Status: StatusAlreadyProcessed, PaymentID: existing}, nil
	}

	if _, err := s.Ledger.GetOrder(ctx, req.OrderID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	payment := s.newPayment(req)
	paymentID, err := s.Ledger.CreatePayment(ctx, payment)
	switch {
	case errors.Is(err, ledger.ErrDuplicateEvent):
		// Lost the race against a concurrent delivery of the same event.
		existing, dup, lerr := s.Guard.Check(ctx, req.GatewayID)
		if lerr != nil || !dup {
			return nil, fmt.Errorf("lookup after duplicate insert: %w", errors.Join(err, lerr))
		}
		log.Info("webhook already processed (concurrent duplicate)", "payment_id", existing)
		return &IngestResult{Status: StatusAlreadyProcessed, PaymentID: existing}, nil
	case errors.Is(err, ledger.ErrNotFound):
		return nil, ErrOrderNotFound
	case err != nil:
		if errors.Is(err, ledger.ErrUnknownOutcome) {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPaymentNotRecorded, err)
	}
	log = log.With("payment_id", paymentID)

	out, err := s.Reconciler.Reconcile(ctx, paymentID)
	if err != nil {
		var rerr *payments.ReconcileError
		if errors.As(err, &rerr) && rerr.Transient {
			return &IngestResult{Status: StatusAcceptedPendingRetry, PaymentID: paymentID, Err: err}, nil
		}
		return &IngestResult{Status: StatusProcessingFailed, PaymentID: paymentID, Err: err}, nil
	}
	log.Info("webhook processed", "order_status", out.NewStatus)
	return &IngestResult{Status: StatusProcessed, PaymentID: paymentID, OrderStatus: out.NewStatus}, nil
}

func (s *WebhookService) newPayment(req *validation.WebhookRequest) *models.Payment {
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.DefaultCurrency
	}
	gateway := req.GatewayName
	if gateway == "" {
		gateway = s.DefaultGateway
	}
	resp := req.GatewayResponse
	if len(resp) == 0 || string(resp) == "null" {
		resp = json.RawMessage(`{}`)
	}
	return &models.Payment{
		OrderID:         req.OrderID,
		Amount:          req.Amount,
		Currency:        currency,
		Status:          models.PaymentStatus(req.Status),
		PaymentDate:     time.Now().UTC(),
		GatewayName:     gateway,
		GatewayID:       req.GatewayID,
		GatewayResponse: resp,
	}
}
