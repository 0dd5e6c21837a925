package services

import (
	"context"
	"errors"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"
)

// IdempotencyGuard looks up gateway events that were already recorded. It is
// a fast path only: concurrent deliveries are settled by the unique
// gateway_id constraint at insert time.
type IdempotencyGuard struct {
	Payments interface {
		GetPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error)
	}
}

// Check returns the existing payment id and true when gatewayID is known.
func (g IdempotencyGuard) Check(ctx context.Context, gatewayID string) (int64, bool, error) {
	p, err := g.Payments.GetPaymentByGatewayID(ctx, gatewayID)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return p.PaymentID, true, nil
}
