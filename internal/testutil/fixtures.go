package testutil

import (
	"io"
	"log/slog"
	"time"

	"PaymentReconciler/internal/models"

	"github.com/shopspring/decimal"
)

// Amount parses s and panics on malformed input.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewOrder returns a created USD order.
func NewOrder(id, total string) models.Order {
	now := time.Now().UTC()
	return models.Order{
		OrderID:     id,
		CustomerID:  "cust-" + id,
		TotalAmount: Amount(total),
		Currency:    "USD",
		Status:      models.OrderCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewPayment returns an unreconciled USD payment for orderID.
func NewPayment(orderID, gatewayID, amount string, status models.PaymentStatus) models.Payment {
	return models.Payment{
		OrderID:     orderID,
		Amount:      Amount(amount),
		Currency:    "USD",
		Status:      status,
		PaymentDate: time.Now().UTC(),
		GatewayName: "razorpay",
		GatewayID:   gatewayID,
	}
}
