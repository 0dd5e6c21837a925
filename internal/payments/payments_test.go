package payments

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"
	"PaymentReconciler/internal/testutil"
)

func TestDeriveOrderStatus(t *testing.T) {
	pay := func(amount string, status models.PaymentStatus) models.Payment {
		return testutil.NewPayment("ORD1", "gw", amount, status)
	}
	order := testutil.NewOrder("ORD1", "100.00")

	tests := []struct {
		name     string
		order    models.Order
		payments []models.Payment
		want     models.OrderStatus
	}{
		{name: "no payments", order: order, want: models.OrderCreated},
		{name: "two successes cover total", order: order, payments: []models.Payment{pay("60.00", models.PaymentSuccess), pay("40.00", models.PaymentSuccess)}, want: models.OrderPaid},
		{name: "single partial amount", order: order, payments: []models.Payment{pay("60.00", models.PaymentSuccess)}, want: models.OrderPartiallyPaid},
		{name: "overpaid", order: order, payments: []models.Payment{pay("150.00", models.PaymentSuccess)}, want: models.OrderPaid},
		{name: "partial status counts", order: order, payments: []models.Payment{pay("100.00", models.PaymentPartial)}, want: models.OrderPaid},
		{name: "failed only", order: order, payments: []models.Payment{pay("100.00", models.PaymentFailed)}, want: models.OrderPaymentFailed},
		{name: "failed with pending", order: order, payments: []models.Payment{pay("100.00", models.PaymentFailed), pay("100.00", models.PaymentPending)}, want: models.OrderCreated},
		{name: "failed then partial success", order: order, payments: []models.Payment{pay("100.00", models.PaymentFailed), pay("10.00", models.PaymentSuccess)}, want: models.OrderPartiallyPaid},
		{name: "refunded payment ignored", order: order, payments: []models.Payment{pay("100.00", models.PaymentRefunded)}, want: models.OrderCreated},
		{name: "cancelled order kept", order: withStatus(order, models.OrderCancelled), payments: []models.Payment{pay("100.00", models.PaymentSuccess)}, want: models.OrderCancelled},
		{name: "refunded order kept", order: withStatus(order, models.OrderRefunded), payments: []models.Payment{pay("100.00", models.PaymentSuccess)}, want: models.OrderRefunded},
		{name: "paid order downgraded by failure", order: withStatus(order, models.OrderPaid), payments: []models.Payment{pay("100.00", models.PaymentFailed)}, want: models.OrderPaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveOrderStatus(tt.order, tt.payments); got != tt.want {
				t.Fatalf("DeriveOrderStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func withStatus(o models.Order, s models.OrderStatus) models.Order {
	o.Status = s
	return o
}

func newReconciler(l *testutil.Ledger) *Reconciler {
	return &Reconciler{Ledger: l, Log: testutil.DiscardLogger()}
}

func TestReconcile_PaidAfterTwoPayments(t *testing.T) {
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	first := l.SeedPayment(testutil.NewPayment("ORD1", "GW1", "60.00", models.PaymentSuccess))
	r := newReconciler(l)
	ctx := context.Background()

	out, err := r.Reconcile(ctx, first)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.NewStatus != models.OrderPartiallyPaid {
		t.Fatalf("status = %s, want partially_paid", out.NewStatus)
	}

	second := l.SeedPayment(testutil.NewPayment("ORD1", "GW2", "40.00", models.PaymentSuccess))
	out, err = r.Reconcile(ctx, second)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.OldStatus != models.OrderPartiallyPaid || out.NewStatus != models.OrderPaid {
		t.Fatalf("transition = %s -> %s", out.OldStatus, out.NewStatus)
	}
	if got := l.Order(t, "ORD1").Status; got != models.OrderPaid {
		t.Fatalf("order status = %s", got)
	}
	if l.Payment(t, second).ReconciledAt == nil {
		t.Fatal("payment not marked reconciled")
	}
	if l.OutboxLen() != 2 {
		t.Fatalf("outbox = %d, want 2", l.OutboxLen())
	}
	if got := l.AuditActions(second); !reflect.DeepEqual(got, []string{models.ActionReconciled}) {
		t.Fatalf("audit = %v", got)
	}
}

// A failure at any step must leave no trace of the transaction.
func TestReconcile_AtomicUnderFault(t *testing.T) {
	steps := []string{
		"tx.LockPayment",
		"tx.LockOrder",
		"tx.ListOrderPayments",
		"tx.UpdateOrderStatus",
		"tx.MarkPaymentReconciled",
		"tx.AppendAudit",
		"tx.EnqueueOutbox",
		"Commit",
	}
	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			l := testutil.NewLedger()
			l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
			id := l.SeedPayment(testutil.NewPayment("ORD1", "GW1", "100.00", models.PaymentSuccess))
			l.Fail(step, fmt.Errorf("%w: connection reset", ledger.ErrTransient))

			_, err := newReconciler(l).Reconcile(context.Background(), id)
			var rerr *ReconcileError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected ReconcileError, got %v", err)
			}
			if !rerr.Transient {
				t.Fatal("expected transient classification")
			}
			if got := l.Order(t, "ORD1").Status; got != models.OrderCreated {
				t.Fatalf("order status changed to %s", got)
			}
			if l.Payment(t, id).ReconciledAt != nil {
				t.Fatal("payment marked reconciled after rollback")
			}
			if l.OutboxLen() != 0 {
				t.Fatal("outbox row survived rollback")
			}
			if got := l.AuditActions(id); !reflect.DeepEqual(got, []string{models.ActionReconcileFailed}) {
				t.Fatalf("audit = %v, want only reconcile_failed", got)
			}
		})
	}
}

func TestReconcile_PermanentFailures(t *testing.T) {
	t.Run("currency mismatch", func(t *testing.T) {
		l := testutil.NewLedger()
		l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
		p := testutil.NewPayment("ORD1", "GW1", "100.00", models.PaymentSuccess)
		p.Currency = "EUR"
		id := l.SeedPayment(p)

		_, err := newReconciler(l).Reconcile(context.Background(), id)
		var rerr *ReconcileError
		if !errors.As(err, &rerr) || rerr.Transient {
			t.Fatalf("expected permanent ReconcileError, got %v", err)
		}
		if !errors.Is(err, ErrCurrencyMismatch) {
			t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
		}
		if got := l.AuditActions(id); !reflect.DeepEqual(got, []string{models.ActionReconcileFailed}) {
			t.Fatalf("audit = %v", got)
		}
		if l.Payment(t, id).PermanentFailAt == nil {
			t.Fatal("permanent failure not recorded on the payment")
		}
	})

	t.Run("unknown payment", func(t *testing.T) {
		l := testutil.NewLedger()
		_, err := newReconciler(l).Reconcile(context.Background(), 42)
		var rerr *ReconcileError
		if !errors.As(err, &rerr) || rerr.Transient {
			t.Fatalf("expected permanent ReconcileError, got %v", err)
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestReconcile_TransientFailureStaysRetryable(t *testing.T) {
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	id := l.SeedPayment(testutil.NewPayment("ORD1", "GW1", "100.00", models.PaymentSuccess))
	l.Fail("tx.LockOrder", fmt.Errorf("%w: lock timeout", ledger.ErrTransient))

	if _, err := newReconciler(l).Reconcile(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	if l.Payment(t, id).PermanentFailAt != nil {
		t.Fatal("transient failure marked permanent")
	}
}

func TestReconcile_TransactionCarriesDeadline(t *testing.T) {
	l := testutil.NewLedger()
	l.TxTimeout = time.Minute
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	id := l.SeedPayment(testutil.NewPayment("ORD1", "GW1", "100.00", models.PaymentSuccess))

	// The caller's context has no deadline; every statement in the
	// transaction must still be bounded.
	if _, err := newReconciler(l).Reconcile(context.Background(), id); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n := l.TxCallsWithoutDeadline(); n != 0 {
		t.Fatalf("%d transaction calls ran without a deadline", n)
	}
}

func TestReconcile_FailureAuditIsBestEffort(t *testing.T) {
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	id := l.SeedPayment(testutil.NewPayment("ORD1", "GW1", "100.00", models.PaymentSuccess))
	l.Fail("Commit", fmt.Errorf("%w: %w", ledger.ErrUnknownOutcome, ledger.ErrTransient))
	l.Fail("AppendAudit", fmt.Errorf("%w: pool closed", ledger.ErrTransient))

	_, err := newReconciler(l).Reconcile(context.Background(), id)
	if !errors.Is(err, ledger.ErrUnknownOutcome) {
		t.Fatalf("expected ErrUnknownOutcome, got %v", err)
	}
	if got := l.AuditActions(id); len(got) != 0 {
		t.Fatalf("audit = %v, want none", got)
	}
}
