package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"
	"PaymentReconciler/internal/payments"
	"PaymentReconciler/internal/testutil"
)

func newScheduler(l *testutil.Ledger, now time.Time) *RetryScheduler {
	return &RetryScheduler{
		Queue:       l,
		Reconciler:  &payments.Reconciler{Ledger: l, Log: testutil.DiscardLogger()},
		MaxRetries:  3,
		Cooldown:    5 * time.Minute,
		BatchSize:   100,
		Concurrency: 4,
		Log:         testutil.DiscardLogger(),
		Now:         func() time.Time { return now },
	}
}

func oldPayment(orderID, gw, amount string, status models.PaymentStatus, age time.Duration, now time.Time) models.Payment {
	p := testutil.NewPayment(orderID, gw, amount, status)
	p.PaymentDate = now.Add(-age)
	return p
}

func TestRetryScheduler_SelectsEligible(t *testing.T) {
	now := time.Now().UTC()
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))

	unreconciled := l.SeedPayment(oldPayment("ORD1", "GW1", "100.00", models.PaymentSuccess, time.Hour, now))

	fresh := l.SeedPayment(oldPayment("ORD1", "GW2", "5.00", models.PaymentSuccess, time.Minute, now))

	exhausted := oldPayment("ORD1", "GW3", "5.00", models.PaymentFailed, time.Hour, now)
	exhausted.RetryCount = 3
	longAgo := now.Add(-30 * 24 * time.Hour)
	exhausted.LastRetryAt = &longAgo
	exhaustedID := l.SeedPayment(exhausted)

	cooling := oldPayment("ORD1", "GW4", "5.00", models.PaymentFailed, time.Hour, now)
	recent := now.Add(-time.Minute)
	cooling.LastRetryAt = &recent
	coolingID := l.SeedPayment(cooling)

	sum, err := newScheduler(l, now).RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.Results) != 1 || sum.Results[0].PaymentID != unreconciled {
		t.Fatalf("results = %+v, want only payment %d", sum.Results, unreconciled)
	}
	if sum.Message != "Retry completed: 1 successful, 0 failed" {
		t.Fatalf("message = %q", sum.Message)
	}
	if got := l.Order(t, "ORD1").Status; got != models.OrderPaid {
		t.Fatalf("order status = %s", got)
	}
	if p := l.Payment(t, unreconciled); p.RetryCount != 1 || p.LastRetryAt == nil || p.ReconciledAt == nil {
		t.Fatalf("retried payment = %+v", p)
	}
	for _, id := range []int64{fresh, exhaustedID, coolingID} {
		if p := l.Payment(t, id); p.ReconciledAt != nil {
			t.Fatalf("payment %d should not have been retried", id)
		}
	}
	if p := l.Payment(t, exhaustedID); p.RetryCount != 3 {
		t.Fatalf("exhausted retry_count = %d", p.RetryCount)
	}
}

func TestRetryScheduler_NothingToRetry(t *testing.T) {
	l := testutil.NewLedger()
	sum, err := newScheduler(l, time.Now()).RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Message != "No failed payments to retry" || len(sum.Results) != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

// Repeated runs stop selecting a payment once it reaches the limit.
func TestRetryScheduler_BoundedAttempts(t *testing.T) {
	now := time.Now().UTC()
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	id := l.SeedPayment(oldPayment("ORD1", "GW1", "100.00", models.PaymentFailed, time.Hour, now))

	for i := 0; i < 3; i++ {
		l.Fail("tx.LockPayment", fmt.Errorf("%w: lock timeout", ledger.ErrTransient))
	}

	clock := now
	s := newScheduler(l, now)
	s.Now = func() time.Time { return clock }
	for run := 1; run <= 5; run++ {
		sum, err := s.RunOnce(context.Background(), 0)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		wantResults := 1
		if run > 3 {
			wantResults = 0
		}
		if len(sum.Results) != wantResults {
			t.Fatalf("run %d: results = %+v", run, sum.Results)
		}
		clock = clock.Add(10 * time.Minute)
	}
	if p := l.Payment(t, id); p.RetryCount != 3 {
		t.Fatalf("retry_count = %d, want 3", p.RetryCount)
	}
}

func TestRetryScheduler_RequestedMaxIsCapped(t *testing.T) {
	s := &RetryScheduler{MaxRetries: 3}
	for requested, want := range map[int]int{0: 3, -1: 3, 1: 1, 3: 3, 50: 3} {
		if got := s.EffectiveMax(requested); got != want {
			t.Fatalf("EffectiveMax(%d) = %d, want %d", requested, got, want)
		}
	}
}

func TestRetryScheduler_OneFailureDoesNotAbortOthers(t *testing.T) {
	now := time.Now().UTC()
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	l.SeedOrder(testutil.NewOrder("ORD2", "50.00"))
	l.SeedPayment(oldPayment("ORD1", "GW1", "100.00", models.PaymentSuccess, 2*time.Hour, now))
	l.SeedPayment(oldPayment("ORD2", "GW2", "50.00", models.PaymentSuccess, time.Hour, now))
	l.Fail("RecordRetryAttempt", fmt.Errorf("%w: connection reset", ledger.ErrTransient))

	s := newScheduler(l, now)
	s.Concurrency = 1
	sum, err := s.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Results[0].Status != RetryFailed || sum.Results[0].Error == "" {
		t.Fatalf("first result = %+v", sum.Results[0])
	}
	if got := l.Order(t, "ORD2").Status; got != models.OrderPaid {
		t.Fatalf("ORD2 status = %s", got)
	}
}

func TestRetryScheduler_SkipsPermanentFailures(t *testing.T) {
	now := time.Now().UTC()
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))

	mismatch := oldPayment("ORD1", "GW1", "100.00", models.PaymentSuccess, time.Hour, now)
	mismatch.Currency = "EUR"
	mismatchID := l.SeedPayment(mismatch)
	failedMismatch := oldPayment("ORD1", "GW2", "100.00", models.PaymentFailed, time.Hour, now)
	failedMismatch.Currency = "EUR"
	failedMismatchID := l.SeedPayment(failedMismatch)

	rec := &payments.Reconciler{Ledger: l, Log: testutil.DiscardLogger()}
	for _, id := range []int64{mismatchID, failedMismatchID} {
		if _, err := rec.Reconcile(context.Background(), id); !errors.Is(err, payments.ErrCurrencyMismatch) {
			t.Fatalf("reconcile %d: %v", id, err)
		}
	}

	s := newScheduler(l, now)
	for run := 0; run < 2; run++ {
		sum, err := s.RunOnce(context.Background(), 0)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(sum.Results) != 0 || sum.Message != "No failed payments to retry" {
			t.Fatalf("run %d retried permanent failures: %+v", run, sum)
		}
		now = now.Add(time.Hour)
		s.Now = func() time.Time { return now }
	}
	for _, id := range []int64{mismatchID, failedMismatchID} {
		if got := l.AuditActions(id); len(got) != 1 || got[0] != models.ActionReconcileFailed {
			t.Fatalf("payment %d audit = %v", id, got)
		}
		if p := l.Payment(t, id); p.RetryCount != 0 {
			t.Fatalf("payment %d retry_count = %d", id, p.RetryCount)
		}
	}
}

func TestRetryScheduler_ListFailure(t *testing.T) {
	l := testutil.NewLedger()
	l.Fail("ListRetryCandidates", errors.New("down"))
	if _, err := newScheduler(l, time.Now()).RunOnce(context.Background(), 0); err == nil {
		t.Fatal("expected error")
	}
}

type fakePublisher struct {
	mu    sync.Mutex
	fail  int
	keys  []string
	calls int
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestOutboxDispatcher(t *testing.T) {
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	id := l.SeedPayment(testutil.NewPayment("ORD1", "GW1", "100.00", models.PaymentSuccess))
	if _, err := (&payments.Reconciler{Ledger: l, Log: testutil.DiscardLogger()}).Reconcile(context.Background(), id); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pub := &fakePublisher{fail: 1}
	d := &OutboxDispatcher{Outbox: l, Publisher: pub, BatchSize: 10, Lease: time.Nanosecond, Log: testutil.DiscardLogger()}

	n, err := d.DispatchOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("first dispatch = %d, %v", n, err)
	}
	if l.OutboxSent() != 0 {
		t.Fatal("failed publish marked as sent")
	}

	// The failed event is parked for its backoff.
	n, err = d.DispatchOnce(context.Background())
	if err != nil || n != 0 || pub.calls != 1 {
		t.Fatalf("dispatch during backoff = %d, %v, calls %d", n, err, pub.calls)
	}

	ok := &fakePublisher{}
	l2 := testutil.NewLedger()
	l2.SeedOrder(testutil.NewOrder("ORD2", "10.00"))
	id2 := l2.SeedPayment(testutil.NewPayment("ORD2", "GW2", "10.00", models.PaymentSuccess))
	if _, err := (&payments.Reconciler{Ledger: l2, Log: testutil.DiscardLogger()}).Reconcile(context.Background(), id2); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	d = &OutboxDispatcher{Outbox: l2, Publisher: ok, BatchSize: 10, Log: testutil.DiscardLogger()}
	n, err = d.DispatchOnce(context.Background())
	if err != nil || n != 1 || l2.OutboxSent() != 1 {
		t.Fatalf("dispatch = %d, %v", n, err)
	}
	if len(ok.keys) != 1 || ok.keys[0] != payments.EventPaymentReconciled {
		t.Fatalf("routing keys = %v", ok.keys)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{-1: time.Second, 0: time.Second, 1: 2 * time.Second, 5: 32 * time.Second, 9: 32 * time.Second}
	for attempts, want := range cases {
		if got := retryDelay(attempts); got != want {
			t.Fatalf("retryDelay(%d) = %s, want %s", attempts, got, want)
		}
	}
}
