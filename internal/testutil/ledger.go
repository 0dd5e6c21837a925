// Package testutil provides an in-memory ledger with fault injection for
// package tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"

	"github.com/shopspring/decimal"
)

// Ledger is an in-memory ledger.Store. Transactions run one at a time on a
// copy of the state that replaces the original only on commit.
type Ledger struct {
	mu     sync.Mutex
	state  *state
	faults map[string][]error

	// OnCall, when set, runs before every operation and outside the lock.
	OnCall func(op string)

	// TxTimeout, when set, bounds each transaction the way the SQL store's
	// call timeout does.
	TxTimeout time.Duration

	undeadlined int
}

type state struct {
	orders        map[string]models.Order
	payments      map[int64]models.Payment
	refunds       []models.Refund
	audit         []models.AuditLogEntry
	outbox        []outboxRow
	nextPaymentID int64
	nextLogID     int64
	nextOutboxID  int64
}

type outboxRow struct {
	ledger.OutboxEvent
	SentAt    *time.Time
	NotBefore time.Time
	LastError string
}

var _ ledger.Store = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		state: &state{
			orders:   map[string]models.Order{},
			payments: map[int64]models.Payment{},
		},
		faults: map[string][]error{},
	}
}

func (s *state) clone() *state {
	c := *s
	c.orders = make(map[string]models.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.payments = make(map[int64]models.Payment, len(s.payments))
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.refunds = append([]models.Refund(nil), s.refunds...)
	c.audit = append([]models.AuditLogEntry(nil), s.audit...)
	c.outbox = append([]outboxRow(nil), s.outbox...)
	return &c
}

// Fail queues err to be returned by the next call of op. Queue several to
// fail several calls in a row. Operation names match the method names;
// transaction methods are prefixed with "tx." and the commit is "Commit".
func (l *Ledger) Fail(op string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], errs...)
}

// fault pops a queued error for op. Callers hold l.mu.
func (l *Ledger) fault(op string) error {
	q := l.faults[op]
	if len(q) == 0 {
		return nil
	}
	l.faults[op] = q[1:]
	return q[0]
}

func (l *Ledger) enter(op string) {
	if l.OnCall != nil {
		l.OnCall(op)
	}
	l.mu.Lock()
}

// SeedOrder stores o as is.
func (l *Ledger) SeedOrder(o models.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.Status == "" {
		o.Status = models.OrderCreated
	}
	l.state.orders[o.OrderID] = o
}

// SeedPayment stores p without an audit entry and returns its id.
func (l *Ledger) SeedPayment(p models.Payment) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.nextPaymentID++
	p.PaymentID = l.state.nextPaymentID
	if p.Currency == "" {
		p.Currency = "USD"
	}
	l.state.payments[p.PaymentID] = p
	return p.PaymentID
}

func (l *Ledger) SeedRefund(r models.Refund) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.RefundID = int64(len(l.state.refunds) + 1)
	l.state.refunds = append(l.state.refunds, r)
}

// Order returns the committed order.
func (l *Ledger) Order(t *testing.T, orderID string) models.Order {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.state.orders[orderID]
	if !ok {
		t.Fatalf("order %s not found", orderID)
	}
	return o
}

// Payment returns the committed payment.
func (l *Ledger) Payment(t *testing.T, paymentID int64) models.Payment {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.payments[paymentID]
	if !ok {
		t.Fatalf("payment %d not found", paymentID)
	}
	return p
}

func (l *Ledger) PaymentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.payments)
}

// AuditActions lists the actions recorded for paymentID in insertion order.
func (l *Ledger) AuditActions(paymentID int64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.state.audit {
		if e.PaymentID != nil && *e.PaymentID == paymentID {
			out = append(out, e.Action)
		}
	}
	return out
}

func (l *Ledger) OutboxLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.outbox)
}

// OutboxSent counts published events.
func (l *Ledger) OutboxSent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.state.outbox {
		if r.SentAt != nil {
			n++
		}
	}
	return n
}

// TxCallsWithoutDeadline counts transaction operations that were handed a
// context without a deadline.
func (l *Ledger) TxCallsWithoutDeadline() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.undeadlined
}

func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	l.enter("InTx")
	defer l.mu.Unlock()
	if l.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.TxTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
	}
	if err := l.fault("Begin"); err != nil {
		return err
	}
	tx := &memTx{l: l, st: l.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := l.fault("Commit"); err != nil {
		return err
	}
	l.state = tx.st
	return nil
}

type memTx struct {
	l  *Ledger
	st *state
}

// begin runs before every transaction operation. The caller holds l.mu.
func (t *memTx) begin(ctx context.Context, op string) error {
	if _, ok := ctx.Deadline(); !ok {
		t.l.undeadlined++
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
	}
	return t.l.fault(op)
}

func (t *memTx) LockPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	if err := t.begin(ctx, "tx.LockPayment"); err != nil {
		return nil, err
	}
	p, ok := t.st.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("lock payment %d: %w", paymentID, ledger.ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if err := t.begin(ctx, "tx.LockOrder"); err != nil {
		return nil, err
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("lock order %s: %w", orderID, ledger.ErrNotFound)
	}
	return &o, nil
}

func (t *memTx) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	if err := t.begin(ctx, "tx.ListOrderPayments"); err != nil {
		return nil, err
	}
	return orderPayments(t.st, orderID), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	if err := t.begin(ctx, "tx.UpdateOrderStatus"); err != nil {
		return err
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return ledger.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) MarkPaymentReconciled(ctx context.Context, paymentID int64, at time.Time) error {
	if err := t.begin(ctx, "tx.MarkPaymentReconciled"); err != nil {
		return err
	}
	p, ok := t.st.payments[paymentID]
	if !ok {
		return ledger.ErrNotFound
	}
	p.ReconciledAt = &at
	p.PermanentFailAt = nil
	t.st.payments[paymentID] = p
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := t.begin(ctx, "tx.AppendAudit"); err != nil {
		return err
	}
	appendAudit(t.st, entry)
	return nil
}

func (t *memTx) EnqueueOutbox(ctx context.Context, eventID, eventType string, payload []byte) error {
	if err := t.begin(ctx, "tx.EnqueueOutbox"); err != nil {
		return err
	}
	t.st.nextOutboxID++
	t.st.outbox = append(t.st.outbox, outboxRow{OutboxEvent: ledger.OutboxEvent{
		ID:        t.st.nextOutboxID,
		EventID:   eventID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}})
	return nil
}

func appendAudit(st *state, entry *models.AuditLogEntry) {
	st.nextLogID++
	entry.LogID = st.nextLogID
	entry.LogTime = time.Now().UTC()
	if len(entry.Details) == 0 {
		entry.Details = json.RawMessage(`{}`)
	}
	st.audit = append(st.audit, *entry)
}

func orderPayments(st *state, orderID string) []models.Payment {
	var out []models.Payment
	for _, p := range st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID > out[j].PaymentID })
	return out
}

func (l *Ledger) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	l.enter("AppendAudit")
	defer l.mu.Unlock()
	if err := l.fault("AppendAudit"); err != nil {
		return err
	}
	appendAudit(l.state, entry)
	return nil
}

func (l *Ledger) ListAuditByPayment(ctx context.Context, paymentID int64) ([]models.AuditLogEntry, error) {
	l.enter("ListAuditByPayment")
	defer l.mu.Unlock()
	if err := l.fault("ListAuditByPayment"); err != nil {
		return nil, err
	}
	var out []models.AuditLogEntry
	for i := len(l.state.audit) - 1; i >= 0; i-- {
		e := l.state.audit[i]
		if e.PaymentID != nil && *e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Ledger) ListAuditAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditLogEntry, error) {
	l.enter("ListAuditAfter")
	defer l.mu.Unlock()
	if err := l.fault("ListAuditAfter"); err != nil {
		return nil, err
	}
	var out []models.AuditLogEntry
	for _, e := range l.state.audit {
		if e.LogID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Ledger) ListRecentAudit(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	l.enter("ListRecentAudit")
	defer l.mu.Unlock()
	if err := l.fault("ListRecentAudit"); err != nil {
		return nil, err
	}
	var out []models.AuditLogEntry
	for i := len(l.state.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.state.audit[i])
	}
	return out, nil
}

func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	l.enter("GetOrder")
	defer l.mu.Unlock()
	if err := l.fault("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := l.state.orders[orderID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &o, nil
}

func (l *Ledger) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	l.enter("GetPayment")
	defer l.mu.Unlock()
	if err := l.fault("GetPayment"); err != nil {
		return nil, err
	}
	p, ok := l.state.payments[paymentID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &p, nil
}

func (l *Ledger) GetPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	l.enter("GetPaymentByGatewayID")
	defer l.mu.Unlock()
	if err := l.fault("GetPaymentByGatewayID"); err != nil {
		return nil, err
	}
	for _, p := range l.state.payments {
		if p.GatewayID == gatewayID {
			return &p, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (l *Ledger) CreatePayment(ctx context.Context, p *models.Payment) (int64, error) {
	l.enter("CreatePayment")
	defer l.mu.Unlock()
	if err := l.fault("CreatePayment"); err != nil {
		return 0, err
	}
	for _, existing := range l.state.payments {
		if existing.GatewayID == p.GatewayID {
			return 0, fmt.Errorf("insert payment: %w", ledger.ErrDuplicateEvent)
		}
	}
	if _, ok := l.state.orders[p.OrderID]; !ok {
		return 0, fmt.Errorf("insert payment: %w", ledger.ErrNotFound)
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Now().UTC()
	}
	l.state.nextPaymentID++
	p.PaymentID = l.state.nextPaymentID
	l.state.payments[p.PaymentID] = *p

	id, orderID := p.PaymentID, p.OrderID
	appendAudit(l.state, &models.AuditLogEntry{
		PaymentID: &id,
		OrderID:   &orderID,
		Action:    models.ActionPaymentCreated,
		NewStatus: string(p.Status),
	})
	return p.PaymentID, nil
}

func (l *Ledger) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	l.enter("ListOrderPayments")
	defer l.mu.Unlock()
	if err := l.fault("ListOrderPayments"); err != nil {
		return nil, err
	}
	return orderPayments(l.state, orderID), nil
}

func (l *Ledger) PaymentSummary(ctx context.Context) (models.PaymentSummary, error) {
	l.enter("PaymentSummary")
	defer l.mu.Unlock()
	if err := l.fault("PaymentSummary"); err != nil {
		return models.PaymentSummary{}, err
	}
	sum := models.PaymentSummary{TotalSuccessfulAmount: decimal.Zero, TotalAmount: decimal.Zero}
	for _, p := range l.state.payments {
		sum.TotalPayments++
		sum.TotalAmount = sum.TotalAmount.Add(p.Amount)
		switch p.Status {
		case models.PaymentSuccess:
			sum.SuccessfulPayments++
			sum.TotalSuccessfulAmount = sum.TotalSuccessfulAmount.Add(p.Amount)
		case models.PaymentFailed:
			sum.FailedPayments++
		case models.PaymentPartial:
			sum.PartialPayments++
		}
		if p.ReconciledAt == nil {
			sum.Unreconciled++
		}
	}
	return sum, nil
}

func (l *Ledger) ListRetryCandidates(ctx context.Context, q ledger.RetryQuery) ([]models.Payment, error) {
	l.enter("ListRetryCandidates")
	defer l.mu.Unlock()
	if err := l.fault("ListRetryCandidates"); err != nil {
		return nil, err
	}
	var out []models.Payment
	for _, p := range l.state.payments {
		if ledger.EligibleForRetry(p, q) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.Before(out[j].PaymentDate)
		}
		return out[i].PaymentID < out[j].PaymentID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (l *Ledger) RecordRetryAttempt(ctx context.Context, paymentID int64, maxRetries int, at time.Time) (int, error) {
	l.enter("RecordRetryAttempt")
	defer l.mu.Unlock()
	if err := l.fault("RecordRetryAttempt"); err != nil {
		return 0, err
	}
	p, ok := l.state.payments[paymentID]
	if !ok {
		return 0, ledger.ErrNotFound
	}
	if p.RetryCount >= maxRetries {
		return 0, ledger.ErrRetryExhausted
	}
	p.RetryCount++
	p.LastRetryAt = &at
	l.state.payments[paymentID] = p

	orderID := p.OrderID
	appendAudit(l.state, &models.AuditLogEntry{
		PaymentID: &paymentID,
		OrderID:   &orderID,
		Action:    models.ActionRetryAttempted,
		OldStatus: string(p.Status),
		NewStatus: string(p.Status),
	})
	return p.RetryCount, nil
}

func (l *Ledger) MarkPermanentFailure(ctx context.Context, paymentID int64, at time.Time) error {
	l.enter("MarkPermanentFailure")
	defer l.mu.Unlock()
	if err := l.fault("MarkPermanentFailure"); err != nil {
		return err
	}
	p, ok := l.state.payments[paymentID]
	if !ok || p.ReconciledAt != nil {
		return ledger.ErrNotFound
	}
	p.PermanentFailAt = &at
	l.state.payments[paymentID] = p
	return nil
}

func (l *Ledger) ListRefundsByOrder(ctx context.Context, orderID string) ([]models.Refund, error) {
	l.enter("ListRefundsByOrder")
	defer l.mu.Unlock()
	if err := l.fault("ListRefundsByOrder"); err != nil {
		return nil, err
	}
	var out []models.Refund
	for _, r := range l.state.refunds {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Ledger) ListRefundsByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	l.enter("ListRefundsByPayment")
	defer l.mu.Unlock()
	if err := l.fault("ListRefundsByPayment"); err != nil {
		return nil, err
	}
	var out []models.Refund
	for _, r := range l.state.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Ledger) ClaimOutbox(ctx context.Context, limit int, lease time.Duration) ([]ledger.OutboxEvent, error) {
	l.enter("ClaimOutbox")
	defer l.mu.Unlock()
	if err := l.fault("ClaimOutbox"); err != nil {
		return nil, err
	}
	now := time.Now()
	var out []ledger.OutboxEvent
	for i := range l.state.outbox {
		r := &l.state.outbox[i]
		if r.SentAt != nil || now.Before(r.NotBefore) || len(out) >= limit {
			continue
		}
		r.Attempts++
		r.NotBefore = now.Add(lease)
		out = append(out, r.OutboxEvent)
	}
	return out, nil
}

func (l *Ledger) MarkOutboxSent(ctx context.Context, id int64) error {
	l.enter("MarkOutboxSent")
	defer l.mu.Unlock()
	if err := l.fault("MarkOutboxSent"); err != nil {
		return err
	}
	for i := range l.state.outbox {
		if l.state.outbox[i].ID == id {
			now := time.Now()
			l.state.outbox[i].SentAt = &now
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (l *Ledger) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration, cause string) error {
	l.enter("MarkOutboxRetry")
	defer l.mu.Unlock()
	if err := l.fault("MarkOutboxRetry"); err != nil {
		return err
	}
	for i := range l.state.outbox {
		if l.state.outbox[i].ID == id {
			l.state.outbox[i].NotBefore = time.Now().Add(backoff)
			l.state.outbox[i].LastError = cause
			return nil
		}
	}
	return ledger.ErrNotFound
}
