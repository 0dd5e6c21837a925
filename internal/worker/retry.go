package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/payments"

	"golang.org/x/sync/errgroup"
)

const (
	RetrySucceeded = "success"
	RetryFailed    = "failed"
)

type RetryResult struct {
	PaymentID int64  `json:"payment_id"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
}

type RetrySummary struct {
	Message    string        `json:"message"`
	MaxRetries int           `json:"max_retries"`
	Succeeded  int           `json:"-"`
	Failed     int           `json:"-"`
	Results    []RetryResult `json:"results"`
}

// RetryScheduler resubmits reconciliations that failed or never finished.
// It has no lifecycle of its own: callers invoke RunOnce on demand or from
// a ticker.
type RetryScheduler struct {
	Queue      ledger.RetryQueue
	Reconciler interface {
		Reconcile(ctx context.Context, paymentID int64) (*payments.Outcome, error)
	}
	MaxRetries  int
	Cooldown    time.Duration
	BatchSize   int
	Concurrency int
	Log         *slog.Logger
	Now         func() time.Time
}

func (s *RetryScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RetryScheduler) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// EffectiveMax caps a requested attempt limit at the configured one. A
// non-positive request means the configured limit.
func (s *RetryScheduler) EffectiveMax(requested int) int {
	if requested <= 0 || requested > s.MaxRetries {
		return s.MaxRetries
	}
	return requested
}

// RunOnce retries every eligible payment once. A failing candidate never
// stops the others; only a failure to list candidates is returned.
func (s *RetryScheduler) RunOnce(ctx context.Context, requestedMax int) (*RetrySummary, error) {
	maxRetries := s.EffectiveMax(requestedMax)
	now := s.now()
	candidates, err := s.Queue.ListRetryCandidates(ctx, ledger.RetryQuery{
		MaxRetries: maxRetries,
		Cutoff:     ledger.RetryCutoff(now, s.Cooldown),
		Limit:      s.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list retry candidates: %w", err)
	}

	summary := &RetrySummary{MaxRetries: maxRetries, Results: make([]RetryResult, len(candidates))}
	if len(candidates) == 0 {
		summary.Message = "No failed payments to retry"
		return summary, nil
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			summary.Results[i] = s.retryOne(gctx, c.PaymentID, maxRetries, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range summary.Results {
		if r.Status == RetrySucceeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	summary.Message = fmt.Sprintf("Retry completed: %d successful, %d failed", summary.Succeeded, summary.Failed)
	s.logger().Info("retry run finished",
		"candidates", len(candidates),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"max_retries", maxRetries,
	)
	return summary, nil
}

func (s *RetryScheduler) retryOne(ctx context.Context, paymentID int64, maxRetries int, at time.Time) RetryResult {
	log := s.logger().With("payment_id", paymentID)
	attempt, err := s.Queue.RecordRetryAttempt(ctx, paymentID, maxRetries, at)
	if err != nil {
		if errors.Is(err, ledger.ErrRetryExhausted) {
			log.Info("retry skipped: attempts exhausted")
		} else {
			log.Warn("record retry attempt failed", "err", err)
		}
		return RetryResult{PaymentID: paymentID, Status: RetryFailed, Error: err.Error()}
	}

	if _, err := s.Reconciler.Reconcile(ctx, paymentID); err != nil {
		return RetryResult{PaymentID: paymentID, Status: RetryFailed, Attempt: attempt, Error: err.Error()}
	}
	return RetryResult{PaymentID: paymentID, Status: RetrySucceeded, Attempt: attempt}
}
