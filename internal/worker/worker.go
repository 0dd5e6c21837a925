package worker

import (
	"context"
	"log/slog"
	"time"
)

// Worker drives the retry scheduler and the outbox dispatcher on tickers.
type Worker struct {
	Retry          *RetryScheduler
	Outbox         *OutboxDispatcher
	RetryInterval  time.Duration
	OutboxInterval time.Duration
	Log            *slog.Logger
}

func (w *Worker) Run(ctx context.Context) {
	if w.Outbox != nil {
		go w.runOutbox(ctx)
	}
	ticker := time.NewTicker(w.RetryInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Retry.RunOnce(ctx, 0); err != nil {
			w.Log.Error("retry run failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) runOutbox(ctx context.Context) {
	ticker := time.NewTicker(w.OutboxInterval)
	defer ticker.Stop()

	for {
		n, err := w.Outbox.DispatchOnce(ctx)
		if err != nil {
			w.Log.Error("outbox dispatch failed", "err", err)
		} else if n > 0 {
			w.Log.Info("outbox dispatched", "sent", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
