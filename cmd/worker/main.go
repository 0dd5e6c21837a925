package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PaymentReconciler/internal/config"
	"PaymentReconciler/internal/db"
	"PaymentReconciler/internal/payments"
	"PaymentReconciler/internal/store"
	"PaymentReconciler/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DBOptions())
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, cfg.DB.AcquireTimeout, cfg.DB.CallTimeout)

	var pub worker.Publisher = worker.LogPublisher{Log: logger}
	if cfg.Broker.URL != "" {
		rp, err := worker.NewRabbitPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			logger.Error("broker connect failed", "err", err)
			os.Exit(1)
		}
		pub = rp
	} else {
		logger.Warn("broker.url not set, reconciliation events are only logged")
	}
	defer pub.Close()

	w := &worker.Worker{
		Retry: &worker.RetryScheduler{
			Queue:       st,
			Reconciler:  &payments.Reconciler{Ledger: st, Log: logger},
			MaxRetries:  cfg.Retry.MaxRetries,
			Cooldown:    cfg.Retry.Cooldown,
			BatchSize:   cfg.Retry.BatchSize,
			Concurrency: cfg.Retry.Concurrency,
			Log:         logger,
		},
		Outbox: &worker.OutboxDispatcher{
			Outbox:    st,
			Publisher: pub,
			BatchSize: cfg.Broker.OutboxBatch,
			Log:       logger,
		},
		RetryInterval:  cfg.Retry.Interval,
		OutboxInterval: cfg.Broker.OutboxInterval,
		Log:            logger,
	}

	logger.Info("worker started", "retry_interval", cfg.Retry.Interval, "max_retries", cfg.Retry.MaxRetries, "exchange", cfg.Broker.Exchange)
	w.Run(ctx)
	logger.Info("worker stopped")
}
