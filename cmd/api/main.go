package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PaymentReconciler/internal/config"
	"PaymentReconciler/internal/db"
	internalhttp "PaymentReconciler/internal/http"
	"PaymentReconciler/internal/payments"
	"PaymentReconciler/internal/services"
	"PaymentReconciler/internal/signature"
	"PaymentReconciler/internal/store"
	"PaymentReconciler/internal/stream"
	"PaymentReconciler/internal/validation"
	"PaymentReconciler/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := cfg.NewLogger(os.Stdout)
	if cfg.SignatureBypassed() {
		logger.Warn("webhook signature verification is disabled", "env", cfg.App.Env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DBOptions())
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, cfg.DB.AcquireTimeout, cfg.DB.CallTimeout)
	rec := &payments.Reconciler{Ledger: st, Log: logger}
	webhooks := &services.WebhookService{
		Ledger:          st,
		Guard:           services.IdempotencyGuard{Payments: st},
		Reconciler:      rec,
		Verifier:        signature.Verifier{Secret: cfg.Webhook.Secret, Bypass: cfg.SignatureBypassed()},
		Validate:        validation.New(),
		DefaultCurrency: cfg.Webhook.DefaultCurrency,
		DefaultGateway:  cfg.Webhook.DefaultGateway,
		Log:             logger,
	}
	retry := &worker.RetryScheduler{
		Queue:       st,
		Reconciler:  rec,
		MaxRetries:  cfg.Retry.MaxRetries,
		Cooldown:    cfg.Retry.Cooldown,
		BatchSize:   cfg.Retry.BatchSize,
		Concurrency: cfg.Retry.Concurrency,
		Log:         logger,
	}

	hub := stream.NewHub(st, cfg.Stream.PollInterval, logger)
	go hub.Run(ctx)

	h := &internalhttp.Handler{
		Webhooks:        webhooks,
		Views:           services.LedgerViews{Ledger: st},
		Retry:           retry,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Log:             logger,
	}
	srv := internalhttp.NewServer(h, hub.ServeWS, internalhttp.Limits{
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		MaxBacklog:     cfg.Server.MaxBacklog,
		BacklogTimeout: cfg.Server.BacklogTimeout,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr, "env", cfg.App.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn("shutdown incomplete", "err", err)
	}
}
