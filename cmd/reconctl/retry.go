package main

import (
	"encoding/json"
	"fmt"
	"os"

	"PaymentReconciler/internal/config"
	"PaymentReconciler/internal/db"
	"PaymentReconciler/internal/payments"
	"PaymentReconciler/internal/store"
	"PaymentReconciler/internal/worker"

	"github.com/spf13/cobra"
)

func retryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Run one retry pass over failed and unreconciled payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := cfg.NewLogger(os.Stderr)

			ctx := cmd.Context()
			pool, err := db.Connect(ctx, cfg.DBOptions())
			if err != nil {
				return err
			}
			defer pool.Close()

			st := store.New(pool, cfg.DB.AcquireTimeout, cfg.DB.CallTimeout)
			s := &worker.RetryScheduler{
				Queue:       st,
				Reconciler:  &payments.Reconciler{Ledger: st, Log: logger},
				MaxRetries:  cfg.Retry.MaxRetries,
				Cooldown:    cfg.Retry.Cooldown,
				BatchSize:   cfg.Retry.BatchSize,
				Concurrency: cfg.Retry.Concurrency,
				Log:         logger,
			}
			summary, err := s.RunOnce(ctx, maxRetries)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().IntP("max-retries", "m", 0, "attempt ceiling for this pass, capped at retry.max_retries")
	return cmd
}
