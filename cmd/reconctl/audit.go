package main

import (
	"encoding/json"
	"fmt"
	"io"

	"PaymentReconciler/internal/config"
	"PaymentReconciler/internal/db"
	"PaymentReconciler/internal/models"
	"PaymentReconciler/internal/store"
	"PaymentReconciler/internal/stream"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print a payment's audit trail or follow the live audit feed",
		Args:  cobra.NoArgs,
		RunE:  runAudit,
	}
	cmd.Flags().Int64P("payment-id", "p", 0, "payment to show or follow")
	cmd.Flags().StringP("order-id", "o", "", "order to follow (with --follow)")
	cmd.Flags().Bool("follow", false, "stream new entries from a running api")
	cmd.Flags().String("api", "http://localhost:8080", "api base URL used with --follow")
	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	paymentID, _ := cmd.Flags().GetInt64("payment-id")
	follow, _ := cmd.Flags().GetBool("follow")
	out := cmd.OutOrStdout()

	if follow {
		orderID, _ := cmd.Flags().GetString("order-id")
		api, _ := cmd.Flags().GetString("api")
		endpoint := stream.EndpointFor(api)
		if endpoint == "" {
			return fmt.Errorf("unsupported api url %q", api)
		}
		return followAudit(cmd, endpoint, stream.Filter{OrderID: orderID, PaymentID: paymentID}, out)
	}
	if paymentID <= 0 {
		return fmt.Errorf("--payment-id is required unless --follow is set")
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	pool, err := db.Connect(ctx, cfg.DBOptions())
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool, cfg.DB.AcquireTimeout, cfg.DB.CallTimeout)
	entries, err := st.ListAuditByPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "no audit entries for payment %d\n", paymentID)
		return nil
	}
	for _, e := range entries {
		printEntry(out, e)
	}
	return nil
}

func followAudit(cmd *cobra.Command, endpoint string, f stream.Filter, out io.Writer) error {
	sub := stream.NewSubscriber(endpoint)
	if err := sub.Connect(cmd.Context(), f); err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer sub.Close()

	go func() {
		<-cmd.Context().Done()
		sub.Close()
	}()

	enc := json.NewEncoder(out)
	for {
		e, err := sub.Next()
		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
}

func printEntry(w io.Writer, e models.AuditLogEntry) {
	transition := ""
	if e.OldStatus != "" || e.NewStatus != "" {
		transition = fmt.Sprintf(" %s -> %s", orDash(e.OldStatus), orDash(e.NewStatus))
	}
	fmt.Fprintf(w, "%s  #%-6d %-16s%s  %s\n", e.LogTime.Format("2006-01-02 15:04:05"), e.LogID, e.Action, transition, e.Details)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
