package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"PaymentReconciler/internal/signature"

	"github.com/spf13/cobra"
)

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a webhook body, optionally posting it to an endpoint",
		Long: `Computes the HMAC-SHA256 signature a gateway would send for a body read
from --file or stdin. With --post the signed body is delivered to the given
URL and the response is printed.`,
		Args: cobra.NoArgs,
		RunE: runSign,
	}
	cmd.Flags().StringP("secret", "s", "", "webhook secret (defaults to $WEBHOOK_SECRET)")
	cmd.Flags().StringP("file", "f", "", "read the body from this file instead of stdin")
	cmd.Flags().String("post", "", "deliver the signed body to this URL")
	cmd.Flags().String("header", "X-Payment-Signature", "signature header used with --post")
	return cmd
}

func runSign(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("WEBHOOK_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("a secret is required (--secret or WEBHOOK_SECRET)")
	}

	var (
		body []byte
		err  error
	)
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		body, err = os.ReadFile(file)
	} else {
		body, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	body = bytes.TrimRight(body, "\r\n")

	sig := signature.Sign(secret, body)
	target, _ := cmd.Flags().GetString("post")
	if target == "" {
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	}

	header, _ := cmd.Flags().GetString("header")
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, sig)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", resp.Status, bytes.TrimSpace(out))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected: %s", resp.Status)
	}
	return nil
}
