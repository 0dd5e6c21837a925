package ledger

import (
	"time"

	"PaymentReconciler/internal/models"
)

// EligibleForRetry mirrors the retry candidate query used by the SQL store:
// below the attempt cap, outside the cool-down window, not failed
// permanently, and either reported failed by the gateway or never reconciled.
func EligibleForRetry(p models.Payment, q RetryQuery) bool {
	if p.PermanentFailAt != nil || p.RetryCount >= q.MaxRetries {
		return false
	}
	if p.LastRetryAt != nil && !p.LastRetryAt.Before(q.Cutoff) {
		return false
	}
	if p.Status == models.PaymentFailed {
		return true
	}
	return p.ReconciledAt == nil && p.PaymentDate.Before(q.Cutoff)
}

// RetryCutoff is the instant before which the last attempt must have happened.
func RetryCutoff(now time.Time, cooldown time.Duration) time.Time {
	return now.Add(-cooldown)
}
