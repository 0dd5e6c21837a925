package store

import (
	"errors"
	"fmt"
	"strings"

	"PaymentReconciler/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"

	gatewayIDConstraint = "payments_gateway_id_key"
)

// transientCode reports SQLSTATEs that a retry is expected to clear.
func transientCode(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"57014", // query_canceled (statement/lock timeout)
		"57P01", "57P02", "57P03": // admin/crash shutdown, cannot_connect_now
		return true
	}
	// connection_exception and insufficient_resources
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53")
}

// classify maps driver errors onto the ledger error taxonomy. Errors that did
// not come from the server (dropped connections, timeouts) are transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == gatewayIDConstraint:
			return fmt.Errorf("%w: %w", ledger.ErrDuplicateEvent, err)
		case pgErr.Code == codeForeignKeyViolation:
			return fmt.Errorf("%w: %w", ledger.ErrNotFound, err)
		case transientCode(pgErr.Code):
			return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
}

// classifyCommit treats a commit that got no server answer as unknown: the
// transaction may or may not have been applied.
func classifyCommit(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classify(err)
	}
	return fmt.Errorf("%w: %w: %w", ledger.ErrUnknownOutcome, ledger.ErrTransient, err)
}
