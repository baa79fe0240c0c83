package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
)

const uniqueViolation = "23505"

// Constraint names from the init migration.
const (
	constraintInvoiceNumber = "invoices_invoice_number_key"
	constraintDetailOrder   = "invoice_details_order_id_key"
	constraintOrderKey      = "orders_natural_key"
)

// constraintViolation extracts the SQLSTATE and constraint name from either
// driver; the server uses lib/pq and the CLI uses pgx.
func constraintViolation(err error) (code, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

// mapError turns driver errors into domain errors where callers branch on them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	code, constraint, ok := constraintViolation(err)
	if !ok || code != uniqueViolation {
		return err
	}
	switch constraint {
	case constraintInvoiceNumber:
		return fmt.Errorf("%w: %v", domain.ErrInvoiceNumberConflict, err)
	case constraintDetailOrder:
		return fmt.Errorf("%w: %v", domain.ErrOrderAlreadyInvoiced, err)
	case constraintOrderKey:
		return fmt.Errorf("%w: %v", domain.ErrDuplicateOrder, err)
	}
	return err
}
