package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a batch or invoice does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEncodingUnresolved is returned when no candidate encoding decodes
	// the payload cleanly, or the requested one does not.
	ErrEncodingUnresolved = errors.New("unable to resolve file encoding")

	// ErrUnknownEncoding is returned for an encoding hint that is not supported.
	ErrUnknownEncoding = errors.New("unknown encoding")

	ErrSchemaMismatch = errors.New("header does not match expected schema")
	ErrEmptyFile      = errors.New("file has no header line")
	ErrTooManyRows    = errors.New("file exceeds row limit")
	ErrFileTooLarge   = errors.New("file exceeds size limit")

	// ErrInvoiceNumberConflict is returned when an allocated invoice number
	// collides with one committed concurrently.
	ErrInvoiceNumberConflict = errors.New("invoice number already allocated")

	// ErrOrderAlreadyInvoiced is returned when an order is already attached
	// to another invoice.
	ErrOrderAlreadyInvoiced = errors.New("order already invoiced")

	// ErrDuplicateOrder is returned when an order's delivery date, user and
	// product are already stored.
	ErrDuplicateOrder = errors.New("duplicate order")

	ErrInvalidStatus      = errors.New("unknown invoice status")
	ErrInvalidTransition  = errors.New("invalid invoice status transition")
	ErrInvoiceNotDraft    = errors.New("only draft invoices can be deleted")
	ErrInvalidInvoiceType = errors.New("invalid invoice type")
	ErrInvalidPeriod      = errors.New("invalid billing period")
)

// SchemaMismatchError carries the expected and actual header of a rejected file.
type SchemaMismatchError struct {
	Expected []string
	Actual   []string
}

func (e *SchemaMismatchError) Error() string {
	for i := range e.Expected {
		if i >= len(e.Actual) {
			return fmt.Sprintf("%v: missing column %d (%s)", ErrSchemaMismatch, i+1, e.Expected[i])
		}
		if e.Actual[i] != e.Expected[i] {
			return fmt.Sprintf("%v: column %d is %q, expected %q", ErrSchemaMismatch, i+1, e.Actual[i], e.Expected[i])
		}
	}
	return fmt.Sprintf("%v: expected %d columns, got %d (%s)",
		ErrSchemaMismatch, len(e.Expected), len(e.Actual), strings.Join(e.Actual, ","))
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

// IsInputError reports whether err is caused by the caller's input rather
// than by the store.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrEncodingUnresolved, ErrUnknownEncoding, ErrSchemaMismatch, ErrEmptyFile,
		ErrTooManyRows, ErrFileTooLarge, ErrInvalidInvoiceType, ErrInvalidPeriod,
		ErrInvalidStatus, ErrInvalidTransition, ErrInvoiceNotDraft,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
