package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]InvoiceStatus]bool{
		{InvoiceStatusDraft, InvoiceStatusIssued}:   true,
		{InvoiceStatusIssued, InvoiceStatusSent}:    true,
		{InvoiceStatusIssued, InvoiceStatusOverdue}: true,
		{InvoiceStatusSent, InvoiceStatusPaid}:      true,
		{InvoiceStatusSent, InvoiceStatusOverdue}:   true,
		{InvoiceStatusOverdue, InvoiceStatusPaid}:   true,
	}
	all := []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]InvoiceStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestParseInvoiceType(t *testing.T) {
	if got, ok := ParseInvoiceType(" Company_Bulk "); !ok || got != InvoiceTypeCompanyBulk {
		t.Fatalf("got %q,%v", got, ok)
	}
	if _, ok := ParseInvoiceType("weekly"); ok {
		t.Fatal("expected unknown type to be rejected")
	}
}

func TestSchemaMismatchErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("normalize: %w", &SchemaMismatchError{
		Expected: []string{"a", "b"},
		Actual:   []string{"a", "c"},
	})
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatal("expected errors.Is(ErrSchemaMismatch)")
	}
	var sme *SchemaMismatchError
	if !errors.As(err, &sme) || sme.Actual[1] != "c" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !IsInputError(err) {
		t.Fatal("schema mismatch should be an input error")
	}
}
