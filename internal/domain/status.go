package domain

import "strings"

type InvoiceType string

const (
	InvoiceTypeIndividual     InvoiceType = "individual"
	InvoiceTypeDepartmentBulk InvoiceType = "department_bulk"
	InvoiceTypeCompanyBulk    InvoiceType = "company_bulk"
	InvoiceTypeMixed          InvoiceType = "mixed"
)

// ParseInvoiceType returns the invoice type for a given name (case-insensitive).
func ParseInvoiceType(name string) (InvoiceType, bool) {
	t := InvoiceType(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case InvoiceTypeIndividual, InvoiceTypeDepartmentBulk, InvoiceTypeCompanyBulk, InvoiceTypeMixed:
		return t, true
	}
	return "", false
}

type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusIssued  InvoiceStatus = "issued"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusIssued},
	InvoiceStatusIssued:  {InvoiceStatusSent, InvoiceStatusOverdue},
	InvoiceStatusSent:    {InvoiceStatusPaid, InvoiceStatusOverdue},
	InvoiceStatusOverdue: {InvoiceStatusPaid},
}

// ParseInvoiceStatus returns the status for a given label (case-insensitive).
func ParseInvoiceStatus(label string) (InvoiceStatus, bool) {
	s := InvoiceStatus(strings.ToLower(strings.TrimSpace(label)))
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue:
		return s, true
	}
	return "", false
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OverdueSources lists the statuses the overdue sweep moves to overdue.
func OverdueSources() []InvoiceStatus {
	return []InvoiceStatus{InvoiceStatusIssued, InvoiceStatusSent}
}

// BillingMethod is a company's preference used by mixed generation.
type BillingMethod string

const (
	BillingIndividual BillingMethod = "individual"
	BillingDepartment BillingMethod = "department"
	BillingCompany    BillingMethod = "company"
)

func ParseBillingMethod(name string) (BillingMethod, bool) {
	m := BillingMethod(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case BillingIndividual, BillingDepartment, BillingCompany:
		return m, true
	}
	return "", false
}

type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

type RowErrorKind string

const (
	RowMalformed           RowErrorKind = "malformed_row"
	RowInvalidDate         RowErrorKind = "invalid_date"
	RowUnresolvedReference RowErrorKind = "unresolved_reference"
	RowInvalidAmount       RowErrorKind = "invalid_amount"
	RowOrderInvoiced       RowErrorKind = "order_invoiced"
)
