package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TaxRatePercent is the consumption tax applied to every invoice.
	TaxRatePercent int64 = 10

	DateLayout = "2006-01-02"
)

// JST is the business time zone. A fixed zone avoids depending on tzdata.
var JST = time.FixedZone("JST", 9*60*60)

// TaxAmount returns subtotal * TaxRatePercent / 100 rounded half up to the yen.
func TaxAmount(subtotal int64) int64 {
	scaled := subtotal * TaxRatePercent
	if scaled < 0 {
		return -((-scaled + 50) / 100)
	}
	return (scaled + 50) / 100
}

// InvoiceTotals returns tax and total for a subtotal.
func InvoiceTotals(subtotal int64) (tax, total int64) {
	tax = TaxAmount(subtotal)
	return tax, subtotal + tax
}

// InvoiceNumberPrefix returns "<prefix>-<YYYYMM>-" for the issue date.
func InvoiceNumberPrefix(prefix string, issue time.Time) string {
	return fmt.Sprintf("%s-%s-", prefix, issue.Format("200601"))
}

// FormatInvoiceNumber joins a month prefix and a sequence, padded to at least
// three digits.
func FormatInvoiceNumber(monthPrefix string, seq int) string {
	return fmt.Sprintf("%s%03d", monthPrefix, seq)
}

// ParseInvoiceSequence extracts the sequence of a number built with
// FormatInvoiceNumber for the same month prefix.
func ParseInvoiceSequence(monthPrefix, number string) (int, bool) {
	if !strings.HasPrefix(number, monthPrefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(number[len(monthPrefix):])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// DateOnly truncates t to midnight in JST.
func DateOnly(t time.Time) time.Time {
	t = t.In(JST)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, JST)
}

// ParseDate parses a YYYY-MM-DD date in JST.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), JST)
}
