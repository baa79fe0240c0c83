package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/normalize"
)

// rowDraft is a tokenized data row whose delivery date already parsed.
type rowDraft struct {
	row    int
	fields []string

	deliveryDate   time.Time
	companyCode    string
	departmentCode string
	userCode       string
	productCode    string
	supplierCode   string
}

func (r *rowDraft) key() domain.OrderKey {
	return domain.NewOrderKey(r.deliveryDate, r.userCode, r.productCode)
}

func rowError(row int, kind domain.RowErrorKind, fields []string, format string, args ...interface{}) *domain.RowError {
	return &domain.RowError{
		Row:       row,
		Kind:      kind,
		Reason:    fmt.Sprintf(format, args...),
		RawFields: fields,
	}
}

// tokenize splits a line and checks field count and delivery date.
func tokenize(line normalize.Line) (*rowDraft, *domain.RowError) {
	fields, err := normalize.ParseRecord(line.Text)
	if err != nil {
		return nil, rowError(line.Row, domain.RowMalformed, []string{line.Text}, "cannot parse row: %v", err)
	}
	if len(fields) != len(normalize.Schema) {
		return nil, rowError(line.Row, domain.RowMalformed, fields,
			"expected %d fields, got %d", len(normalize.Schema), len(fields))
	}

	raw := fields[normalize.ColDeliveryDate]
	date, err := parseDeliveryDate(raw)
	if err != nil {
		return nil, rowError(line.Row, domain.RowInvalidDate, fields, "invalid delivery date %q", raw)
	}

	return &rowDraft{
		row:            line.Row,
		fields:         fields,
		deliveryDate:   date,
		companyCode:    fields[normalize.ColCompanyCode],
		departmentCode: fields[normalize.ColDepartmentCode],
		userCode:       fields[normalize.ColUserCode],
		productCode:    fields[normalize.ColProductCode],
		supplierCode:   fields[normalize.ColSupplierCode],
	}, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"2006-1-2",
	"20060102",
	"2006年1月2日",
}

func parseDeliveryDate(raw string) (time.Time, error) {
	s := width.Narrow.String(strings.TrimSpace(raw))
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, domain.JST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// parseYen parses a non-negative integer. Full-width digits and thousands
// separators are accepted.
func parseYen(raw string) (int64, error) {
	s := width.Narrow.String(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimSuffix(s, "円")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative value")
	}
	return v, nil
}

type amounts struct {
	quantity  int64
	unitPrice int64
	total     int64
}

// parseAmounts recomputes the line total; a non-blank 金額 must agree with it.
func parseAmounts(r *rowDraft) (amounts, *domain.RowError) {
	qtyRaw := r.fields[normalize.ColQuantity]
	qty, err := parseYen(qtyRaw)
	if err != nil {
		return amounts{}, rowError(r.row, domain.RowInvalidAmount, r.fields, "invalid quantity %q", qtyRaw)
	}
	priceRaw := r.fields[normalize.ColUnitPrice]
	price, err := parseYen(priceRaw)
	if err != nil {
		return amounts{}, rowError(r.row, domain.RowInvalidAmount, r.fields, "invalid unit price %q", priceRaw)
	}
	if price != 0 && qty > math.MaxInt64/price {
		return amounts{}, rowError(r.row, domain.RowInvalidAmount, r.fields, "amount overflows: %d x %d", qty, price)
	}
	total := qty * price

	if amountRaw := r.fields[normalize.ColAmount]; amountRaw != "" {
		stated, err := parseYen(amountRaw)
		if err != nil {
			return amounts{}, rowError(r.row, domain.RowInvalidAmount, r.fields, "invalid amount %q", amountRaw)
		}
		if stated != total {
			return amounts{}, rowError(r.row, domain.RowInvalidAmount, r.fields,
				"amount %d does not match quantity %d x unit price %d = %d", stated, qty, price, total)
		}
	}
	return amounts{quantity: qty, unitPrice: price, total: total}, nil
}
