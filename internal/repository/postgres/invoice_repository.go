package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

const invoiceColumns = `id, invoice_number, invoice_type, company_id, department_id, user_id, billing_name,
	company_code, department_code, user_code, period_start, period_end, issue_date, due_date,
	subtotal, tax_rate, tax_amount, total_amount, status, created_at, updated_at`

const detailColumns = `id, invoice_id, order_id, delivery_date, user_code, user_name, product_code,
	product_name, quantity, unit_price, amount`

const (
	defaultInvoiceLimit = 50
	maxInvoiceLimit     = 500
)

type invoiceRepository struct {
	db *DB
}

func NewInvoiceRepository(db *DB) repository.InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) CreateInvoice(ctx context.Context, monthPrefix string, inv *domain.Invoice, details []domain.InvoiceDetail) error {
	var (
		created    domain.Invoice
		createdDet []domain.InvoiceDetail
	)

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Serializes allocation per month prefix until the transaction ends.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, monthPrefix); err != nil {
			return fmt.Errorf("failed to lock invoice sequence %s: %w", monthPrefix, err)
		}

		seq, err := nextSequence(ctx, tx, monthPrefix)
		if err != nil {
			return err
		}

		created = *inv
		created.InvoiceNumber = domain.FormatInvoiceNumber(monthPrefix, seq)

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO invoices (
				invoice_number, invoice_type, company_id, department_id, user_id, billing_name,
				company_code, department_code, user_code, period_start, period_end, issue_date, due_date,
				subtotal, tax_rate, tax_amount, total_amount, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING id, created_at, updated_at
		`, created.InvoiceNumber, created.InvoiceType, created.CompanyID, created.DepartmentID, created.UserID,
			created.BillingName, created.CompanyCode, created.DepartmentCode, created.UserCode,
			created.PeriodStart, created.PeriodEnd, created.IssueDate, created.DueDate,
			created.Subtotal, created.TaxRate, created.TaxAmount, created.TotalAmount, created.Status,
		).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert invoice %s: %w", created.InvoiceNumber, mapError(err))
		}

		createdDet = make([]domain.InvoiceDetail, len(details))
		for i, d := range details {
			d.InvoiceID = created.ID
			err := tx.QueryRowxContext(ctx, `
				INSERT INTO invoice_details (
					invoice_id, order_id, delivery_date, user_code, user_name,
					product_code, product_name, quantity, unit_price, amount
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id
			`, d.InvoiceID, d.OrderID, d.DeliveryDate, d.UserCode, d.UserName,
				d.ProductCode, d.ProductName, d.Quantity, d.UnitPrice, d.Amount).Scan(&d.ID)
			if err != nil {
				return fmt.Errorf("failed to insert detail for order %d: %w", d.OrderID, mapError(err))
			}
			createdDet[i] = d
		}
		return nil
	})
	if err != nil {
		return err
	}

	created.Details = createdDet
	*inv = created
	return nil
}

// nextSequence returns 1 + the highest sequence already issued under prefix.
func nextSequence(ctx context.Context, tx *sqlx.Tx, monthPrefix string) (int, error) {
	from := utf8.RuneCountInString(monthPrefix) + 1
	var highest int
	err := tx.GetContext(ctx, &highest, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(invoice_number FROM $2::int) AS INTEGER)), 0)
		FROM invoices
		WHERE starts_with(invoice_number, $1)
			AND SUBSTRING(invoice_number FROM $2::int) ~ '^[0-9]+$'
	`, monthPrefix, from)
	if err != nil {
		return 0, fmt.Errorf("failed to read invoice sequence %s: %w", monthPrefix, err)
	}
	return highest + 1, nil
}

func (r *invoiceRepository) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := r.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	details := []domain.InvoiceDetail{}
	query := `SELECT ` + detailColumns + ` FROM invoice_details WHERE invoice_id = $1 ORDER BY delivery_date, id`
	if err := r.db.SelectContext(ctx, &details, query, id); err != nil {
		return nil, fmt.Errorf("failed to load details of invoice %d: %w", id, err)
	}
	inv.Details = details
	return &inv, nil
}

func (r *invoiceRepository) ListInvoices(ctx context.Context, f domain.InvoiceFilter) ([]domain.Invoice, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("invoice_type = $%d", f.Type)
	}
	if f.CompanyCode != "" {
		add("company_code = $%d", f.CompanyCode)
	}
	if f.PeriodStart != nil {
		add("period_end >= $%d", *f.PeriodStart)
	}
	if f.PeriodEnd != nil {
		add("period_start <= $%d", *f.PeriodEnd)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultInvoiceLimit
	}
	if limit > maxInvoiceLimit {
		limit = maxInvoiceLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	out := []domain.Invoice{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return out, nil
}

func (r *invoiceRepository) UpdateInvoiceStatus(ctx context.Context, id int64, status domain.InvoiceStatus) (*domain.Invoice, error) {
	var updated domain.Invoice
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current domain.InvoiceStatus
		if err := tx.GetContext(ctx, &current, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, id); err != nil {
			return mapError(err)
		}
		if !domain.CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, status)
		}
		query := `UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + invoiceColumns
		if err := tx.GetContext(ctx, &updated, query, id, status); err != nil {
			return fmt.Errorf("failed to update invoice %d status: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *invoiceRepository) DeleteInvoice(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current domain.InvoiceStatus
		if err := tx.GetContext(ctx, &current, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, id); err != nil {
			return mapError(err)
		}
		if current != domain.InvoiceStatusDraft {
			return fmt.Errorf("%w: invoice %d is %s", domain.ErrInvoiceNotDraft, id, current)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete invoice %d: %w", id, err)
		}
		return nil
	})
}

func (r *invoiceRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	sources := make([]string, 0, 2)
	for _, s := range domain.OverdueSources() {
		sources = append(sources, string(s))
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE status = ANY($2) AND due_date < $3
	`, domain.InvoiceStatusOverdue, pq.Array(sources), asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	n, _ := res.RowsAffected()
	log.Info().Int64("count", n).Time("as_of", asOf).Msg("marked invoices overdue")
	return n, nil
}
