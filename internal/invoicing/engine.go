// Package invoicing turns un-invoiced orders into draft invoices.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
	"github.com/andresuchdata/smy-billing/backend-go/pkg/logger"
)

type Config struct {
	NumberPrefix  string
	Workers       int
	NumberRetries int
	DueDays       int
}

func (c Config) withDefaults() Config {
	if c.NumberPrefix == "" {
		c.NumberPrefix = "SMY"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.NumberRetries < 0 {
		c.NumberRetries = 0
	}
	if c.DueDays <= 0 {
		c.DueDays = 30
	}
	return c
}

// Params describes one generation run. Zero IssueDate means today in JST;
// zero DueDate means IssueDate plus the configured number of days.
// TargetIDs hold ids of the target entity; for mixed runs they are company ids.
type Params struct {
	InvoiceType domain.InvoiceType
	PeriodStart time.Time
	PeriodEnd   time.Time
	IssueDate   time.Time
	DueDate     time.Time
	TargetIDs   []int64
}

type Engine struct {
	master   repository.MasterRepository
	orders   repository.OrderRepository
	invoices repository.InvoiceRepository
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(master repository.MasterRepository, orders repository.OrderRepository, invoices repository.InvoiceRepository, cfg Config) *Engine {
	return &Engine{
		master:   master,
		orders:   orders,
		invoices: invoices,
		cfg:      cfg.withDefaults(),
		log:      logger.WithComponent("invoicing"),
		now:      time.Now,
	}
}

type outcome struct {
	invoice *domain.GeneratedInvoice
	errMsg  string
	skipped string
}

// Generate creates one draft invoice per target that has un-invoiced orders
// in the period. Only invalid parameters and target resolution failures are
// returned as errors; per-target failures are reported in the result.
func (e *Engine) Generate(ctx context.Context, p Params) (*domain.GenerationResult, error) {
	run, err := e.normalize(p)
	if err != nil {
		return nil, err
	}

	targets, err := resolveTargets(ctx, e.master, run.InvoiceType, run.TargetIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve %s targets: %w", run.InvoiceType, err)
	}

	start := time.Now()
	e.log.Info().
		Str("invoice_type", string(run.InvoiceType)).
		Str("period_start", run.PeriodStart.Format(domain.DateLayout)).
		Str("period_end", run.PeriodEnd.Format(domain.DateLayout)).
		Int("targets", len(targets)).
		Msg("Generating invoices")

	outcomes := make([]outcome, len(targets))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i := range targets {
		g.Go(func() error {
			outcomes[i] = e.generateFor(ctx, targets[i], run)
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.GenerationResult{
		Invoices: []domain.GeneratedInvoice{},
		Errors:   []domain.TargetOutcome{},
		Skipped:  []domain.TargetOutcome{},
	}
	for i, o := range outcomes {
		label := targets[i].Label()
		switch {
		case o.invoice != nil:
			result.Invoices = append(result.Invoices, *o.invoice)
		case o.skipped != "":
			result.Skipped = append(result.Skipped, domain.TargetOutcome{Target: label, Reason: o.skipped})
		default:
			result.Errors = append(result.Errors, domain.TargetOutcome{Target: label, Reason: o.errMsg})
		}
	}

	e.log.Info().
		Int("created", len(result.Invoices)).
		Int("errors", len(result.Errors)).
		Int("skipped", len(result.Skipped)).
		Dur("duration", time.Since(start)).
		Msg("Invoice generation finished")
	return result, nil
}

func (e *Engine) normalize(p Params) (Params, error) {
	t, ok := domain.ParseInvoiceType(string(p.InvoiceType))
	if !ok {
		return p, fmt.Errorf("%w: %q", domain.ErrInvalidInvoiceType, p.InvoiceType)
	}
	p.InvoiceType = t

	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() {
		return p, fmt.Errorf("%w: period start and end are required", domain.ErrInvalidPeriod)
	}
	p.PeriodStart, p.PeriodEnd = domain.DateOnly(p.PeriodStart), domain.DateOnly(p.PeriodEnd)
	if p.PeriodEnd.Before(p.PeriodStart) {
		return p, fmt.Errorf("%w: period end %s is before start %s", domain.ErrInvalidPeriod,
			p.PeriodEnd.Format(domain.DateLayout), p.PeriodStart.Format(domain.DateLayout))
	}

	if p.IssueDate.IsZero() {
		p.IssueDate = e.now()
	}
	p.IssueDate = domain.DateOnly(p.IssueDate)
	if p.DueDate.IsZero() {
		p.DueDate = p.IssueDate.AddDate(0, 0, e.cfg.DueDays)
	}
	p.DueDate = domain.DateOnly(p.DueDate)
	if p.DueDate.Before(p.IssueDate) {
		return p, fmt.Errorf("%w: due date %s is before issue date %s", domain.ErrInvalidPeriod,
			p.DueDate.Format(domain.DateLayout), p.IssueDate.Format(domain.DateLayout))
	}
	return p, nil
}

func (e *Engine) generateFor(ctx context.Context, t Target, run Params) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{errMsg: err.Error()}
	}

	orders, err := e.orders.UninvoicedOrders(ctx, t.orderFilter(run.PeriodStart, run.PeriodEnd))
	if err != nil {
		return outcome{errMsg: fmt.Sprintf("load orders: %v", err)}
	}
	if len(orders) == 0 {
		return outcome{skipped: "no un-invoiced orders in period"}
	}

	inv, details := buildInvoice(t, run, orders)
	warnings, err := e.resolveIdentity(ctx, t, orders, inv)
	if err != nil {
		return outcome{errMsg: err.Error()}
	}

	if err := e.create(ctx, inv, details, run.IssueDate); err != nil {
		e.log.Error().Err(err).Str("target", t.Label()).Msg("Failed to create invoice")
		if errors.Is(err, domain.ErrOrderAlreadyInvoiced) {
			return outcome{errMsg: "orders were invoiced by a concurrent run"}
		}
		return outcome{errMsg: err.Error()}
	}

	return outcome{invoice: &domain.GeneratedInvoice{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TargetName:    t.Name,
		InvoiceType:   inv.InvoiceType,
		Subtotal:      inv.Subtotal,
		TaxAmount:     inv.TaxAmount,
		TotalAmount:   inv.TotalAmount,
		Status:        inv.Status,
		OrderCount:    len(details),
		Warnings:      warnings,
	}}
}

func buildInvoice(t Target, run Params, orders []domain.Order) (*domain.Invoice, []domain.InvoiceDetail) {
	var subtotal int64
	details := make([]domain.InvoiceDetail, 0, len(orders))
	for _, o := range orders {
		subtotal += o.TotalAmount
		details = append(details, domain.InvoiceDetail{
			OrderID:      o.ID,
			DeliveryDate: o.DeliveryDate,
			UserCode:     o.UserCode,
			UserName:     o.UserName,
			ProductCode:  o.ProductCode,
			ProductName:  o.ProductName,
			Quantity:     o.Quantity,
			UnitPrice:    o.UnitPrice,
			Amount:       o.TotalAmount,
		})
	}
	tax, total := domain.InvoiceTotals(subtotal)

	return &domain.Invoice{
		InvoiceType:    t.Type,
		DepartmentID:   t.DepartmentID,
		BillingName:    t.Name,
		CompanyCode:    t.CompanyCode,
		DepartmentCode: t.DepartmentCode,
		UserCode:       t.UserCode,
		PeriodStart:    run.PeriodStart,
		PeriodEnd:      run.PeriodEnd,
		IssueDate:      run.IssueDate,
		DueDate:        run.DueDate,
		Subtotal:       subtotal,
		TaxRate:        domain.TaxRatePercent,
		TaxAmount:      tax,
		TotalAmount:    total,
		Status:         domain.InvoiceStatusDraft,
	}, details
}

// resolveIdentity links the invoice to the company named on its orders and,
// for individual invoices, to the user. Missing masters only produce warnings.
func (e *Engine) resolveIdentity(ctx context.Context, t Target, orders []domain.Order, inv *domain.Invoice) ([]string, error) {
	var warnings []string

	name := orders[0].CompanyName
	company, err := e.master.CompanyByName(ctx, name)
	switch {
	case err == nil:
		id := company.ID
		inv.CompanyID = &id
	case errors.Is(err, domain.ErrNotFound):
		warnings = append(warnings, fmt.Sprintf("company %q not found in master", name))
	default:
		return nil, fmt.Errorf("resolve company %q: %w", name, err)
	}

	if t.Type == domain.InvoiceTypeIndividual {
		user, err := e.master.UserByCode(ctx, t.UserCode)
		switch {
		case err == nil:
			id := user.ID
			inv.UserID = &id
		case errors.Is(err, domain.ErrNotFound):
			warnings = append(warnings, fmt.Sprintf("user %q not found in master", t.UserCode))
		default:
			return nil, fmt.Errorf("resolve user %q: %w", t.UserCode, err)
		}
	}
	return warnings, nil
}

// create stores the invoice, retrying when another writer took the number.
func (e *Engine) create(ctx context.Context, inv *domain.Invoice, details []domain.InvoiceDetail, issue time.Time) error {
	monthPrefix := domain.InvoiceNumberPrefix(e.cfg.NumberPrefix, issue)
	for attempt := 0; ; attempt++ {
		err := e.invoices.CreateInvoice(ctx, monthPrefix, inv, details)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrInvoiceNumberConflict) || attempt >= e.cfg.NumberRetries {
			return err
		}
		e.log.Warn().
			Str("prefix", monthPrefix).
			Int("attempt", attempt+1).
			Msg("Invoice number taken, retrying")
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
