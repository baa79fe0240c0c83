package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/smy-billing/backend-go/internal/config"
	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/invoicing"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/postgres"
	"github.com/andresuchdata/smy-billing/backend-go/internal/service"
)

func newInvoiceService(cfg *config.Config, db *postgres.DB) *service.InvoiceService {
	master := postgres.NewMasterRepository(db)
	orders := postgres.NewOrderRepository(db)
	invoices := postgres.NewInvoiceRepository(db)
	engine := invoicing.NewEngine(master, orders, invoices, invoicing.Config{
		NumberPrefix:  cfg.Invoice.NumberPrefix,
		Workers:       cfg.Invoice.Workers,
		NumberRetries: cfg.Invoice.NumberRetries,
		DueDays:       cfg.Invoice.DueDays,
	})
	return service.NewInvoiceService(engine, invoices, nil)
}

func generateCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate draft invoices for a billing period",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Required: true, Usage: "individual, department_bulk, company_bulk or mixed"},
			&cli.StringFlag{Name: "from", Required: true, Usage: "Period start (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Period end (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "issue-date", Usage: "Issue date (YYYY-MM-DD), defaults to today"},
			&cli.StringFlag{Name: "due-date", Usage: "Due date (YYYY-MM-DD), defaults to issue date + INVOICE_DUE_DAYS"},
			&cli.Int64SliceFlag{Name: "target-id", Usage: "Restrict to these target ids (repeatable)"},
		},
		Before: initDB,
		After:  closeDB,
		Action: func(c *cli.Context) error {
			params := invoicing.Params{
				InvoiceType: domain.InvoiceType(c.String("type")),
				TargetIDs:   c.Int64Slice("target-id"),
			}
			var err error
			for _, d := range []struct {
				flag string
				dst  *time.Time
			}{
				{"from", &params.PeriodStart},
				{"to", &params.PeriodEnd},
				{"issue-date", &params.IssueDate},
				{"due-date", &params.DueDate},
			} {
				if *d.dst, err = dateFlag(c, d.flag); err != nil {
					return err
				}
			}

			result, err := newInvoiceService(cfg, dbFrom(c)).Generate(c.Context, params)
			if err != nil {
				return err
			}
			return printJSON(c, result)
		},
	}
}

func markOverdueCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mark-overdue",
		Usage: "Mark issued and sent invoices past their due date as overdue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "as-of", Usage: "Reference date (YYYY-MM-DD), defaults to today"},
		},
		Before: initDB,
		After:  closeDB,
		Action: func(c *cli.Context) error {
			asOf, err := dateFlag(c, "as-of")
			if err != nil {
				return err
			}
			n, err := newInvoiceService(cfg, dbFrom(c)).MarkOverdue(c.Context, asOf)
			if err != nil {
				return err
			}
			return printJSON(c, map[string]int64{"marked_overdue": n})
		},
	}
}

func dateFlag(c *cli.Context, name string) (time.Time, error) {
	raw := c.String(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}
