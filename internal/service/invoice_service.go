package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/smy-billing/backend-go/internal/cache"
	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/invoicing"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

// Generator runs invoice generation; *invoicing.Engine implements it.
type Generator interface {
	Generate(ctx context.Context, p invoicing.Params) (*domain.GenerationResult, error)
}

type InvoiceService struct {
	generator Generator
	repo      repository.InvoiceRepository
	cache     cache.InvoiceListCache
	now       func() time.Time
}

func NewInvoiceService(generator Generator, repo repository.InvoiceRepository, cacheImpl cache.InvoiceListCache) *InvoiceService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopInvoiceListCache()
	}
	return &InvoiceService{generator: generator, repo: repo, cache: cacheImpl, now: time.Now}
}

func (s *InvoiceService) Generate(ctx context.Context, p invoicing.Params) (*domain.GenerationResult, error) {
	result, err := s.generator.Generate(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(result.Invoices) > 0 {
		s.invalidate(ctx)
	}
	return result, nil
}

func (s *InvoiceService) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	if invoices, ok, err := s.cache.GetList(ctx, filter); err == nil && ok {
		return invoices, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("invoices: cache get list failed")
	}

	invoices, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetList(ctx, filter, invoices); err != nil {
		log.Warn().Err(err).Msg("invoices: cache set list failed")
	}
	return invoices, nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// UpdateStatus moves an invoice along the allowed status transitions.
func (s *InvoiceService) UpdateStatus(ctx context.Context, id int64, label string) (*domain.Invoice, error) {
	status, ok := domain.ParseInvoiceStatus(label)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, label)
	}
	inv, err := s.repo.UpdateInvoiceStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return inv, nil
}

// DeleteInvoice removes a draft invoice so its orders can be billed again.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, id int64) error {
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// MarkOverdue flags issued and sent invoices whose due date is before asOf.
// A zero asOf means today in JST.
func (s *InvoiceService) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	n, err := s.repo.MarkOverdue(ctx, domain.DateOnly(asOf))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

func (s *InvoiceService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("invoices: cache invalidate failed")
	}
}
