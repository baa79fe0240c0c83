package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/invoicing"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/memstore"
)

type memoryBatchCache struct {
	items map[string]domain.ImportBatch
	sets  int
}

func (c *memoryBatchCache) GetBatch(_ context.Context, id string) (*domain.ImportBatch, bool, error) {
	b, ok := c.items[id]
	if !ok {
		return nil, false, nil
	}
	return &b, true, nil
}

func (c *memoryBatchCache) SetBatch(_ context.Context, b *domain.ImportBatch) error {
	c.items[b.BatchID] = *b
	c.sets++
	return nil
}

func (c *memoryBatchCache) InvalidateBatch(_ context.Context, id string) error {
	delete(c.items, id)
	return nil
}

type countingListCache struct {
	hits, invalidations int
	pages               map[domain.InvoiceFilter][]domain.Invoice
}

func (c *countingListCache) GetList(_ context.Context, f domain.InvoiceFilter) ([]domain.Invoice, bool, error) {
	inv, ok := c.pages[f]
	if ok {
		c.hits++
	}
	return inv, ok, nil
}

func (c *countingListCache) SetList(_ context.Context, f domain.InvoiceFilter, inv []domain.Invoice) error {
	c.pages[f] = inv
	return nil
}

func (c *countingListCache) InvalidateAll(context.Context) error {
	c.invalidations++
	c.pages = map[domain.InvoiceFilter][]domain.Invoice{}
	return nil
}

func TestBatchServiceCachesFinishedBatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, id := range []string{"done", "running"} {
		if err := store.CreateBatch(ctx, &domain.ImportBatch{BatchID: id, FileName: id + ".csv", Status: domain.BatchStatusProcessing, StartedAt: time.Now()}); err != nil {
			t.Fatalf("CreateBatch() error = %v", err)
		}
	}
	done := &domain.ImportBatch{BatchID: "done", Status: domain.BatchStatusCompleted, Stats: domain.ImportStats{Total: 1, Error: 1}}
	if err := store.CommitBatch(ctx, done, nil, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}

	c := &memoryBatchCache{items: map[string]domain.ImportBatch{}}
	svc := NewBatchService(store, c)

	if _, err := svc.GetBatch(ctx, "running"); err != nil {
		t.Fatalf("GetBatch(running) error = %v", err)
	}
	if c.sets != 0 {
		t.Errorf("processing batch was cached")
	}

	if _, err := svc.GetBatch(ctx, "done"); err != nil {
		t.Fatalf("GetBatch(done) error = %v", err)
	}
	if _, err := svc.GetBatch(ctx, "done"); err != nil {
		t.Fatalf("GetBatch(done) error = %v", err)
	}
	if c.sets != 1 {
		t.Errorf("cache sets = %d, want 1", c.sets)
	}

	if _, err := svc.GetBatch(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetBatch(missing) error = %v, want ErrNotFound", err)
	}

	list, err := svc.ListBatches(ctx, 0)
	if err != nil || len(list) != 2 {
		t.Errorf("ListBatches() = %d, %v; want 2 batches", len(list), err)
	}
}

func seedInvoice(t *testing.T, store *memstore.Store) *InvoiceService {
	t.Helper()
	acme := store.AddCompany(domain.Company{Code: "C001", Name: "ACME", Active: true})
	jst := func(d int) time.Time { return time.Date(2024, 7, d, 0, 0, 0, 0, domain.JST) }
	store.AddOrder(domain.Order{DeliveryDate: jst(3), CompanyCode: acme.Code, CompanyName: acme.Name, UserCode: "U001", ProductCode: "P01", Quantity: 2, UnitPrice: 500, TotalAmount: 1000})

	engine := invoicing.NewEngine(store, store, store, invoicing.Config{})
	return NewInvoiceService(engine, store, &countingListCache{pages: map[domain.InvoiceFilter][]domain.Invoice{}})
}

func generateJuly(t *testing.T, svc *InvoiceService) domain.GeneratedInvoice {
	t.Helper()
	res, err := svc.Generate(context.Background(), invoicing.Params{
		InvoiceType: domain.InvoiceTypeCompanyBulk,
		PeriodStart: time.Date(2024, 7, 1, 0, 0, 0, 0, domain.JST),
		PeriodEnd:   time.Date(2024, 7, 31, 0, 0, 0, 0, domain.JST),
		IssueDate:   time.Date(2024, 8, 1, 0, 0, 0, 0, domain.JST),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices) != 1 {
		t.Fatalf("Generate() = %+v, want one invoice", res)
	}
	return res.Invoices[0]
}

func TestInvoiceServiceStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := seedInvoice(t, store)
	cache := svc.cache.(*countingListCache)
	gen := generateJuly(t, svc)

	if _, err := svc.UpdateStatus(ctx, gen.ID, "paid"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("draft -> paid error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.UpdateStatus(ctx, gen.ID, "archived"); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("unknown status error = %v, want ErrInvalidStatus", err)
	}

	for _, next := range []string{"issued", "sent"} {
		inv, err := svc.UpdateStatus(ctx, gen.ID, next)
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", next, err)
		}
		if string(inv.Status) != next {
			t.Errorf("status = %s, want %s", inv.Status, next)
		}
	}

	if err := svc.DeleteInvoice(ctx, gen.ID); !errors.Is(err, domain.ErrInvoiceNotDraft) {
		t.Errorf("DeleteInvoice(sent) error = %v, want ErrInvoiceNotDraft", err)
	}

	// due 2024-08-31, so only a later sweep marks it
	if n, err := svc.MarkOverdue(ctx, time.Date(2024, 8, 31, 12, 0, 0, 0, domain.JST)); err != nil || n != 0 {
		t.Errorf("MarkOverdue(due date) = %d, %v; want 0", n, err)
	}
	if n, err := svc.MarkOverdue(ctx, time.Date(2024, 9, 1, 0, 0, 0, 0, domain.JST)); err != nil || n != 1 {
		t.Errorf("MarkOverdue(after due) = %d, %v; want 1", n, err)
	}
	inv, err := svc.GetInvoice(ctx, gen.ID)
	if err != nil {
		t.Fatalf("GetInvoice() error = %v", err)
	}
	if inv.Status != domain.InvoiceStatusOverdue {
		t.Errorf("status = %s, want overdue", inv.Status)
	}
	// generate, issued, sent, overdue sweep
	if cache.invalidations != 4 {
		t.Errorf("invalidations = %d, want 4", cache.invalidations)
	}
}

func TestInvoiceServiceDeleteFreesOrders(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := seedInvoice(t, store)

	first := generateJuly(t, svc)
	if err := svc.DeleteInvoice(ctx, first.ID); err != nil {
		t.Fatalf("DeleteInvoice() error = %v", err)
	}
	if _, err := svc.GetInvoice(ctx, first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetInvoice(deleted) error = %v, want ErrNotFound", err)
	}

	second := generateJuly(t, svc)
	if second.TotalAmount != first.TotalAmount {
		t.Errorf("regenerated total = %d, want %d", second.TotalAmount, first.TotalAmount)
	}
}

func TestInvoiceServiceListUsesCache(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := seedInvoice(t, store)
	cache := svc.cache.(*countingListCache)
	generateJuly(t, svc)

	filter := domain.InvoiceFilter{Status: domain.InvoiceStatusDraft}
	for i := 0; i < 2; i++ {
		list, err := svc.ListInvoices(ctx, filter)
		if err != nil {
			t.Fatalf("ListInvoices() error = %v", err)
		}
		if len(list) != 1 {
			t.Errorf("ListInvoices() = %d invoices, want 1", len(list))
		}
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}
}
