// Package memstore is an in-memory implementation of the repository
// interfaces. It enforces the same uniqueness rules as the Postgres schema
// and is used by tests and dry local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

var (
	_ repository.MasterRepository  = (*Store)(nil)
	_ repository.OrderRepository   = (*Store)(nil)
	_ repository.BatchRepository   = (*Store)(nil)
	_ repository.InvoiceRepository = (*Store)(nil)
)

type Store struct {
	mu sync.Mutex

	companies   []domain.Company
	departments []domain.Department
	users       []domain.User
	products    []domain.Product
	suppliers   []domain.Supplier

	orders      map[int64]domain.Order
	nextOrderID int64

	batches    map[string]domain.ImportBatch
	batchOrder []string

	invoices      map[int64]domain.Invoice
	details       map[int64][]domain.InvoiceDetail
	detailOwner   map[int64]int64 // order id -> invoice id
	nextInvoiceID int64
	nextDetailID  int64

	createErrs []error
	commitErr  error
}

func New() *Store {
	return &Store{
		orders:      make(map[int64]domain.Order),
		batches:     make(map[string]domain.ImportBatch),
		invoices:    make(map[int64]domain.Invoice),
		details:     make(map[int64][]domain.InvoiceDetail),
		detailOwner: make(map[int64]int64),
	}
}

// Seeding helpers. A zero ID is replaced by the next free one.

func (s *Store) AddCompany(c domain.Company) domain.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = int64(len(s.companies) + 1)
	}
	if c.BillingMethod == "" {
		c.BillingMethod = domain.BillingCompany
	}
	s.companies = append(s.companies, c)
	return c
}

func (s *Store) AddDepartment(d domain.Department) domain.Department {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = int64(len(s.departments) + 1)
	}
	s.departments = append(s.departments, d)
	return d
}

func (s *Store) AddUser(u domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = int64(len(s.users) + 1)
	}
	s.users = append(s.users, u)
	return u
}

func (s *Store) AddProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = int64(len(s.products) + 1)
	}
	s.products = append(s.products, p)
	return p
}

func (s *Store) AddSupplier(sp domain.Supplier) domain.Supplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp.ID == 0 {
		sp.ID = int64(len(s.suppliers) + 1)
	}
	s.suppliers = append(s.suppliers, sp)
	return sp
}

// AddOrder stores an order directly, bypassing any batch.
func (s *Store) AddOrder(o domain.Order) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertOrder(o)
}

// Orders returns every stored order ordered by id.
func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invoices returns every invoice with its details ordered by id.
func (s *Store) Invoices() []domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Invoice, 0, len(s.invoices))
	for id, inv := range s.invoices {
		inv.Details = append([]domain.InvoiceDetail(nil), s.details[id]...)
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FailCreateInvoice makes the next CreateInvoice calls return errs in order.
func (s *Store) FailCreateInvoice(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs = append(s.createErrs, errs...)
}

// FailCommits makes CommitBatch return err until reset with nil.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *Store) insertOrder(o domain.Order) domain.Order {
	s.nextOrderID++
	o.ID = s.nextOrderID
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = o
	return o
}

// MasterRepository

func (s *Store) CompaniesByCodes(_ context.Context, codes []string) ([]domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := stringSet(codes)
	var out []domain.Company
	for _, c := range s.companies {
		if set[c.Code] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) DepartmentsByCodes(_ context.Context, codes []string) ([]domain.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := stringSet(codes)
	var out []domain.Department
	for _, d := range s.departments {
		if set[d.Code] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) UsersByCodes(_ context.Context, codes []string) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := stringSet(codes)
	var out []domain.User
	for _, u := range s.users {
		if set[u.Code] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) ProductsByCodes(_ context.Context, codes []string) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := stringSet(codes)
	var out []domain.Product
	for _, p := range s.products {
		if set[p.Code] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) SuppliersByCodes(_ context.Context, codes []string) ([]domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := stringSet(codes)
	var out []domain.Supplier
	for _, sp := range s.suppliers {
		if set[sp.Code] {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *Store) CompaniesByIDs(_ context.Context, ids []int64) ([]domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := idSet(ids)
	var out []domain.Company
	for _, c := range s.companies {
		if set[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) CompanyByName(_ context.Context, name string) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.Company
	for i := range s.companies {
		c := s.companies[i]
		if c.Name == name && (found == nil || c.ID < found.ID) {
			found = &c
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (s *Store) UserByCode(_ context.Context, code string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Code == code {
			u := u
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ActiveCompanies(_ context.Context, ids []int64) ([]domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := idSet(ids)
	var out []domain.Company
	for _, c := range s.companies {
		if c.Active && (len(ids) == 0 || set[c.ID]) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ActiveDepartments(_ context.Context, q repository.MasterQuery) ([]domain.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, companies := idSet(q.IDs), idSet(q.CompanyIDs)
	var out []domain.Department
	for _, d := range s.departments {
		if !d.Active || (len(q.IDs) > 0 && !ids[d.ID]) || (len(q.CompanyIDs) > 0 && !companies[d.CompanyID]) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompanyID != out[j].CompanyID {
			return out[i].CompanyID < out[j].CompanyID
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ActiveUsers(_ context.Context, q repository.MasterQuery) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, companies := idSet(q.IDs), idSet(q.CompanyIDs)
	var out []domain.User
	for _, u := range s.users {
		if !u.Active || (len(q.IDs) > 0 && !ids[u.ID]) || (len(q.CompanyIDs) > 0 && !companies[u.CompanyID]) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompanyID != out[j].CompanyID {
			return out[i].CompanyID < out[j].CompanyID
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// OrderRepository

func (s *Store) ExistingOrders(_ context.Context, from, to time.Time, userCodes []string) ([]domain.ExistingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := stringSet(userCodes)
	var out []domain.ExistingOrder
	for _, o := range s.orders {
		if !users[o.UserCode] || !inPeriod(o.DeliveryDate, from, to) {
			continue
		}
		_, invoiced := s.detailOwner[o.ID]
		out = append(out, domain.ExistingOrder{
			ID:           o.ID,
			DeliveryDate: o.DeliveryDate,
			UserCode:     o.UserCode,
			ProductCode:  o.ProductCode,
			Invoiced:     invoiced,
		})
	}
	return out, nil
}

func (s *Store) UninvoicedOrders(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if _, invoiced := s.detailOwner[o.ID]; invoiced {
			continue
		}
		if !inPeriod(o.DeliveryDate, f.PeriodStart, f.PeriodEnd) {
			continue
		}
		if (f.CompanyCode != "" && o.CompanyCode != f.CompanyCode) ||
			(f.DepartmentCode != "" && o.DepartmentCode != f.DepartmentCode) ||
			(f.UserCode != "" && o.UserCode != f.UserCode) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DeliveryDate.Format(domain.DateLayout), out[j].DeliveryDate.Format(domain.DateLayout)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// BatchRepository

func (s *Store) CreateBatch(_ context.Context, batch *domain.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.BatchID]; ok {
		return fmt.Errorf("batch %s already exists", batch.BatchID)
	}
	s.batches[batch.BatchID] = *batch
	s.batchOrder = append(s.batchOrder, batch.BatchID)
	return nil
}

func (s *Store) CommitBatch(_ context.Context, batch *domain.ImportBatch, inserts []domain.Order, replacements []domain.OrderReplacement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if _, ok := s.batches[batch.BatchID]; !ok {
		return domain.ErrNotFound
	}

	// Validate everything first so a failure leaves the store untouched.
	keys := make(map[domain.OrderKey]int64, len(s.orders))
	for id, o := range s.orders {
		keys[o.Key()] = id
	}
	var removed []int64
	for _, rep := range replacements {
		existing, ok := s.orders[rep.ExistingID]
		if !ok {
			// replaced by a concurrent import already
			continue
		}
		if _, invoiced := s.detailOwner[rep.ExistingID]; invoiced {
			return fmt.Errorf("replace order %d: %w", rep.ExistingID, domain.ErrOrderAlreadyInvoiced)
		}
		delete(keys, existing.Key())
		removed = append(removed, rep.ExistingID)
	}

	stats := batch.Stats
	var written []domain.Order
	write := func(o domain.Order, replacement bool) {
		if _, dup := keys[o.Key()]; dup {
			stats.LateDuplicate(replacement)
			return
		}
		keys[o.Key()] = 0
		written = append(written, o)
	}
	for _, rep := range replacements {
		write(rep.Order, true)
	}
	for _, o := range inserts {
		write(o, false)
	}

	for _, id := range removed {
		delete(s.orders, id)
	}
	for _, o := range written {
		s.insertOrder(o)
	}
	batch.Stats = stats
	stored := *batch
	stored.Errors = append([]domain.RowError(nil), batch.Errors...)
	s.batches[batch.BatchID] = stored
	return nil
}

func (s *Store) FailBatch(_ context.Context, batchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status != domain.BatchStatusProcessing {
		return nil
	}
	now := time.Now()
	b.Status = domain.BatchStatusFailed
	b.FailReason = reason
	b.CompletedAt = &now
	s.batches[batchID] = b
	return nil
}

func (s *Store) GetBatch(_ context.Context, batchID string) (*domain.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	b.Errors = append([]domain.RowError(nil), b.Errors...)
	return &b, nil
}

func (s *Store) ListBatches(_ context.Context, limit int) ([]domain.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]domain.ImportBatch, 0, limit)
	for i := len(s.batchOrder) - 1; i >= 0 && len(out) < limit; i-- {
		b := s.batches[s.batchOrder[i]]
		b.Errors = nil
		out = append(out, b)
	}
	return out, nil
}

// InvoiceRepository

func (s *Store) CreateInvoice(_ context.Context, monthPrefix string, inv *domain.Invoice, details []domain.InvoiceDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return err
		}
	}

	for _, d := range details {
		if owner, ok := s.detailOwner[d.OrderID]; ok {
			return fmt.Errorf("order %d on invoice %d: %w", d.OrderID, owner, domain.ErrOrderAlreadyInvoiced)
		}
	}

	seq := 0
	for _, existing := range s.invoices {
		if n, ok := domain.ParseInvoiceSequence(monthPrefix, existing.InvoiceNumber); ok && n > seq {
			seq = n
		}
	}

	created := *inv
	s.nextInvoiceID++
	created.ID = s.nextInvoiceID
	created.InvoiceNumber = domain.FormatInvoiceNumber(monthPrefix, seq+1)
	now := time.Now()
	created.CreatedAt, created.UpdatedAt = now, now
	created.Details = nil

	stored := make([]domain.InvoiceDetail, len(details))
	for i, d := range details {
		s.nextDetailID++
		d.ID = s.nextDetailID
		d.InvoiceID = created.ID
		stored[i] = d
		s.detailOwner[d.OrderID] = created.ID
	}
	s.invoices[created.ID] = created
	s.details[created.ID] = stored

	created.Details = append([]domain.InvoiceDetail(nil), stored...)
	*inv = created
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id int64) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	inv.Details = append([]domain.InvoiceDetail{}, s.details[id]...)
	return &inv, nil
}

func (s *Store) ListInvoices(_ context.Context, f domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Invoice{}
	for _, inv := range s.invoices {
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Type != "" && inv.InvoiceType != f.Type {
			continue
		}
		if f.CompanyCode != "" && inv.CompanyCode != f.CompanyCode {
			continue
		}
		if f.PeriodStart != nil && dateKey(inv.PeriodEnd) < dateKey(*f.PeriodStart) {
			continue
		}
		if f.PeriodEnd != nil && dateKey(inv.PeriodStart) > dateKey(*f.PeriodEnd) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := dateKey(out[i].IssueDate), dateKey(out[j].IssueDate)
		if di != dj {
			return di > dj
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []domain.Invoice{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateInvoiceStatus(_ context.Context, id int64, status domain.InvoiceStatus) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(inv.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, inv.Status, status)
	}
	inv.Status = status
	inv.UpdatedAt = time.Now()
	s.invoices[id] = inv
	return &inv, nil
}

func (s *Store) DeleteInvoice(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return domain.ErrNotFound
	}
	if inv.Status != domain.InvoiceStatusDraft {
		return fmt.Errorf("%w: invoice %d is %s", domain.ErrInvoiceNotDraft, id, inv.Status)
	}
	for _, d := range s.details[id] {
		delete(s.detailOwner, d.OrderID)
	}
	delete(s.details, id)
	delete(s.invoices, id)
	return nil
}

func (s *Store) MarkOverdue(_ context.Context, asOf time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.invoices {
		overdueSource := false
		for _, st := range domain.OverdueSources() {
			if inv.Status == st {
				overdueSource = true
			}
		}
		if overdueSource && dateKey(inv.DueDate) < dateKey(asOf) {
			inv.Status = domain.InvoiceStatusOverdue
			inv.UpdatedAt = time.Now()
			s.invoices[id] = inv
			n++
		}
	}
	return n, nil
}

func dateKey(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func inPeriod(t, from, to time.Time) bool {
	d := dateKey(t)
	return d >= dateKey(from) && d <= dateKey(to)
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func idSet(values []int64) map[int64]bool {
	set := make(map[int64]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
