// backend-go/internal/repository/repository.go
package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
)

// MasterQuery narrows an active master lookup. Empty slices do not constrain.
type MasterQuery struct {
	IDs        []int64
	CompanyIDs []int64
}

// MasterRepository reads the master tables. The *ByCodes lookups return
// inactive rows too so that old exports still resolve.
type MasterRepository interface {
	CompaniesByCodes(ctx context.Context, codes []string) ([]domain.Company, error)
	DepartmentsByCodes(ctx context.Context, codes []string) ([]domain.Department, error)
	UsersByCodes(ctx context.Context, codes []string) ([]domain.User, error)
	ProductsByCodes(ctx context.Context, codes []string) ([]domain.Product, error)
	SuppliersByCodes(ctx context.Context, codes []string) ([]domain.Supplier, error)

	CompaniesByIDs(ctx context.Context, ids []int64) ([]domain.Company, error)
	CompanyByName(ctx context.Context, name string) (*domain.Company, error)
	UserByCode(ctx context.Context, code string) (*domain.User, error)

	ActiveCompanies(ctx context.Context, ids []int64) ([]domain.Company, error)
	ActiveDepartments(ctx context.Context, q MasterQuery) ([]domain.Department, error)
	ActiveUsers(ctx context.Context, q MasterQuery) ([]domain.User, error)
}

type OrderRepository interface {
	// ExistingOrders returns stored orders delivered in [from, to] for the
	// given user codes, flagged when an invoice already absorbed them.
	ExistingOrders(ctx context.Context, from, to time.Time, userCodes []string) ([]domain.ExistingOrder, error)
	// UninvoicedOrders returns orders matching the filter that no invoice
	// detail references, ordered by delivery date and id.
	UninvoicedOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
}

type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *domain.ImportBatch) error
	// CommitBatch writes the orders and finalizes the batch atomically.
	CommitBatch(ctx context.Context, batch *domain.ImportBatch, inserts []domain.Order, replacements []domain.OrderReplacement) error
	FailBatch(ctx context.Context, batchID, reason string) error
	GetBatch(ctx context.Context, batchID string) (*domain.ImportBatch, error)
	ListBatches(ctx context.Context, limit int) ([]domain.ImportBatch, error)
}

type InvoiceRepository interface {
	// CreateInvoice allocates the next number under monthPrefix and stores
	// the invoice with its details in one transaction. It sets inv.ID,
	// inv.InvoiceNumber and the detail ids on success.
	CreateInvoice(ctx context.Context, monthPrefix string, inv *domain.Invoice, details []domain.InvoiceDetail) error
	GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, f domain.InvoiceFilter) ([]domain.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status domain.InvoiceStatus) (*domain.Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) error
	// MarkOverdue moves issued and sent invoices due before asOf to overdue.
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}
