// backend-go/internal/domain/models.go
package domain

import "time"

// Company is a billed customer.
type Company struct {
	ID            int64         `json:"id" db:"id"`
	Code          string        `json:"code" db:"code"`
	Name          string        `json:"name" db:"name"`
	BillingMethod BillingMethod `json:"billing_method" db:"billing_method"`
	Active        bool          `json:"is_active" db:"is_active"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Department belongs to a company; its code is unique within that company.
type Department struct {
	ID        int64     `json:"id" db:"id"`
	CompanyID int64     `json:"company_id" db:"company_id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// User is an employee who receives meals. Codes are globally unique.
type User struct {
	ID           int64     `json:"id" db:"id"`
	CompanyID    int64     `json:"company_id" db:"company_id"`
	DepartmentID *int64    `json:"department_id,omitempty" db:"department_id"`
	Code         string    `json:"code" db:"code"`
	Name         string    `json:"name" db:"name"`
	Active       bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Product is a menu item.
type Product struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	UnitPrice int64     `json:"unit_price" db:"unit_price"`
	Active    bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Supplier is the catering vendor named on a delivery row.
type Supplier struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Order is one delivered meal line. Code and name fields are stored as read
// from the import file; the *ID fields hold the master rows they resolved to.
type Order struct {
	ID                 int64     `json:"id" db:"id"`
	DeliveryDate       time.Time `json:"delivery_date" db:"delivery_date"`
	CompanyID          *int64    `json:"company_id,omitempty" db:"company_id"`
	CompanyCode        string    `json:"company_code" db:"company_code"`
	CompanyName        string    `json:"company_name" db:"company_name"`
	SiteCode           string    `json:"site_code" db:"site_code"`
	SiteName           string    `json:"site_name" db:"site_name"`
	SupplierID         *int64    `json:"supplier_id,omitempty" db:"supplier_id"`
	SupplierCode       string    `json:"supplier_code" db:"supplier_code"`
	SupplierName       string    `json:"supplier_name" db:"supplier_name"`
	MealCategoryCode   string    `json:"meal_category_code" db:"meal_category_code"`
	MealCategoryName   string    `json:"meal_category_name" db:"meal_category_name"`
	DepartmentID       *int64    `json:"department_id,omitempty" db:"department_id"`
	DepartmentCode     string    `json:"department_code" db:"department_code"`
	DepartmentName     string    `json:"department_name" db:"department_name"`
	UserID             *int64    `json:"user_id,omitempty" db:"user_id"`
	UserCode           string    `json:"user_code" db:"user_code"`
	UserName           string    `json:"user_name" db:"user_name"`
	EmploymentTypeCode string    `json:"employment_type_code" db:"employment_type_code"`
	EmploymentTypeName string    `json:"employment_type_name" db:"employment_type_name"`
	ProductID          *int64    `json:"product_id,omitempty" db:"product_id"`
	ProductCode        string    `json:"product_code" db:"product_code"`
	ProductName        string    `json:"product_name" db:"product_name"`
	Quantity           int64     `json:"quantity" db:"quantity"`
	UnitPrice          int64     `json:"unit_price" db:"unit_price"`
	TotalAmount        int64     `json:"total_amount" db:"total_amount"`
	Notes              string    `json:"notes" db:"notes"`
	ReceiptTime        string    `json:"receipt_time" db:"receipt_time"`
	CoopCode           string    `json:"coop_code" db:"coop_code"`
	BatchID            string    `json:"batch_id" db:"batch_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// OrderKey identifies an order for duplicate detection.
type OrderKey struct {
	DeliveryDate string
	UserCode     string
	ProductCode  string
}

// Key returns the duplicate-detection key of the order.
func (o Order) Key() OrderKey {
	return NewOrderKey(o.DeliveryDate, o.UserCode, o.ProductCode)
}

func NewOrderKey(deliveryDate time.Time, userCode, productCode string) OrderKey {
	return OrderKey{
		DeliveryDate: deliveryDate.Format(DateLayout),
		UserCode:     userCode,
		ProductCode:  productCode,
	}
}

// ExistingOrder is the slice of a stored order the importer needs to decide
// between skip, replace and reject.
type ExistingOrder struct {
	ID           int64     `db:"id"`
	DeliveryDate time.Time `db:"delivery_date"`
	UserCode     string    `db:"user_code"`
	ProductCode  string    `db:"product_code"`
	Invoiced     bool      `db:"invoiced"`
}

func (e ExistingOrder) Key() OrderKey {
	return NewOrderKey(e.DeliveryDate, e.UserCode, e.ProductCode)
}

// OrderReplacement swaps a stored order for a freshly imported one.
type OrderReplacement struct {
	ExistingID int64
	Order      Order
}

// OrderFilter selects un-invoiced orders for one billing target. Empty codes
// do not constrain the query.
type OrderFilter struct {
	PeriodStart    time.Time
	PeriodEnd      time.Time
	CompanyCode    string
	DepartmentCode string
	UserCode       string
}

// ImportStats are the counters of one import. Total always equals
// Success + Error + Duplicate.
type ImportStats struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	Error     int `json:"error"`
	Duplicate int `json:"duplicate"`
	Replaced  int `json:"replaced"`
}

// LateDuplicate moves one written row to the duplicate counter. It is used
// when a concurrent import stored the same natural key first.
func (s *ImportStats) LateDuplicate(replacement bool) {
	s.Success--
	s.Duplicate++
	if replacement {
		s.Replaced--
	}
}

// RowError describes why a data row was not written.
type RowError struct {
	Row       int          `json:"row"`
	Kind      RowErrorKind `json:"kind"`
	Reason    string       `json:"reason"`
	RawFields []string     `json:"raw_fields,omitempty"`
}

// ImportBatch tracks one uploaded file from the first row to finalization.
type ImportBatch struct {
	BatchID     string      `json:"batch_id" db:"batch_id"`
	FileName    string      `json:"file_name" db:"file_name"`
	Encoding    string      `json:"encoding" db:"encoding"`
	Overwrite   bool        `json:"overwrite" db:"overwrite"`
	Status      BatchStatus `json:"status" db:"status"`
	Stats       ImportStats `json:"stats" db:"-"`
	Errors      []RowError  `json:"errors,omitempty" db:"-"`
	ArchiveKey  string      `json:"archive_key,omitempty" db:"archive_key"`
	FailReason  string      `json:"fail_reason,omitempty" db:"fail_reason"`
	StartedAt   time.Time   `json:"started_at" db:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// ImportResult is returned to the caller of an import.
type ImportResult struct {
	BatchID          string      `json:"batch_id,omitempty"`
	FileName         string      `json:"file_name"`
	Stats            ImportStats `json:"stats"`
	Errors           []RowError  `json:"errors"`
	EncodingDetected string      `json:"encoding_detected"`
	DryRun           bool        `json:"dry_run"`
}

// Invoice is a generated bill for one target and period.
type Invoice struct {
	ID             int64           `json:"id" db:"id"`
	InvoiceNumber  string          `json:"invoice_number" db:"invoice_number"`
	InvoiceType    InvoiceType     `json:"invoice_type" db:"invoice_type"`
	CompanyID      *int64          `json:"company_id,omitempty" db:"company_id"`
	DepartmentID   *int64          `json:"department_id,omitempty" db:"department_id"`
	UserID         *int64          `json:"user_id,omitempty" db:"user_id"`
	BillingName    string          `json:"billing_name" db:"billing_name"`
	CompanyCode    string          `json:"company_code" db:"company_code"`
	DepartmentCode string          `json:"department_code,omitempty" db:"department_code"`
	UserCode       string          `json:"user_code,omitempty" db:"user_code"`
	PeriodStart    time.Time       `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time       `json:"period_end" db:"period_end"`
	IssueDate      time.Time       `json:"issue_date" db:"issue_date"`
	DueDate        time.Time       `json:"due_date" db:"due_date"`
	Subtotal       int64           `json:"subtotal" db:"subtotal"`
	TaxRate        int64           `json:"tax_rate" db:"tax_rate"`
	TaxAmount      int64           `json:"tax_amount" db:"tax_amount"`
	TotalAmount    int64           `json:"total_amount" db:"total_amount"`
	Status         InvoiceStatus   `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	Details        []InvoiceDetail `json:"details,omitempty" db:"-"`
}

// InvoiceDetail is one order absorbed into an invoice.
type InvoiceDetail struct {
	ID           int64     `json:"id" db:"id"`
	InvoiceID    int64     `json:"invoice_id" db:"invoice_id"`
	OrderID      int64     `json:"order_id" db:"order_id"`
	DeliveryDate time.Time `json:"delivery_date" db:"delivery_date"`
	UserCode     string    `json:"user_code" db:"user_code"`
	UserName     string    `json:"user_name" db:"user_name"`
	ProductCode  string    `json:"product_code" db:"product_code"`
	ProductName  string    `json:"product_name" db:"product_name"`
	Quantity     int64     `json:"quantity" db:"quantity"`
	UnitPrice    int64     `json:"unit_price" db:"unit_price"`
	Amount       int64     `json:"amount" db:"amount"`
}

// InvoiceFilter represents filters for invoice listing
type InvoiceFilter struct {
	Status      InvoiceStatus
	Type        InvoiceType
	CompanyCode string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Limit       int
	Offset      int
}

// GeneratedInvoice summarizes one invoice created by a generation run.
type GeneratedInvoice struct {
	ID            int64         `json:"id"`
	InvoiceNumber string        `json:"invoice_number"`
	TargetName    string        `json:"target_name"`
	InvoiceType   InvoiceType   `json:"invoice_type"`
	Subtotal      int64         `json:"subtotal"`
	TaxAmount     int64         `json:"tax_amount"`
	TotalAmount   int64         `json:"total_amount"`
	Status        InvoiceStatus `json:"status"`
	OrderCount    int           `json:"order_count"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// TargetOutcome reports a target that produced no invoice.
type TargetOutcome struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// GenerationResult is returned by a generation run, ordered by target.
type GenerationResult struct {
	Invoices []GeneratedInvoice `json:"invoices"`
	Errors   []TargetOutcome    `json:"errors"`
	Skipped  []TargetOutcome    `json:"skipped"`
}
