package invoicing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/memstore"
)

type fixture struct {
	store *memstore.Store
	acme  domain.Company
	beta  domain.Company
	gamma domain.Company
}

func date(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func newFixture() *fixture {
	s := memstore.New()
	f := &fixture{store: s}
	f.acme = s.AddCompany(domain.Company{Code: "C001", Name: "ACME", BillingMethod: domain.BillingCompany, Active: true})
	f.beta = s.AddCompany(domain.Company{Code: "C002", Name: "Beta", BillingMethod: domain.BillingDepartment, Active: true})
	f.gamma = s.AddCompany(domain.Company{Code: "C003", Name: "Gamma", BillingMethod: domain.BillingIndividual, Active: true})

	s.AddDepartment(domain.Department{CompanyID: f.acme.ID, Code: "D01", Name: "総務部", Active: true})
	sales := s.AddDepartment(domain.Department{CompanyID: f.beta.ID, Code: "D10", Name: "営業部", Active: true})
	s.AddDepartment(domain.Department{CompanyID: f.beta.ID, Code: "D11", Name: "開発部", Active: true})

	s.AddUser(domain.User{CompanyID: f.acme.ID, Code: "U001", Name: "山田太郎", Active: true})
	s.AddUser(domain.User{CompanyID: f.acme.ID, Code: "U002", Name: "佐藤花子", Active: true})
	s.AddUser(domain.User{CompanyID: f.acme.ID, Code: "U003", Name: "鈴木一郎", Active: true})
	s.AddUser(domain.User{CompanyID: f.beta.ID, DepartmentID: &sales.ID, Code: "U900", Name: "田中次郎", Active: true})
	s.AddUser(domain.User{CompanyID: f.gamma.ID, Code: "U300", Name: "高橋三郎", Active: true})
	return f
}

func (f *fixture) order(day string, c domain.Company, dept, user string, qty, price int64) domain.Order {
	return f.store.AddOrder(domain.Order{
		DeliveryDate:   date(day),
		CompanyCode:    c.Code,
		CompanyName:    c.Name,
		DepartmentCode: dept,
		UserCode:       user,
		ProductCode:    "P01",
		ProductName:    "日替わり弁当",
		Quantity:       qty,
		UnitPrice:      price,
		TotalAmount:    qty * price,
	})
}

func (f *fixture) engine(cfg Config) *Engine {
	e := NewEngine(f.store, f.store, f.store, cfg)
	e.now = func() time.Time { return time.Date(2024, 8, 1, 10, 0, 0, 0, domain.JST) }
	return e
}

func july(t domain.InvoiceType, ids ...int64) Params {
	return Params{
		InvoiceType: t,
		PeriodStart: date("2024-07-01"),
		PeriodEnd:   date("2024-07-31"),
		TargetIDs:   ids,
	}
}

func TestGenerateCompanyBulkTotals(t *testing.T) {
	f := newFixture()
	f.order("2024-07-03", f.acme, "D01", "U001", 6, 1000)
	f.order("2024-07-31", f.acme, "D01", "U002", 4, 1000)
	f.order("2024-06-30", f.acme, "D01", "U001", 1, 500)
	f.order("2024-08-01", f.acme, "D01", "U001", 1, 500)

	res, err := f.engine(Config{}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices) != 1 || len(res.Errors) != 0 || len(res.Skipped) != 0 {
		t.Fatalf("result = %+v, want one invoice", res)
	}

	got := res.Invoices[0]
	if got.Subtotal != 10000 || got.TaxAmount != 1000 || got.TotalAmount != 11000 {
		t.Errorf("amounts = %d/%d/%d, want 10000/1000/11000", got.Subtotal, got.TaxAmount, got.TotalAmount)
	}
	if got.InvoiceNumber != "SMY-202408-001" {
		t.Errorf("InvoiceNumber = %q, want SMY-202408-001", got.InvoiceNumber)
	}
	if got.Status != domain.InvoiceStatusDraft || got.OrderCount != 2 {
		t.Errorf("status/count = %s/%d, want draft/2", got.Status, got.OrderCount)
	}

	inv, err := f.store.GetInvoice(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("GetInvoice() error = %v", err)
	}
	var sum int64
	for _, d := range inv.Details {
		sum += d.Amount
	}
	if sum != inv.Subtotal {
		t.Errorf("detail sum = %d, subtotal = %d", sum, inv.Subtotal)
	}
	if inv.CompanyID == nil || *inv.CompanyID != f.acme.ID {
		t.Errorf("CompanyID = %v, want %d", inv.CompanyID, f.acme.ID)
	}
	if want := date("2024-08-31"); !inv.DueDate.Equal(want) {
		t.Errorf("DueDate = %s, want %s", inv.DueDate, want)
	}
	if !inv.IssueDate.Equal(date("2024-08-01")) {
		t.Errorf("IssueDate = %s, want 2024-08-01", inv.IssueDate)
	}
}

func TestGenerateIndividualSkipsUsersWithoutOrders(t *testing.T) {
	f := newFixture()
	f.order("2024-07-01", f.acme, "D01", "U001", 1, 500)
	f.order("2024-07-02", f.acme, "D01", "U002", 2, 500)
	f.order("2024-07-02", f.beta, "D10", "U900", 1, 650)
	f.order("2024-07-05", f.gamma, "", "U300", 1, 500)

	res, err := f.engine(Config{Workers: 3}).Generate(context.Background(), july(domain.InvoiceTypeIndividual))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices) != 4 {
		t.Fatalf("invoices = %d, want 4: %+v", len(res.Invoices), res)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %+v, want none", res.Errors)
	}
	if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0].Target, "U003") {
		t.Errorf("skipped = %+v, want U003 only", res.Skipped)
	}

	// outcomes follow target order: ACME users, then Beta, then Gamma
	names := []string{}
	for _, inv := range res.Invoices {
		names = append(names, inv.TargetName)
	}
	want := []string{"山田太郎", "佐藤花子", "田中次郎", "高橋三郎"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("targets = %v, want %v", names, want)
	}

	for _, inv := range f.store.Invoices() {
		if inv.UserID == nil {
			t.Errorf("invoice %s has no user id", inv.InvoiceNumber)
		}
	}
}

func TestGenerateDepartmentBulk(t *testing.T) {
	f := newFixture()
	f.order("2024-07-01", f.beta, "D10", "U900", 2, 650)
	f.order("2024-07-09", f.beta, "D10", "U900", 1, 650)

	res, err := f.engine(Config{}).Generate(context.Background(), july(domain.InvoiceTypeDepartmentBulk))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices) != 1 {
		t.Fatalf("invoices = %+v, want 1", res.Invoices)
	}
	if res.Invoices[0].TargetName != "Beta 営業部" || res.Invoices[0].Subtotal != 1950 {
		t.Errorf("invoice = %+v", res.Invoices[0])
	}
	// D01 and D11 have no orders
	if len(res.Skipped) != 2 {
		t.Errorf("skipped = %+v, want 2", res.Skipped)
	}

	inv := f.store.Invoices()[0]
	if inv.DepartmentCode != "D10" || inv.DepartmentID == nil {
		t.Errorf("department = %q/%v", inv.DepartmentCode, inv.DepartmentID)
	}
}

func TestGenerateTaxRoundsHalfUp(t *testing.T) {
	tests := []struct {
		price     int64
		tax       int64
		wantTotal int64
	}{
		{price: 15, tax: 2, wantTotal: 17},
		{price: 14, tax: 1, wantTotal: 15},
		{price: 5, tax: 1, wantTotal: 6},
		{price: 4, tax: 0, wantTotal: 4},
		{price: 555, tax: 56, wantTotal: 611},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.price), func(t *testing.T) {
			f := newFixture()
			f.order("2024-07-10", f.acme, "D01", "U001", 1, tt.price)
			res, err := f.engine(Config{}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID))
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			got := res.Invoices[0]
			if got.TaxAmount != tt.tax || got.TotalAmount != tt.wantTotal {
				t.Errorf("tax/total = %d/%d, want %d/%d", got.TaxAmount, got.TotalAmount, tt.tax, tt.wantTotal)
			}
		})
	}
}

func TestGenerateNumbersAreUniqueAndGapless(t *testing.T) {
	f := newFixture()
	var ids []int64
	for i := 0; i < 12; i++ {
		c := f.store.AddCompany(domain.Company{Code: fmt.Sprintf("K%03d", i), Name: fmt.Sprintf("Kaisha %d", i), Active: true})
		f.order("2024-07-15", c, "", fmt.Sprintf("KU%03d", i), 1, 800)
		ids = append(ids, c.ID)
	}

	res, err := f.engine(Config{Workers: 6}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, ids...))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices) != 12 {
		t.Fatalf("invoices = %d, want 12 (errors %+v)", len(res.Invoices), res.Errors)
	}

	var numbers []string
	for _, inv := range res.Invoices {
		numbers = append(numbers, inv.InvoiceNumber)
	}
	sort.Strings(numbers)
	for i, n := range numbers {
		if want := domain.FormatInvoiceNumber("SMY-202408-", i+1); n != want {
			t.Fatalf("numbers = %v, want sequence from 001", numbers)
		}
	}

	// a later run in the same month continues the sequence
	f.order("2024-07-20", f.acme, "D01", "U001", 1, 500)
	res, err = f.engine(Config{}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := res.Invoices[0].InvoiceNumber; got != "SMY-202408-013" {
		t.Errorf("next number = %q, want SMY-202408-013", got)
	}
}

func TestGenerateTwiceDoesNotDoubleBill(t *testing.T) {
	f := newFixture()
	f.order("2024-07-01", f.acme, "D01", "U001", 1, 500)
	f.order("2024-07-02", f.acme, "D01", "U002", 1, 500)
	e := f.engine(Config{})

	if _, err := e.Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID)); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	res, err := e.Generate(context.Background(), july(domain.InvoiceTypeIndividual))
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if len(res.Invoices) != 0 {
		t.Errorf("second run created %d invoices, want 0", len(res.Invoices))
	}

	seen := map[int64]bool{}
	for _, inv := range f.store.Invoices() {
		for _, d := range inv.Details {
			if seen[d.OrderID] {
				t.Errorf("order %d billed twice", d.OrderID)
			}
			seen[d.OrderID] = true
		}
	}
	if len(seen) != 2 {
		t.Errorf("billed orders = %d, want 2", len(seen))
	}
}

func TestGenerateRetriesNumberConflicts(t *testing.T) {
	conflict := fmt.Errorf("insert invoice: %w", domain.ErrInvoiceNumberConflict)

	t.Run("within budget", func(t *testing.T) {
		f := newFixture()
		f.order("2024-07-01", f.acme, "D01", "U001", 1, 500)
		f.store.FailCreateInvoice(conflict, conflict)

		res, err := f.engine(Config{NumberRetries: 3}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID))
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(res.Invoices) != 1 || len(res.Errors) != 0 {
			t.Errorf("result = %+v, want one invoice", res)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		f := newFixture()
		f.order("2024-07-01", f.acme, "D01", "U001", 1, 500)
		f.store.FailCreateInvoice(conflict, conflict)

		res, err := f.engine(Config{NumberRetries: 1}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID))
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(res.Invoices) != 0 || len(res.Errors) != 1 {
			t.Fatalf("result = %+v, want one target error", res)
		}
		if !strings.Contains(res.Errors[0].Reason, domain.ErrInvoiceNumberConflict.Error()) {
			t.Errorf("reason = %q", res.Errors[0].Reason)
		}
		if n := len(f.store.Invoices()); n != 0 {
			t.Errorf("stored invoices = %d, want 0", n)
		}
	})
}

func TestGenerateReportsConcurrentBilling(t *testing.T) {
	f := newFixture()
	f.order("2024-07-01", f.acme, "D01", "U001", 1, 500)
	f.order("2024-07-01", f.gamma, "", "U300", 1, 500)
	f.store.FailCreateInvoice(fmt.Errorf("insert detail: %w", domain.ErrOrderAlreadyInvoiced))

	res, err := f.engine(Config{Workers: 1}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID, f.gamma.ID))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Target, "C001") {
		t.Fatalf("errors = %+v, want ACME target error", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Reason, "concurrent") {
		t.Errorf("reason = %q", res.Errors[0].Reason)
	}
	if len(res.Invoices) != 1 || res.Invoices[0].TargetName != "Gamma" {
		t.Errorf("invoices = %+v, want Gamma only", res.Invoices)
	}
}

func TestGenerateMixedFollowsBillingMethod(t *testing.T) {
	f := newFixture()
	f.order("2024-07-01", f.acme, "D01", "U001", 1, 500)
	f.order("2024-07-01", f.beta, "D10", "U900", 1, 650)
	f.order("2024-07-01", f.gamma, "", "U300", 2, 500)

	res, err := f.engine(Config{Workers: 2}).Generate(context.Background(), july(domain.InvoiceTypeMixed))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var got []string
	for _, inv := range res.Invoices {
		got = append(got, string(inv.InvoiceType)+":"+inv.TargetName)
	}
	want := []string{"company_bulk:ACME", "department_bulk:Beta 営業部", "individual:高橋三郎"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("invoices = %v, want %v", got, want)
	}
	if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0].Target, "D11") {
		t.Errorf("skipped = %+v, want D11", res.Skipped)
	}

	res, err = f.engine(Config{}).Generate(context.Background(), july(domain.InvoiceTypeMixed, f.gamma.ID))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices)+len(res.Skipped)+len(res.Errors) != 1 {
		t.Errorf("restricted run = %+v, want a single Gamma user target", res)
	}
}

func TestGenerateWarnsOnUnknownCompanyName(t *testing.T) {
	f := newFixture()
	f.store.AddOrder(domain.Order{
		DeliveryDate: date("2024-07-04"),
		CompanyCode:  f.acme.Code,
		CompanyName:  "ACME株式会社",
		UserCode:     "U001",
		ProductCode:  "P01",
		Quantity:     1,
		UnitPrice:    500,
		TotalAmount:  500,
	})

	res, err := f.engine(Config{}).Generate(context.Background(), july(domain.InvoiceTypeCompanyBulk, f.acme.ID))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Invoices) != 1 || len(res.Invoices[0].Warnings) != 1 {
		t.Fatalf("result = %+v, want one invoice with a warning", res)
	}
	if inv := f.store.Invoices()[0]; inv.CompanyID != nil {
		t.Errorf("CompanyID = %d, want nil", *inv.CompanyID)
	}
}

func TestGenerateRejectsInvalidParams(t *testing.T) {
	f := newFixture()
	e := f.engine(Config{})

	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"unknown type", Params{InvoiceType: "weekly", PeriodStart: date("2024-07-01"), PeriodEnd: date("2024-07-31")}, domain.ErrInvalidInvoiceType},
		{"missing period", Params{InvoiceType: domain.InvoiceTypeCompanyBulk}, domain.ErrInvalidPeriod},
		{"reversed period", Params{InvoiceType: domain.InvoiceTypeCompanyBulk, PeriodStart: date("2024-07-31"), PeriodEnd: date("2024-07-01")}, domain.ErrInvalidPeriod},
		{"due before issue", Params{
			InvoiceType: domain.InvoiceTypeCompanyBulk,
			PeriodStart: date("2024-07-01"),
			PeriodEnd:   date("2024-07-31"),
			IssueDate:   date("2024-08-10"),
			DueDate:     date("2024-08-01"),
		}, domain.ErrInvalidPeriod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Generate(context.Background(), tt.p)
			if !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
