package ingest

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

// Resolution is the outcome of looking up one code: either the id it
// resolved to or the code that could not be resolved.
type Resolution struct {
	Code   string
	ID     int64
	Reason string
	ok     bool
}

func resolved(code string, id int64) Resolution {
	return Resolution{Code: code, ID: id, ok: true}
}

func unresolved(code, reason string) Resolution {
	return Resolution{Code: code, Reason: reason}
}

func (r Resolution) Resolved() bool { return r.ok }

// IDPtr returns the resolved id or nil.
func (r Resolution) IDPtr() *int64 {
	if !r.ok {
		return nil
	}
	id := r.ID
	return &id
}

type departmentKey struct {
	companyID int64
	code      string
}

// lookupIndex maps the codes of one file to master rows. It is built once per
// import from bulk queries and never refreshed mid-file.
type lookupIndex struct {
	companies   map[string]domain.Company
	departments map[departmentKey]domain.Department
	users       map[string]domain.User
	products    map[string]domain.Product
	suppliers   map[string]domain.Supplier
}

type codeSet struct {
	companies   map[string]struct{}
	departments map[string]struct{}
	users       map[string]struct{}
	products    map[string]struct{}
	suppliers   map[string]struct{}
}

func newCodeSet() *codeSet {
	return &codeSet{
		companies:   map[string]struct{}{},
		departments: map[string]struct{}{},
		users:       map[string]struct{}{},
		products:    map[string]struct{}{},
		suppliers:   map[string]struct{}{},
	}
}

func (c *codeSet) add(r *rowDraft) {
	put(c.companies, r.companyCode)
	put(c.departments, r.departmentCode)
	put(c.users, r.userCode)
	put(c.products, r.productCode)
	put(c.suppliers, r.supplierCode)
}

func put(set map[string]struct{}, code string) {
	if code != "" {
		set[code] = struct{}{}
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildIndex issues one query per master table for all codes of the file.
func buildIndex(ctx context.Context, master repository.MasterRepository, codes *codeSet) (*lookupIndex, error) {
	ix := &lookupIndex{
		companies:   map[string]domain.Company{},
		departments: map[departmentKey]domain.Department{},
		users:       map[string]domain.User{},
		products:    map[string]domain.Product{},
		suppliers:   map[string]domain.Supplier{},
	}

	var (
		companies   []domain.Company
		departments []domain.Department
		users       []domain.User
		products    []domain.Product
		suppliers   []domain.Supplier
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		companies, err = master.CompaniesByCodes(gctx, keys(codes.companies))
		return err
	})
	g.Go(func() (err error) {
		departments, err = master.DepartmentsByCodes(gctx, keys(codes.departments))
		return err
	})
	g.Go(func() (err error) {
		users, err = master.UsersByCodes(gctx, keys(codes.users))
		return err
	})
	g.Go(func() (err error) {
		products, err = master.ProductsByCodes(gctx, keys(codes.products))
		return err
	})
	g.Go(func() (err error) {
		suppliers, err = master.SuppliersByCodes(gctx, keys(codes.suppliers))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load master data: %w", err)
	}

	for _, c := range companies {
		ix.companies[c.Code] = c
	}
	for _, d := range departments {
		ix.departments[departmentKey{d.CompanyID, d.Code}] = d
	}
	for _, u := range users {
		ix.users[u.Code] = u
	}
	for _, p := range products {
		ix.products[p.Code] = p
	}
	for _, s := range suppliers {
		ix.suppliers[s.Code] = s
	}
	return ix, nil
}

func (ix *lookupIndex) company(code string) Resolution {
	if code == "" {
		return unresolved(code, "company code is empty")
	}
	c, ok := ix.companies[code]
	if !ok {
		return unresolved(code, fmt.Sprintf("unknown company code %q", code))
	}
	return resolved(code, c.ID)
}

func (ix *lookupIndex) department(companyID int64, companyCode, code string) Resolution {
	if code == "" {
		return unresolved(code, "department code is empty")
	}
	d, ok := ix.departments[departmentKey{companyID, code}]
	if !ok {
		return unresolved(code, fmt.Sprintf("unknown department code %q for company %q", code, companyCode))
	}
	return resolved(code, d.ID)
}

func (ix *lookupIndex) user(companyID int64, code string) Resolution {
	if code == "" {
		return unresolved(code, "user code is empty")
	}
	u, ok := ix.users[code]
	if !ok {
		return unresolved(code, fmt.Sprintf("unknown user code %q", code))
	}
	if u.CompanyID != companyID {
		return unresolved(code, fmt.Sprintf("user %q belongs to another company", code))
	}
	return resolved(code, u.ID)
}

func (ix *lookupIndex) product(code string) Resolution {
	if code == "" {
		return unresolved(code, "product code is empty")
	}
	p, ok := ix.products[code]
	if !ok {
		return unresolved(code, fmt.Sprintf("unknown product code %q", code))
	}
	return resolved(code, p.ID)
}

// supplier is informational; an unknown code never fails the row.
func (ix *lookupIndex) supplier(code string) Resolution {
	s, ok := ix.suppliers[code]
	if !ok {
		return unresolved(code, "")
	}
	return resolved(code, s.ID)
}
