package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

// Target is one billing subject. Type is always a concrete invoice type;
// mixed runs expand into individual, department and company targets.
type Target struct {
	Type           domain.InvoiceType
	Name           string
	CompanyID      *int64
	DepartmentID   *int64
	UserID         *int64
	CompanyCode    string
	CompanyName    string
	DepartmentCode string
	UserCode       string
}

// Label identifies the target in outcomes.
func (t Target) Label() string {
	switch t.Type {
	case domain.InvoiceTypeIndividual:
		return fmt.Sprintf("user %s (%s)", t.UserCode, t.Name)
	case domain.InvoiceTypeDepartmentBulk:
		return fmt.Sprintf("department %s/%s (%s)", t.CompanyCode, t.DepartmentCode, t.Name)
	default:
		return fmt.Sprintf("company %s (%s)", t.CompanyCode, t.Name)
	}
}

// orderFilter selects the orders billed to this target.
func (t Target) orderFilter(start, end time.Time) domain.OrderFilter {
	f := domain.OrderFilter{PeriodStart: start, PeriodEnd: end}
	switch t.Type {
	case domain.InvoiceTypeIndividual:
		f.UserCode = t.UserCode
	case domain.InvoiceTypeDepartmentBulk:
		f.CompanyCode = t.CompanyCode
		f.DepartmentCode = t.DepartmentCode
	default:
		f.CompanyCode = t.CompanyCode
	}
	return f
}

func companyTarget(c domain.Company) Target {
	id := c.ID
	return Target{
		Type:        domain.InvoiceTypeCompanyBulk,
		Name:        c.Name,
		CompanyID:   &id,
		CompanyCode: c.Code,
		CompanyName: c.Name,
	}
}

func departmentTarget(d domain.Department, c domain.Company) Target {
	companyID, departmentID := c.ID, d.ID
	return Target{
		Type:           domain.InvoiceTypeDepartmentBulk,
		Name:           c.Name + " " + d.Name,
		CompanyID:      &companyID,
		DepartmentID:   &departmentID,
		CompanyCode:    c.Code,
		CompanyName:    c.Name,
		DepartmentCode: d.Code,
	}
}

func userTarget(u domain.User, c domain.Company) Target {
	companyID, userID := c.ID, u.ID
	t := Target{
		Type:        domain.InvoiceTypeIndividual,
		Name:        u.Name,
		CompanyID:   &companyID,
		UserID:      &userID,
		CompanyCode: c.Code,
		CompanyName: c.Name,
		UserCode:    u.Code,
	}
	if u.DepartmentID != nil {
		departmentID := *u.DepartmentID
		t.DepartmentID = &departmentID
	}
	return t
}

// resolveTargets lists the targets of a run in a stable order.
func resolveTargets(ctx context.Context, master repository.MasterRepository, invoiceType domain.InvoiceType, ids []int64) ([]Target, error) {
	switch invoiceType {
	case domain.InvoiceTypeIndividual:
		users, err := master.ActiveUsers(ctx, repository.MasterQuery{IDs: ids})
		if err != nil {
			return nil, err
		}
		companies, err := companiesOf(ctx, master, userCompanyIDs(users))
		if err != nil {
			return nil, err
		}
		targets := make([]Target, 0, len(users))
		for _, u := range users {
			if c, ok := companies[u.CompanyID]; ok {
				targets = append(targets, userTarget(u, c))
			}
		}
		return targets, nil

	case domain.InvoiceTypeDepartmentBulk:
		departments, err := master.ActiveDepartments(ctx, repository.MasterQuery{IDs: ids})
		if err != nil {
			return nil, err
		}
		companies, err := companiesOf(ctx, master, departmentCompanyIDs(departments))
		if err != nil {
			return nil, err
		}
		targets := make([]Target, 0, len(departments))
		for _, d := range departments {
			if c, ok := companies[d.CompanyID]; ok {
				targets = append(targets, departmentTarget(d, c))
			}
		}
		return targets, nil

	case domain.InvoiceTypeCompanyBulk:
		companies, err := master.ActiveCompanies(ctx, ids)
		if err != nil {
			return nil, err
		}
		targets := make([]Target, 0, len(companies))
		for _, c := range companies {
			targets = append(targets, companyTarget(c))
		}
		return targets, nil

	case domain.InvoiceTypeMixed:
		return resolveMixed(ctx, master, ids)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidInvoiceType, invoiceType)
}

// resolveMixed expands each active company by its billing method.
func resolveMixed(ctx context.Context, master repository.MasterRepository, companyIDs []int64) ([]Target, error) {
	companies, err := master.ActiveCompanies(ctx, companyIDs)
	if err != nil {
		return nil, err
	}

	var byUser, byDepartment []int64
	for _, c := range companies {
		switch c.BillingMethod {
		case domain.BillingIndividual:
			byUser = append(byUser, c.ID)
		case domain.BillingDepartment:
			byDepartment = append(byDepartment, c.ID)
		}
	}

	usersByCompany := map[int64][]domain.User{}
	if len(byUser) > 0 {
		users, err := master.ActiveUsers(ctx, repository.MasterQuery{CompanyIDs: byUser})
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			usersByCompany[u.CompanyID] = append(usersByCompany[u.CompanyID], u)
		}
	}
	departmentsByCompany := map[int64][]domain.Department{}
	if len(byDepartment) > 0 {
		departments, err := master.ActiveDepartments(ctx, repository.MasterQuery{CompanyIDs: byDepartment})
		if err != nil {
			return nil, err
		}
		for _, d := range departments {
			departmentsByCompany[d.CompanyID] = append(departmentsByCompany[d.CompanyID], d)
		}
	}

	var targets []Target
	for _, c := range companies {
		switch c.BillingMethod {
		case domain.BillingIndividual:
			for _, u := range usersByCompany[c.ID] {
				targets = append(targets, userTarget(u, c))
			}
		case domain.BillingDepartment:
			for _, d := range departmentsByCompany[c.ID] {
				targets = append(targets, departmentTarget(d, c))
			}
		default:
			targets = append(targets, companyTarget(c))
		}
	}
	return targets, nil
}

func companiesOf(ctx context.Context, master repository.MasterRepository, ids []int64) (map[int64]domain.Company, error) {
	companies, err := master.CompaniesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]domain.Company, len(companies))
	for _, c := range companies {
		out[c.ID] = c
	}
	return out, nil
}

func userCompanyIDs(users []domain.User) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, u := range users {
		if !seen[u.CompanyID] {
			seen[u.CompanyID] = true
			ids = append(ids, u.CompanyID)
		}
	}
	return ids
}

func departmentCompanyIDs(departments []domain.Department) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, d := range departments {
		if !seen[d.CompanyID] {
			seen[d.CompanyID] = true
			ids = append(ids, d.CompanyID)
		}
	}
	return ids
}
