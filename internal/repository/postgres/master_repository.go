package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

const (
	companyColumns    = `id, code, name, billing_method, is_active, created_at, updated_at`
	departmentColumns = `id, company_id, code, name, is_active, created_at, updated_at`
	userColumns       = `id, company_id, department_id, code, name, is_active, created_at, updated_at`
	productColumns    = `id, code, name, unit_price, is_active, created_at, updated_at`
	supplierColumns   = `id, code, name, is_active, created_at, updated_at`
)

type masterRepository struct {
	db *DB
}

func NewMasterRepository(db *DB) repository.MasterRepository {
	return &masterRepository{db: db}
}

func (r *masterRepository) CompaniesByCodes(ctx context.Context, codes []string) ([]domain.Company, error) {
	var out []domain.Company
	if len(codes) == 0 {
		return out, nil
	}
	query := `SELECT ` + companyColumns + ` FROM companies WHERE code = ANY($1)`
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("failed to load companies by code: %w", err)
	}
	return out, nil
}

func (r *masterRepository) DepartmentsByCodes(ctx context.Context, codes []string) ([]domain.Department, error) {
	var out []domain.Department
	if len(codes) == 0 {
		return out, nil
	}
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE code = ANY($1)`
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("failed to load departments by code: %w", err)
	}
	return out, nil
}

func (r *masterRepository) UsersByCodes(ctx context.Context, codes []string) ([]domain.User, error) {
	var out []domain.User
	if len(codes) == 0 {
		return out, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE code = ANY($1)`
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("failed to load users by code: %w", err)
	}
	return out, nil
}

func (r *masterRepository) ProductsByCodes(ctx context.Context, codes []string) ([]domain.Product, error) {
	var out []domain.Product
	if len(codes) == 0 {
		return out, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE code = ANY($1)`
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("failed to load products by code: %w", err)
	}
	return out, nil
}

func (r *masterRepository) SuppliersByCodes(ctx context.Context, codes []string) ([]domain.Supplier, error) {
	var out []domain.Supplier
	if len(codes) == 0 {
		return out, nil
	}
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE code = ANY($1)`
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("failed to load suppliers by code: %w", err)
	}
	return out, nil
}

func (r *masterRepository) CompaniesByIDs(ctx context.Context, ids []int64) ([]domain.Company, error) {
	var out []domain.Company
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = ANY($1) ORDER BY id`
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to load companies by id: %w", err)
	}
	return out, nil
}

// CompanyByName matches the exact name. When several companies share a name
// the lowest id wins.
func (r *masterRepository) CompanyByName(ctx context.Context, name string) (*domain.Company, error) {
	var c domain.Company
	query := `SELECT ` + companyColumns + ` FROM companies WHERE name = $1 ORDER BY id LIMIT 1`
	if err := r.db.GetContext(ctx, &c, query, name); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (r *masterRepository) UserByCode(ctx context.Context, code string) (*domain.User, error) {
	var u domain.User
	query := `SELECT ` + userColumns + ` FROM users WHERE code = $1`
	if err := r.db.GetContext(ctx, &u, query, code); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r *masterRepository) ActiveCompanies(ctx context.Context, ids []int64) ([]domain.Company, error) {
	var out []domain.Company
	query := `SELECT ` + companyColumns + ` FROM companies WHERE is_active`
	args := []interface{}{}
	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY code, id`
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load active companies: %w", err)
	}
	return out, nil
}

func (r *masterRepository) ActiveDepartments(ctx context.Context, q repository.MasterQuery) ([]domain.Department, error) {
	var out []domain.Department
	where, args := activeWhere(q)
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE ` + where + ` ORDER BY company_id, code, id`
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load active departments: %w", err)
	}
	return out, nil
}

func (r *masterRepository) ActiveUsers(ctx context.Context, q repository.MasterQuery) ([]domain.User, error) {
	var out []domain.User
	where, args := activeWhere(q)
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` ORDER BY company_id, code, id`
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load active users: %w", err)
	}
	return out, nil
}

func activeWhere(q repository.MasterQuery) (string, []interface{}) {
	conds := []string{"is_active"}
	var args []interface{}
	if len(q.IDs) > 0 {
		args = append(args, pq.Array(q.IDs))
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if len(q.CompanyIDs) > 0 {
		args = append(args, pq.Array(q.CompanyIDs))
		conds = append(conds, fmt.Sprintf("company_id = ANY($%d)", len(args)))
	}
	return strings.Join(conds, " AND "), args
}
