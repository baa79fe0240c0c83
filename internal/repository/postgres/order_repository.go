package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

const orderColumns = `o.id, o.delivery_date, o.company_id, o.company_code, o.company_name, o.site_code, o.site_name,
	o.supplier_id, o.supplier_code, o.supplier_name, o.meal_category_code, o.meal_category_name,
	o.department_id, o.department_code, o.department_name, o.user_id, o.user_code, o.user_name,
	o.employment_type_code, o.employment_type_name, o.product_id, o.product_code, o.product_name,
	o.quantity, o.unit_price, o.total_amount, o.notes, o.receipt_time, o.coop_code, o.batch_id,
	o.created_at, o.updated_at`

type orderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) ExistingOrders(ctx context.Context, from, to time.Time, userCodes []string) ([]domain.ExistingOrder, error) {
	var out []domain.ExistingOrder
	if len(userCodes) == 0 {
		return out, nil
	}
	query := `
		SELECT o.id, o.delivery_date, o.user_code, o.product_code,
			EXISTS (SELECT 1 FROM invoice_details d WHERE d.order_id = o.id) AS invoiced
		FROM orders o
		WHERE o.delivery_date BETWEEN $1 AND $2
			AND o.user_code = ANY($3)
	`
	if err := r.db.SelectContext(ctx, &out, query, from, to, pq.Array(userCodes)); err != nil {
		return nil, fmt.Errorf("failed to load existing orders: %w", err)
	}
	return out, nil
}

func (r *orderRepository) UninvoicedOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	conds := []string{
		"o.delivery_date BETWEEN $1 AND $2",
		"NOT EXISTS (SELECT 1 FROM invoice_details d WHERE d.order_id = o.id)",
	}
	args := []interface{}{f.PeriodStart, f.PeriodEnd}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("o.company_code", f.CompanyCode)
	add("o.department_code", f.DepartmentCode)
	add("o.user_code", f.UserCode)

	query := `SELECT ` + orderColumns + ` FROM orders o WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY o.delivery_date, o.id`

	var out []domain.Order
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load uninvoiced orders: %w", err)
	}
	return out, nil
}
