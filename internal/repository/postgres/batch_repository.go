package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
)

const batchColumns = `batch_id, file_name, encoding, overwrite, status, total_rows, success_rows,
	error_rows, duplicate_rows, replaced_rows, row_errors, archive_key, fail_reason, started_at, completed_at`

// batchRow mirrors import_batches; stats and errors are flattened columns.
type batchRow struct {
	BatchID       string     `db:"batch_id"`
	FileName      string     `db:"file_name"`
	Encoding      string     `db:"encoding"`
	Overwrite     bool       `db:"overwrite"`
	Status        string     `db:"status"`
	TotalRows     int        `db:"total_rows"`
	SuccessRows   int        `db:"success_rows"`
	ErrorRows     int        `db:"error_rows"`
	DuplicateRows int        `db:"duplicate_rows"`
	ReplacedRows  int        `db:"replaced_rows"`
	RowErrors     []byte     `db:"row_errors"`
	ArchiveKey    string     `db:"archive_key"`
	FailReason    string     `db:"fail_reason"`
	StartedAt     time.Time  `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

func (b batchRow) toDomain() (domain.ImportBatch, error) {
	batch := domain.ImportBatch{
		BatchID:   b.BatchID,
		FileName:  b.FileName,
		Encoding:  b.Encoding,
		Overwrite: b.Overwrite,
		Status:    domain.BatchStatus(b.Status),
		Stats: domain.ImportStats{
			Total:     b.TotalRows,
			Success:   b.SuccessRows,
			Error:     b.ErrorRows,
			Duplicate: b.DuplicateRows,
			Replaced:  b.ReplacedRows,
		},
		ArchiveKey:  b.ArchiveKey,
		FailReason:  b.FailReason,
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
	}
	if len(b.RowErrors) > 0 {
		if err := json.Unmarshal(b.RowErrors, &batch.Errors); err != nil {
			return batch, fmt.Errorf("decode row errors of batch %s: %w", b.BatchID, err)
		}
	}
	return batch, nil
}

type batchRepository struct {
	db *DB
}

func NewBatchRepository(db *DB) repository.BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) CreateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	query := `
		INSERT INTO import_batches (batch_id, file_name, encoding, overwrite, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		batch.BatchID, batch.FileName, batch.Encoding, batch.Overwrite, batch.Status, batch.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

// CommitBatch writes the orders and finalizes the batch in one transaction.
// A row whose natural key was stored by a concurrent import after the batch
// was prepared is skipped and counted as a duplicate.
func (r *batchRepository) CommitBatch(ctx context.Context, batch *domain.ImportBatch, inserts []domain.Order, replacements []domain.OrderReplacement) error {
	rowErrors, err := json.Marshal(batch.Errors)
	if err != nil {
		return fmt.Errorf("encode row errors: %w", err)
	}
	if batch.Errors == nil {
		rowErrors = []byte("[]")
	}

	stats := batch.Stats
	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Replacements go first so the natural key is free for the new row.
		for _, rep := range replacements {
			if err := deleteReplacedOrder(ctx, tx, rep.ExistingID); err != nil {
				return err
			}
		}

		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO orders (
				delivery_date, company_id, company_code, company_name, site_code, site_name,
				supplier_id, supplier_code, supplier_name, meal_category_code, meal_category_name,
				department_id, department_code, department_name, user_id, user_code, user_name,
				employment_type_code, employment_type_name, product_id, product_code, product_name,
				quantity, unit_price, total_amount, notes, receipt_time, coop_code, batch_id
			) VALUES (
				:delivery_date, :company_id, :company_code, :company_name, :site_code, :site_name,
				:supplier_id, :supplier_code, :supplier_name, :meal_category_code, :meal_category_name,
				:department_id, :department_code, :department_name, :user_id, :user_code, :user_name,
				:employment_type_code, :employment_type_name, :product_id, :product_code, :product_name,
				:quantity, :unit_price, :total_amount, :notes, :receipt_time, :coop_code, :batch_id
			)
			ON CONFLICT ON CONSTRAINT orders_natural_key DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare order insert: %w", err)
		}
		defer stmt.Close()

		write := func(o domain.Order, replacement bool) error {
			res, err := stmt.ExecContext(ctx, o)
			if err != nil {
				return fmt.Errorf("failed to insert order %s/%s/%s: %w",
					o.DeliveryDate.Format(domain.DateLayout), o.UserCode, o.ProductCode, mapError(err))
			}
			if n, _ := res.RowsAffected(); n == 0 {
				stats.LateDuplicate(replacement)
			}
			return nil
		}
		for _, rep := range replacements {
			if err := write(rep.Order, true); err != nil {
				return err
			}
		}
		for _, o := range inserts {
			if err := write(o, false); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE import_batches SET
				status = $2, total_rows = $3, success_rows = $4, error_rows = $5,
				duplicate_rows = $6, replaced_rows = $7, row_errors = $8,
				archive_key = $9, completed_at = $10
			WHERE batch_id = $1
		`, batch.BatchID, batch.Status, stats.Total, stats.Success, stats.Error,
			stats.Duplicate, stats.Replaced, string(rowErrors), batch.ArchiveKey, batch.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to finalize import batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	batch.Stats = stats
	return nil
}

// deleteReplacedOrder removes an un-invoiced order. An order already removed
// by a concurrent overwrite is not an error; its replacement then races on
// the natural key like any insert.
func deleteReplacedOrder(ctx context.Context, tx *sqlx.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM orders o
		WHERE o.id = $1
			AND NOT EXISTS (SELECT 1 FROM invoice_details d WHERE d.order_id = o.id)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete replaced order %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check replaced order %d: %w", id, err)
	}
	if exists {
		return fmt.Errorf("replace order %d: %w", id, domain.ErrOrderAlreadyInvoiced)
	}
	return nil
}

func (r *batchRepository) FailBatch(ctx context.Context, batchID, reason string) error {
	query := `
		UPDATE import_batches
		SET status = $2, fail_reason = $3, completed_at = NOW()
		WHERE batch_id = $1 AND status = $4
	`
	if _, err := r.db.ExecContext(ctx, query, batchID, domain.BatchStatusFailed, reason, domain.BatchStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark batch %s failed: %w", batchID, err)
	}
	return nil
}

func (r *batchRepository) GetBatch(ctx context.Context, batchID string) (*domain.ImportBatch, error) {
	var row batchRow
	query := `SELECT ` + batchColumns + ` FROM import_batches WHERE batch_id = $1`
	if err := r.db.GetContext(ctx, &row, query, batchID); err != nil {
		return nil, mapError(err)
	}
	batch, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepository) ListBatches(ctx context.Context, limit int) ([]domain.ImportBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []batchRow
	query := `SELECT ` + batchColumns + ` FROM import_batches ORDER BY started_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", err)
	}
	out := make([]domain.ImportBatch, 0, len(rows))
	for _, row := range rows {
		batch, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		// row errors only on GetBatch
		batch.Errors = nil
		out = append(out, batch)
	}
	return out, nil
}
