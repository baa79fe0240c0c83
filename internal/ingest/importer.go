// Package ingest imports order exports into the order store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/normalize"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
	"github.com/andresuchdata/smy-billing/backend-go/pkg/logger"
)

// cancelCheckEvery is how many rows are processed between context checks.
const cancelCheckEvery = 500

type Options struct {
	Encoding  normalize.Encoding
	Overwrite bool
	DryRun    bool
	FileName  string
}

type Config struct {
	MaxFileBytes    int64
	MaxRows         int
	DefaultEncoding normalize.Encoding
}

// Archiver keeps a copy of the raw upload.
type Archiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

type Importer struct {
	master   repository.MasterRepository
	orders   repository.OrderRepository
	batches  repository.BatchRepository
	archiver Archiver
	cfg      Config
	log      zerolog.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Importer)

// WithArchiver stores every committed upload through a.
func WithArchiver(a Archiver) Option {
	return func(im *Importer) { im.archiver = a }
}

func NewImporter(master repository.MasterRepository, orders repository.OrderRepository, batches repository.BatchRepository, cfg Config, opts ...Option) *Importer {
	if cfg.DefaultEncoding == "" {
		cfg.DefaultEncoding = normalize.Auto
	}
	im := &Importer{
		master:  master,
		orders:  orders,
		batches: batches,
		cfg:     cfg,
		log:     logger.WithComponent("ingest"),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile opens path and imports it. The file name defaults to the base
// name of path.
func (im *Importer) ImportFile(ctx context.Context, path string, opts Options) (*domain.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	if opts.FileName == "" {
		opts.FileName = filepath.Base(path)
	}
	return im.Import(ctx, f, opts)
}

// Import reads src completely and processes it row by row. Row problems are
// reported in the result; the returned error is reserved for failures that
// abort the whole file.
func (im *Importer) Import(ctx context.Context, src io.Reader, opts Options) (*domain.ImportResult, error) {
	payload, err := im.read(src)
	if err != nil {
		return nil, err
	}

	hint := opts.Encoding
	if hint == "" {
		hint = im.cfg.DefaultEncoding
	}
	doc, err := normalize.Normalize(payload, hint, normalize.Limits{MaxRows: im.cfg.MaxRows})
	if err != nil {
		return nil, err
	}

	run := &importRun{
		Importer: im,
		opts:     opts,
		doc:      doc,
		result: &domain.ImportResult{
			FileName:         opts.FileName,
			Errors:           []domain.RowError{},
			EncodingDetected: string(doc.Encoding),
			DryRun:           opts.DryRun,
		},
		existing: map[domain.OrderKey]domain.ExistingOrder{},
		seen:     map[domain.OrderKey]struct{}{},
	}
	if err := run.prepare(ctx); err != nil {
		return nil, err
	}
	if err := run.begin(ctx); err != nil {
		return nil, err
	}
	if err := run.process(ctx); err != nil {
		run.fail(err)
		return nil, err
	}
	if err := run.commit(ctx, payload); err != nil {
		run.fail(err)
		return nil, err
	}
	return run.result, nil
}

func (im *Importer) read(src io.Reader) ([]byte, error) {
	if im.cfg.MaxFileBytes <= 0 {
		payload, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("read import file: %w", err)
		}
		return payload, nil
	}
	payload, err := io.ReadAll(io.LimitReader(src, im.cfg.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	if int64(len(payload)) > im.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", domain.ErrFileTooLarge, im.cfg.MaxFileBytes)
	}
	return payload, nil
}

// importRun carries the state of one Import call.
type importRun struct {
	*Importer
	opts   Options
	doc    *normalize.Document
	result *domain.ImportResult
	batch  *domain.ImportBatch

	drafts    []*rowDraft
	rowErrors map[int]*domain.RowError
	index     *lookupIndex
	existing  map[domain.OrderKey]domain.ExistingOrder
	seen      map[domain.OrderKey]struct{}

	inserts      []domain.Order
	replacements []domain.OrderReplacement
}

// prepare tokenizes every row, then loads the master rows and stored orders
// the file refers to with bulk queries.
func (r *importRun) prepare(ctx context.Context) error {
	codes := newCodeSet()
	r.drafts = make([]*rowDraft, len(r.doc.Lines))
	r.rowErrors = make(map[int]*domain.RowError)

	var (
		minDate, maxDate time.Time
		userCodes        = map[string]struct{}{}
	)
	for i, line := range r.doc.Lines {
		draft, rowErr := tokenize(line)
		if rowErr != nil {
			r.rowErrors[i] = rowErr
			continue
		}
		r.drafts[i] = draft
		codes.add(draft)
		put(userCodes, draft.userCode)
		if minDate.IsZero() || draft.deliveryDate.Before(minDate) {
			minDate = draft.deliveryDate
		}
		if maxDate.IsZero() || draft.deliveryDate.After(maxDate) {
			maxDate = draft.deliveryDate
		}
	}

	index, err := buildIndex(ctx, r.master, codes)
	if err != nil {
		return err
	}
	r.index = index

	if len(userCodes) == 0 {
		return nil
	}
	stored, err := r.orders.ExistingOrders(ctx, minDate, maxDate, keys(userCodes))
	if err != nil {
		return fmt.Errorf("load existing orders: %w", err)
	}
	for _, o := range stored {
		r.existing[o.Key()] = o
	}
	return nil
}

// begin records the batch as processing. Dry runs have no batch.
func (r *importRun) begin(ctx context.Context) error {
	if r.opts.DryRun {
		return nil
	}
	r.batch = &domain.ImportBatch{
		BatchID:   r.newID(),
		FileName:  r.opts.FileName,
		Encoding:  string(r.doc.Encoding),
		Overwrite: r.opts.Overwrite,
		Status:    domain.BatchStatusProcessing,
		StartedAt: r.now(),
	}
	if err := r.batches.CreateBatch(ctx, r.batch); err != nil {
		return fmt.Errorf("create import batch: %w", err)
	}
	r.result.BatchID = r.batch.BatchID
	r.log.Info().
		Str("batch_id", r.batch.BatchID).
		Str("file", r.opts.FileName).
		Str("encoding", r.batch.Encoding).
		Int("rows", len(r.doc.Lines)).
		Bool("overwrite", r.opts.Overwrite).
		Msg("import started")
	return nil
}

// process walks the rows in file order.
func (r *importRun) process(ctx context.Context) error {
	stats := &r.result.Stats
	for i := range r.doc.Lines {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		stats.Total++

		if rowErr, ok := r.rowErrors[i]; ok {
			r.reject(rowErr)
			continue
		}
		draft := r.drafts[i]

		order, rowErr := r.buildOrder(draft)
		if rowErr != nil {
			r.reject(rowErr)
			continue
		}

		key := draft.key()
		if _, dup := r.seen[key]; dup {
			stats.Duplicate++
			continue
		}
		r.seen[key] = struct{}{}

		existing, stored := r.existing[key]
		switch {
		case !stored:
			r.inserts = append(r.inserts, order)
			stats.Success++
		case !r.opts.Overwrite:
			stats.Duplicate++
		case existing.Invoiced:
			r.reject(rowError(draft.row, domain.RowOrderInvoiced, draft.fields,
				"order %s/%s/%s is already invoiced and cannot be replaced",
				key.DeliveryDate, key.UserCode, key.ProductCode))
		default:
			r.replacements = append(r.replacements, domain.OrderReplacement{ExistingID: existing.ID, Order: order})
			stats.Success++
			stats.Replaced++
		}
	}
	return nil
}

func (r *importRun) reject(rowErr *domain.RowError) {
	r.result.Stats.Error++
	r.result.Errors = append(r.result.Errors, *rowErr)
}

// buildOrder resolves the row's codes and amounts into an Order.
func (r *importRun) buildOrder(d *rowDraft) (domain.Order, *domain.RowError) {
	company := r.index.company(d.companyCode)
	if !company.Resolved() {
		return domain.Order{}, rowError(d.row, domain.RowUnresolvedReference, d.fields, "%s", company.Reason)
	}
	department := r.index.department(company.ID, d.companyCode, d.departmentCode)
	if !department.Resolved() {
		return domain.Order{}, rowError(d.row, domain.RowUnresolvedReference, d.fields, "%s", department.Reason)
	}
	user := r.index.user(company.ID, d.userCode)
	if !user.Resolved() {
		return domain.Order{}, rowError(d.row, domain.RowUnresolvedReference, d.fields, "%s", user.Reason)
	}
	product := r.index.product(d.productCode)
	if !product.Resolved() {
		return domain.Order{}, rowError(d.row, domain.RowUnresolvedReference, d.fields, "%s", product.Reason)
	}
	supplier := r.index.supplier(d.supplierCode)

	amt, rowErr := parseAmounts(d)
	if rowErr != nil {
		return domain.Order{}, rowErr
	}

	f := d.fields
	order := domain.Order{
		DeliveryDate:       d.deliveryDate,
		CompanyID:          company.IDPtr(),
		CompanyCode:        d.companyCode,
		CompanyName:        f[normalize.ColCompanyName],
		SiteCode:           f[normalize.ColSiteCode],
		SiteName:           f[normalize.ColSiteName],
		SupplierID:         supplier.IDPtr(),
		SupplierCode:       d.supplierCode,
		SupplierName:       f[normalize.ColSupplierName],
		MealCategoryCode:   f[normalize.ColMealCategoryCode],
		MealCategoryName:   f[normalize.ColMealCategoryName],
		DepartmentID:       department.IDPtr(),
		DepartmentCode:     d.departmentCode,
		DepartmentName:     f[normalize.ColDepartmentName],
		UserID:             user.IDPtr(),
		UserCode:           d.userCode,
		UserName:           f[normalize.ColUserName],
		EmploymentTypeCode: f[normalize.ColEmploymentTypeCode],
		EmploymentTypeName: f[normalize.ColEmploymentTypeName],
		ProductID:          product.IDPtr(),
		ProductCode:        d.productCode,
		ProductName:        f[normalize.ColProductName],
		Quantity:           amt.quantity,
		UnitPrice:          amt.unitPrice,
		TotalAmount:        amt.total,
		Notes:              f[normalize.ColNotes],
		ReceiptTime:        f[normalize.ColReceiptTime],
		CoopCode:           f[normalize.ColCoopCode],
	}
	if r.batch != nil {
		order.BatchID = r.batch.BatchID
	}
	return order, nil
}

// commit archives the upload and writes orders and batch together.
func (r *importRun) commit(ctx context.Context, payload []byte) error {
	if r.opts.DryRun {
		r.log.Info().
			Str("file", r.opts.FileName).
			Int("total", r.result.Stats.Total).
			Int("success", r.result.Stats.Success).
			Int("error", r.result.Stats.Error).
			Int("duplicate", r.result.Stats.Duplicate).
			Msg("dry run finished")
		return nil
	}

	if r.archiver != nil {
		key := ArchiveKey(r.batch.BatchID, r.opts.FileName)
		if err := r.archiver.Archive(ctx, key, payload); err != nil {
			r.log.Warn().Err(err).Str("batch_id", r.batch.BatchID).Str("key", key).Msg("archive upload failed")
		} else {
			r.batch.ArchiveKey = key
		}
	}

	completed := r.now()
	r.batch.Status = domain.BatchStatusCompleted
	r.batch.Stats = r.result.Stats
	r.batch.Errors = r.result.Errors
	r.batch.CompletedAt = &completed

	if err := r.batches.CommitBatch(ctx, r.batch, r.inserts, r.replacements); err != nil {
		r.batch.Status = domain.BatchStatusProcessing
		r.batch.CompletedAt = nil
		return fmt.Errorf("commit import batch %s: %w", r.batch.BatchID, err)
	}
	if r.batch.Stats.Duplicate != r.result.Stats.Duplicate {
		r.log.Warn().
			Str("batch_id", r.batch.BatchID).
			Int("late_duplicates", r.batch.Stats.Duplicate-r.result.Stats.Duplicate).
			Msg("rows stored by a concurrent import counted as duplicates")
	}
	r.result.Stats = r.batch.Stats

	r.log.Info().
		Str("batch_id", r.batch.BatchID).
		Int("total", r.result.Stats.Total).
		Int("success", r.result.Stats.Success).
		Int("error", r.result.Stats.Error).
		Int("duplicate", r.result.Stats.Duplicate).
		Int("replaced", r.result.Stats.Replaced).
		Dur("elapsed", completed.Sub(r.batch.StartedAt)).
		Msg("import completed")
	return nil
}

// fail marks the batch failed. It uses a fresh context so a cancelled request
// still leaves the batch in a terminal state.
func (r *importRun) fail(cause error) {
	if r.batch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.batches.FailBatch(ctx, r.batch.BatchID, cause.Error()); err != nil {
		r.log.Error().Err(err).Str("batch_id", r.batch.BatchID).Msg("could not mark batch failed")
		return
	}
	r.log.Error().Err(cause).Str("batch_id", r.batch.BatchID).Msg("import failed")
}

// ArchiveKey is the object key of a batch's raw upload.
func ArchiveKey(batchID, fileName string) string {
	name := filepath.Base(fileName)
	if name == "." || name == "/" || name == "" {
		name = "upload.csv"
	}
	return "imports/" + batchID + "/" + name
}
