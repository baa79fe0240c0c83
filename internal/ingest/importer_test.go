package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/normalize"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/memstore"
)

type orderRow struct {
	company, department, user, product string
	date, qty, price, amount           string
}

func (r orderRow) String() string {
	fields := make([]string, len(normalize.Schema))
	fields[normalize.ColCompanyCode] = r.company
	fields[normalize.ColCompanyName] = "ACME"
	fields[normalize.ColSiteCode] = "S01"
	fields[normalize.ColSiteName] = "本社"
	fields[normalize.ColSupplierCode] = "V01"
	fields[normalize.ColSupplierName] = "給食センター"
	fields[normalize.ColMealCategoryCode] = "K1"
	fields[normalize.ColMealCategoryName] = "昼食"
	fields[normalize.ColDeliveryDate] = r.date
	fields[normalize.ColDepartmentCode] = r.department
	fields[normalize.ColDepartmentName] = "総務部"
	fields[normalize.ColUserCode] = r.user
	fields[normalize.ColUserName] = "社員" + r.user
	fields[normalize.ColEmploymentTypeCode] = "E1"
	fields[normalize.ColEmploymentTypeName] = "正社員"
	fields[normalize.ColProductCode] = r.product
	fields[normalize.ColProductName] = "弁当" + r.product
	fields[normalize.ColQuantity] = r.qty
	fields[normalize.ColUnitPrice] = r.price
	fields[normalize.ColAmount] = r.amount
	fields[normalize.ColReceiptTime] = "12:00"
	for i, f := range fields {
		if strings.ContainsAny(f, ",\"") {
			fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
	}
	return strings.Join(fields, ",")
}

func valid(user, product, date string) orderRow {
	return orderRow{company: "C001", department: "D01", user: user, product: product, date: date, qty: "1", price: "500", amount: "500"}
}

func csvFile(rows ...orderRow) []byte {
	lines := []string{strings.Join(normalize.Schema, ",")}
	for _, r := range rows {
		lines = append(lines, r.String())
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func seedMaster(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	acme := store.AddCompany(domain.Company{Code: "C001", Name: "ACME", Active: true})
	beta := store.AddCompany(domain.Company{Code: "C002", Name: "Beta", Active: true})
	d1 := store.AddDepartment(domain.Department{CompanyID: acme.ID, Code: "D01", Name: "総務部", Active: true})
	store.AddDepartment(domain.Department{CompanyID: beta.ID, Code: "D02", Name: "営業部", Active: true})
	store.AddUser(domain.User{CompanyID: acme.ID, DepartmentID: &d1.ID, Code: "U001", Name: "山田", Active: true})
	store.AddUser(domain.User{CompanyID: acme.ID, DepartmentID: &d1.ID, Code: "U002", Name: "佐藤", Active: true})
	store.AddUser(domain.User{CompanyID: beta.ID, Code: "U900", Name: "鈴木", Active: true})
	store.AddProduct(domain.Product{Code: "P01", Name: "日替わり", UnitPrice: 500, Active: true})
	store.AddProduct(domain.Product{Code: "P02", Name: "カレー", UnitPrice: 650, Active: true})
	store.AddSupplier(domain.Supplier{Code: "V01", Name: "給食センター", Active: true})
	return store
}

func newTestImporter(store *memstore.Store, cfg Config, opts ...Option) *Importer {
	im := NewImporter(store, store, store, cfg, opts...)
	seq := 0
	im.newID = func() string {
		seq++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", seq)
	}
	im.now = func() time.Time { return time.Date(2024, 8, 1, 9, 0, 0, 0, domain.JST) }
	return im
}

func checkStats(t *testing.T, got domain.ImportStats, want domain.ImportStats) {
	t.Helper()
	if got.Total != got.Success+got.Error+got.Duplicate {
		t.Fatalf("total %d != success %d + error %d + duplicate %d", got.Total, got.Success, got.Error, got.Duplicate)
	}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}

func TestImportUnresolvedDepartmentScenario(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})

	curry := valid("U002", "P02", "2024-07-01")
	curry.price, curry.amount = "650", "650"
	bad := valid("U002", "P01", "2024-07-02")
	bad.department = "D99"
	payload := csvFile(valid("U001", "P01", "2024-07-01"), curry, bad)

	res, err := im.Import(context.Background(), bytes.NewReader(payload), Options{FileName: "july.csv"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	checkStats(t, res.Stats, domain.ImportStats{Total: 3, Success: 2, Error: 1})
	if len(res.Errors) != 1 || res.Errors[0].Row != 3 || res.Errors[0].Kind != domain.RowUnresolvedReference {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Reason, "D99") {
		t.Fatalf("reason should name the code: %q", res.Errors[0].Reason)
	}
	if res.EncodingDetected != string(normalize.UTF8) {
		t.Fatalf("encoding = %s", res.EncodingDetected)
	}

	orders := store.Orders()
	if len(orders) != 2 {
		t.Fatalf("stored %d orders, want 2", len(orders))
	}
	for _, o := range orders {
		if o.TotalAmount != o.Quantity*o.UnitPrice {
			t.Fatalf("order %d total %d != %d x %d", o.ID, o.TotalAmount, o.Quantity, o.UnitPrice)
		}
		if o.BatchID != res.BatchID || o.CompanyID == nil || o.DepartmentID == nil || o.UserID == nil || o.ProductID == nil || o.SupplierID == nil {
			t.Fatalf("order not fully resolved: %+v", o)
		}
	}

	batch, err := store.GetBatch(context.Background(), res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Status != domain.BatchStatusCompleted || batch.CompletedAt == nil {
		t.Fatalf("batch not finalized: %+v", batch)
	}
	if batch.Stats != res.Stats || len(batch.Errors) != 1 {
		t.Fatalf("batch stats/errors not persisted: %+v", batch)
	}
}

func TestImportRecomputesAmounts(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})

	blank := valid("U001", "P01", "2024-07-01")
	blank.qty, blank.price, blank.amount = "3", "500", ""
	wide := valid("U001", "P02", "2024-07-01")
	wide.qty, wide.price, wide.amount = "２", "1,200", "2,400"
	mismatch := valid("U002", "P01", "2024-07-01")
	mismatch.qty, mismatch.price, mismatch.amount = "2", "500", "999"
	negative := valid("U002", "P02", "2024-07-01")
	negative.qty = "-1"
	nonNumeric := valid("U002", "P02", "2024-07-02")
	nonNumeric.price = "abc"

	res, err := im.Import(context.Background(), bytes.NewReader(csvFile(blank, wide, mismatch, negative, nonNumeric)), Options{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	checkStats(t, res.Stats, domain.ImportStats{Total: 5, Success: 2, Error: 3})
	for _, e := range res.Errors {
		if e.Kind != domain.RowInvalidAmount {
			t.Fatalf("row %d: kind %s, want invalid_amount", e.Row, e.Kind)
		}
	}

	totals := map[string]int64{}
	for _, o := range store.Orders() {
		totals[o.ProductCode] = o.TotalAmount
	}
	if totals["P01"] != 1500 || totals["P02"] != 2400 {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestReimportWithoutOverwriteCountsDuplicates(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})
	payload := csvFile(valid("U001", "P01", "2024-07-01"), valid("U001", "P01", "2024-07-02"), valid("U002", "P02", "2024-07-01"))

	first, err := im.Import(context.Background(), bytes.NewReader(payload), Options{})
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	second, err := im.Import(context.Background(), bytes.NewReader(payload), Options{})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	if second.Stats.Duplicate != first.Stats.Success {
		t.Fatalf("duplicate %d, want %d", second.Stats.Duplicate, first.Stats.Success)
	}
	checkStats(t, second.Stats, domain.ImportStats{Total: 3, Duplicate: 3})
	if n := len(store.Orders()); n != first.Stats.Success {
		t.Fatalf("orders = %d, want %d", n, first.Stats.Success)
	}
	if first.BatchID == second.BatchID {
		t.Fatal("each import needs its own batch id")
	}
}

func TestImportOverwriteReplacesStoredOrder(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})

	row := valid("U001", "P01", "2024-07-01")
	if _, err := im.Import(context.Background(), bytes.NewReader(csvFile(row)), Options{}); err != nil {
		t.Fatalf("first import: %v", err)
	}

	row.qty, row.amount = "2", "1000"
	res, err := im.Import(context.Background(), bytes.NewReader(csvFile(row)), Options{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite import: %v", err)
	}
	checkStats(t, res.Stats, domain.ImportStats{Total: 1, Success: 1, Replaced: 1})

	orders := store.Orders()
	if len(orders) != 1 || orders[0].Quantity != 2 || orders[0].TotalAmount != 1000 || orders[0].BatchID != res.BatchID {
		t.Fatalf("order not replaced: %+v", orders)
	}
}

func TestImportOverwriteRejectsInvoicedOrder(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})

	row := valid("U001", "P01", "2024-07-01")
	if _, err := im.Import(context.Background(), bytes.NewReader(csvFile(row)), Options{}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	stored := store.Orders()[0]
	inv := &domain.Invoice{InvoiceType: domain.InvoiceTypeIndividual, Status: domain.InvoiceStatusDraft}
	if err := store.CreateInvoice(context.Background(), "SMY-202408-", inv, []domain.InvoiceDetail{{OrderID: stored.ID, Amount: stored.TotalAmount}}); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	res, err := im.Import(context.Background(), bytes.NewReader(csvFile(row, row)), Options{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite import: %v", err)
	}
	checkStats(t, res.Stats, domain.ImportStats{Total: 2, Error: 1, Duplicate: 1})
	if res.Errors[0].Kind != domain.RowOrderInvoiced {
		t.Fatalf("kind = %s", res.Errors[0].Kind)
	}
	if orders := store.Orders(); len(orders) != 1 || orders[0].ID != stored.ID {
		t.Fatalf("invoiced order must stay: %+v", orders)
	}
}

func TestImportRepeatsInsideFileAreDuplicates(t *testing.T) {
	first := valid("U001", "P01", "2024-07-01")
	again := first
	again.qty, again.amount = "5", "2500"

	for _, overwrite := range []bool{false, true} {
		store := seedMaster(t)
		im := newTestImporter(store, Config{})
		res, err := im.Import(context.Background(), bytes.NewReader(csvFile(first, again)), Options{Overwrite: overwrite})
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		checkStats(t, res.Stats, domain.ImportStats{Total: 2, Success: 1, Duplicate: 1})
		if orders := store.Orders(); len(orders) != 1 || orders[0].Quantity != 1 {
			t.Fatalf("overwrite=%v: first occurrence must win: %+v", overwrite, orders)
		}
	}
}

func TestImportRowLevelErrors(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})

	badDate := valid("U001", "P01", "2024-13-40")
	otherCompany := valid("U900", "P01", "2024-07-01")
	unknownProduct := valid("U001", "P99", "2024-07-01")
	slashDate := valid("U002", "P01", "2024/7/3")

	payload := csvFile(badDate, otherCompany, unknownProduct, slashDate)
	payload = append(payload, []byte("C001,ACME,too,few\r\n")...)

	res, err := im.Import(context.Background(), bytes.NewReader(payload), Options{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	checkStats(t, res.Stats, domain.ImportStats{Total: 5, Success: 1, Error: 4})

	want := []struct {
		row  int
		kind domain.RowErrorKind
	}{
		{1, domain.RowInvalidDate},
		{2, domain.RowUnresolvedReference},
		{3, domain.RowUnresolvedReference},
		{5, domain.RowMalformed},
	}
	for i, w := range want {
		if res.Errors[i].Row != w.row || res.Errors[i].Kind != w.kind {
			t.Fatalf("error %d = %+v, want row %d kind %s", i, res.Errors[i], w.row, w.kind)
		}
	}
	if got := store.Orders()[0].DeliveryDate.Format(domain.DateLayout); got != "2024-07-03" {
		t.Fatalf("slash date parsed as %s", got)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	store := seedMaster(t)
	archive := &fakeArchiver{}
	im := newTestImporter(store, Config{}, WithArchiver(archive))

	bad := valid("U001", "P99", "2024-07-01")
	res, err := im.Import(context.Background(), bytes.NewReader(csvFile(valid("U001", "P01", "2024-07-01"), bad)), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	checkStats(t, res.Stats, domain.ImportStats{Total: 2, Success: 1, Error: 1})
	if !res.DryRun || res.BatchID != "" {
		t.Fatalf("dry run result: %+v", res)
	}
	if len(store.Orders()) != 0 {
		t.Fatal("dry run stored orders")
	}
	batches, _ := store.ListBatches(context.Background(), 10)
	if len(batches) != 0 {
		t.Fatal("dry run created a batch")
	}
	if len(archive.keys) != 0 {
		t.Fatal("dry run archived the upload")
	}
}

func TestImportFatalErrors(t *testing.T) {
	store := seedMaster(t)
	payload := csvFile(valid("U001", "P01", "2024-07-01"), valid("U002", "P01", "2024-07-01"))

	tests := []struct {
		name    string
		cfg     Config
		payload []byte
		opts    Options
		want    error
	}{
		{"too large", Config{MaxFileBytes: 64}, payload, Options{}, domain.ErrFileTooLarge},
		{"too many rows", Config{MaxRows: 1}, payload, Options{}, domain.ErrTooManyRows},
		{"schema", Config{}, []byte("a,b,c\n1,2,3\n"), Options{}, domain.ErrSchemaMismatch},
		{"encoding", Config{}, []byte{0x81, 0xFF, 0xFE}, Options{}, domain.ErrEncodingUnresolved},
		{"wrong hint", Config{}, payload, Options{Encoding: normalize.EUCJP}, domain.ErrEncodingUnresolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := newTestImporter(store, tt.cfg)
			_, err := im.Import(context.Background(), bytes.NewReader(tt.payload), tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if batches, _ := store.ListBatches(context.Background(), 10); len(batches) != 0 {
		t.Fatalf("fatal input errors must not create batches: %+v", batches)
	}
}

func TestImportCommitFailureMarksBatchFailed(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})
	dbDown := errors.New("connection refused")
	store.FailCommits(dbDown)

	_, err := im.Import(context.Background(), bytes.NewReader(csvFile(valid("U001", "P01", "2024-07-01"))), Options{})
	if !errors.Is(err, dbDown) {
		t.Fatalf("err = %v, want %v", err, dbDown)
	}

	batches, _ := store.ListBatches(context.Background(), 10)
	if len(batches) != 1 || batches[0].Status != domain.BatchStatusFailed || batches[0].FailReason == "" {
		t.Fatalf("batch not failed: %+v", batches)
	}
	if len(store.Orders()) != 0 {
		t.Fatal("failed commit stored orders")
	}
}

// barrierOrders holds every import after its stored-order lookup until all
// of them have looked, so none sees the rows the others are about to write.
type barrierOrders struct {
	repository.OrderRepository
	ready *sync.WaitGroup
}

func (b barrierOrders) ExistingOrders(ctx context.Context, from, to time.Time, userCodes []string) ([]domain.ExistingOrder, error) {
	out, err := b.OrderRepository.ExistingOrders(ctx, from, to, userCodes)
	b.ready.Done()
	b.ready.Wait()
	return out, err
}

func importConcurrently(t *testing.T, store *memstore.Store, payload []byte, opts Options, n int) []domain.ImportStats {
	t.Helper()
	var ready sync.WaitGroup
	ready.Add(n)

	stats := make([]domain.ImportStats, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		im := NewImporter(store, barrierOrders{OrderRepository: store, ready: &ready}, store, Config{})
		im.newID = func() string { return fmt.Sprintf("00000000-0000-0000-0001-%012d", i) }
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := im.Import(context.Background(), bytes.NewReader(payload), opts)
			if err != nil {
				errs[i] = err
				return
			}
			stats[i] = res.Stats
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Success > stats[j].Success })
	return stats
}

func TestConcurrentImportsCountLateDuplicates(t *testing.T) {
	store := seedMaster(t)
	payload := csvFile(valid("U001", "P01", "2024-07-01"), valid("U002", "P02", "2024-07-01"))

	stats := importConcurrently(t, store, payload, Options{}, 2)

	checkStats(t, stats[0], domain.ImportStats{Total: 2, Success: 2})
	checkStats(t, stats[1], domain.ImportStats{Total: 2, Duplicate: 2})
	if n := len(store.Orders()); n != 2 {
		t.Fatalf("orders = %d, want 2", n)
	}

	batches, _ := store.ListBatches(context.Background(), 10)
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	for _, b := range batches {
		if b.Status != domain.BatchStatusCompleted {
			t.Fatalf("batch %s status = %s", b.BatchID, b.Status)
		}
		if b.Stats.Total != b.Stats.Success+b.Stats.Error+b.Stats.Duplicate {
			t.Fatalf("batch %s stats inconsistent: %+v", b.BatchID, b.Stats)
		}
	}
}

func TestConcurrentOverwritesReplaceOnce(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})
	if _, err := im.Import(context.Background(), bytes.NewReader(csvFile(valid("U001", "P01", "2024-07-01"))), Options{}); err != nil {
		t.Fatalf("seed import: %v", err)
	}

	row := valid("U001", "P01", "2024-07-01")
	row.qty, row.amount = "2", "1000"
	stats := importConcurrently(t, store, csvFile(row), Options{Overwrite: true}, 2)

	checkStats(t, stats[0], domain.ImportStats{Total: 1, Success: 1, Replaced: 1})
	checkStats(t, stats[1], domain.ImportStats{Total: 1, Duplicate: 1})
	orders := store.Orders()
	if len(orders) != 1 || orders[0].TotalAmount != 1000 {
		t.Fatalf("orders = %+v", orders)
	}
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (f *fakeArchiver) Archive(_ context.Context, key string, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestImportArchivesUpload(t *testing.T) {
	store := seedMaster(t)
	archive := &fakeArchiver{}
	im := newTestImporter(store, Config{}, WithArchiver(archive))

	res, err := im.Import(context.Background(), bytes.NewReader(csvFile(valid("U001", "P01", "2024-07-01"))), Options{FileName: "orders/july.csv"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	wantKey := "imports/" + res.BatchID + "/july.csv"
	if len(archive.keys) != 1 || archive.keys[0] != wantKey {
		t.Fatalf("archived keys = %v, want %s", archive.keys, wantKey)
	}
	batch, _ := store.GetBatch(context.Background(), res.BatchID)
	if batch.ArchiveKey != wantKey {
		t.Fatalf("archive key not recorded: %q", batch.ArchiveKey)
	}

	archive.err = errors.New("bucket unavailable")
	res, err = im.Import(context.Background(), bytes.NewReader(csvFile(valid("U002", "P01", "2024-07-01"))), Options{})
	if err != nil {
		t.Fatalf("archive failure must not fail the import: %v", err)
	}
	if res.Stats.Success != 1 {
		t.Fatalf("stats = %+v", res.Stats)
	}
}

func TestImportDetectsShiftJIS(t *testing.T) {
	store := seedMaster(t)
	im := newTestImporter(store, Config{})
	payload := csvFile(valid("U001", "P01", "2024-07-01"))
	sjis, err := encodeShiftJIS(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	res, err := im.Import(context.Background(), bytes.NewReader(sjis), Options{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.EncodingDetected != string(normalize.ShiftJIS) || res.Stats.Success != 1 {
		t.Fatalf("result = %+v", res)
	}
	if name := store.Orders()[0].UserName; name != "社員U001" {
		t.Fatalf("user name decoded as %q", name)
	}
}

func encodeShiftJIS(utf8 []byte) ([]byte, error) {
	return japanese.ShiftJIS.NewEncoder().Bytes(utf8)
}
