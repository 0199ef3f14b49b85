package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
	"khata-system/internal/store/memstore"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seedShop(t *testing.T, st store.Store) string {
	t.Helper()
	shopID, err := st.CreateShop(context.Background(), models.Shop{
		Name:          "Test Dairy",
		TotalEarnings: decimal.Zero,
		UserID:        "u1",
	}.Document())
	if err != nil {
		t.Fatalf("CreateShop: %v", err)
	}
	return shopID
}

func seedSale(t *testing.T, st store.Store, shopID, id, date string, total int64, createdAt time.Time) {
	t.Helper()
	_, err := st.Create(context.Background(), shopID, store.CollectionSales, models.SalesEntry{
		ID:         id,
		ShopID:     shopID,
		Date:       date,
		Quantities: models.QuantityMap{"milk": decimal.NewFromInt(1)},
		Total:      decimal.NewFromInt(total),
		UserID:     "u1",
		CreatedAt:  createdAt,
	}.Document())
	if err != nil {
		t.Fatalf("seed sale %s: %v", id, err)
	}
}

func seedPayment(t *testing.T, st store.Store, shopID, id, saleID string, received, expenses, due int64, createdAt time.Time) {
	t.Helper()
	_, err := st.Create(context.Background(), shopID, store.CollectionPayments, models.PaymentRecord{
		ID:             id,
		ShopID:         shopID,
		SaleID:         saleID,
		SaleTotal:      decimal.NewFromInt(received + expenses - due),
		AmountReceived: decimal.NewFromInt(received),
		ExpensesNum:    decimal.NewFromInt(expenses),
		DueAmount:      decimal.NewFromInt(due),
		PaymentDate:    "2024-01-20",
		UserID:         "u1",
		CreatedAt:      createdAt,
	}.Document())
	if err != nil {
		t.Fatalf("seed payment %s: %v", id, err)
	}
}

func waitFor(t *testing.T, s *Session, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var view View
	for time.Now().Before(deadline) {
		view = s.Snapshot()
		if cond(view) {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last view: state=%s entries=%d", what, view.State, len(view.Entries))
	return View{}
}

func startSession(t *testing.T, st store.Store, shopID string, salesPageSize, paymentsPageSize int) *Session {
	t.Helper()
	session := NewSession(st, shopID, salesPageSize, paymentsPageSize, testLogger())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func TestSession_UnpaidSaleShowsNegativeDue(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	seedSale(t, st, shopID, "s1", "2024-01-15", 500, base)

	session := startSession(t, st, shopID, 10, 10)
	view := waitFor(t, session, "one entry", func(v View) bool { return len(v.Entries) == 1 })

	entry := view.Entries[0]
	if entry.HasPayment {
		t.Fatal("unpaid sale reported as having a payment")
	}
	if !entry.DueAmount.Equal(decimal.NewFromInt(-500)) {
		t.Fatalf("dueAmount = %s, want -500 (negated total)", entry.DueAmount)
	}
	if !entry.Received.IsZero() || !entry.Expense.IsZero() {
		t.Fatalf("unpaid entry has received=%s expense=%s", entry.Received, entry.Expense)
	}
	if entry.ProductName != "Sales Entry - 2024-01-15" {
		t.Fatalf("productName = %q", entry.ProductName)
	}
}

func TestSession_PaidSaleUsesPaymentFigures(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	seedSale(t, st, shopID, "s1", "2024-01-15", 500, base)
	seedPayment(t, st, shopID, "p1", "s1", 400, 50, -50, base.Add(time.Hour))

	session := startSession(t, st, shopID, 10, 10)
	view := waitFor(t, session, "paid entry", func(v View) bool {
		return len(v.Entries) == 1 && v.Entries[0].HasPayment
	})

	entry := view.Entries[0]
	if !entry.Received.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("received = %s, want 400", entry.Received)
	}
	if !entry.Expense.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expense = %s, want 50", entry.Expense)
	}
	if !entry.DueAmount.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("dueAmount = %s, want -50", entry.DueAmount)
	}
	if entry.PaymentID != "p1" {
		t.Fatalf("paymentId = %q", entry.PaymentID)
	}
}

// A payment can land before its sale is visible; the join must simply
// converge once both streams have delivered.
func TestSession_PaymentBeforeSaleConverges(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	session := startSession(t, st, shopID, 10, 10)

	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	seedPayment(t, st, shopID, "p1", "s1", 400, 50, -50, base.Add(time.Hour))

	// The orphan payment produces no entry on its own.
	if view := session.Snapshot(); len(view.Entries) != 0 {
		t.Fatalf("orphan payment produced %d entries", len(view.Entries))
	}

	seedSale(t, st, shopID, "s1", "2024-01-15", 500, base)

	view := waitFor(t, session, "converged entry", func(v View) bool {
		return len(v.Entries) == 1 && v.Entries[0].HasPayment
	})
	if !view.Entries[0].DueAmount.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("dueAmount = %s, want -50", view.Entries[0].DueAmount)
	}
}

func TestSession_SameDateEntriesStayDistinct(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	seedSale(t, st, shopID, "s1", "2024-01-15", 500, base)
	seedSale(t, st, shopID, "s2", "2024-01-15", 300, base.Add(time.Minute))
	seedPayment(t, st, shopID, "p1", "s1", 500, 0, 0, base.Add(time.Hour))

	session := startSession(t, st, shopID, 10, 10)
	view := waitFor(t, session, "two entries", func(v View) bool { return len(v.Entries) == 2 })

	// The join key is saleId; the payment attaches to s1 only.
	byID := map[string]CombinedEntry{}
	for _, entry := range view.Entries {
		byID[entry.ID] = entry
	}
	if !byID["s1"].HasPayment {
		t.Fatal("payment not attached to s1")
	}
	if byID["s2"].HasPayment {
		t.Fatal("payment leaked onto the same-date sibling s2")
	}
	if !byID["s2"].DueAmount.Equal(decimal.NewFromInt(-300)) {
		t.Fatalf("s2 dueAmount = %s, want -300", byID["s2"].DueAmount)
	}
}

func TestSession_LoadMoreCoversAllWithoutDuplicates(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("s%d", i)
		seedSale(t, st, shopID, id, fmt.Sprintf("2024-01-%02d", i+1), 100, base.Add(time.Duration(i)*time.Minute))
		seedPayment(t, st, shopID, "p"+id, id, 100, 0, 0, base.Add(time.Duration(i)*time.Minute+time.Second))
	}

	session := startSession(t, st, shopID, 3, 3)
	waitFor(t, session, "first pages", func(v View) bool {
		return len(v.Entries) == 3 && v.SalesHasMore
	})

	for i := 0; i < 10; i++ {
		view := session.Snapshot()
		if !view.SalesHasMore && !view.PaymentsHasMore {
			break
		}
		if err := session.LoadMore(ctx); err != nil {
			t.Fatalf("LoadMore: %v", err)
		}
	}

	view := waitFor(t, session, "full coverage", func(v View) bool {
		return !v.SalesHasMore && !v.PaymentsHasMore && len(v.Entries) == 8
	})
	seen := map[string]bool{}
	for _, entry := range view.Entries {
		if seen[entry.ID] {
			t.Fatalf("duplicate entry %s", entry.ID)
		}
		seen[entry.ID] = true
		if !entry.HasPayment {
			t.Fatalf("entry %s lost its payment across pagination", entry.ID)
		}
	}
	if view.State != StateExhausted {
		t.Fatalf("state = %s, want %s", view.State, StateExhausted)
	}

	// Dates descend.
	for i := 1; i < len(view.Entries); i++ {
		if view.Entries[i-1].Date < view.Entries[i].Date {
			t.Fatalf("entries out of order: %s before %s", view.Entries[i-1].Date, view.Entries[i].Date)
		}
	}
}

func TestSession_LiveInsertRefreshesWindow(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	seedSale(t, st, shopID, "s1", "2024-01-15", 500, base)

	session := startSession(t, st, shopID, 10, 10)
	waitFor(t, session, "one entry", func(v View) bool { return len(v.Entries) == 1 })

	seedSale(t, st, shopID, "s2", "2024-01-16", 300, base.Add(time.Hour))
	view := waitFor(t, session, "two entries", func(v View) bool { return len(v.Entries) == 2 })
	if view.Entries[0].ID != "s2" {
		t.Fatalf("newest entry = %s, want s2 first", view.Entries[0].ID)
	}
}

func TestSession_DeleteObservedThroughWindow(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	seedSale(t, st, shopID, "s1", "2024-01-15", 500, base)
	seedSale(t, st, shopID, "s2", "2024-01-16", 300, base.Add(time.Hour))

	session := startSession(t, st, shopID, 10, 10)
	waitFor(t, session, "two entries", func(v View) bool { return len(v.Entries) == 2 })

	if err := st.Delete(ctx, shopID, store.CollectionSales, "s2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	view := waitFor(t, session, "one entry left", func(v View) bool { return len(v.Entries) == 1 })
	if view.Entries[0].ID != "s1" {
		t.Fatalf("surviving entry = %s, want s1", view.Entries[0].ID)
	}
}

func TestSession_EarningsAndShopNameFlowThrough(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)

	session := startSession(t, st, shopID, 10, 10)
	waitFor(t, session, "shop name", func(v View) bool { return v.ShopName == "Test Dairy" })

	if err := st.IncrementShopEarnings(context.Background(), shopID, decimal.NewFromInt(-50)); err != nil {
		t.Fatalf("IncrementShopEarnings: %v", err)
	}
	waitFor(t, session, "earnings update", func(v View) bool {
		return v.TotalEarnings.Equal(decimal.NewFromInt(-50))
	})
}

// flakyStore forces Query failures to exercise the load-more error path.
type flakyStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *flakyStore) Query(ctx context.Context, q store.Query) (store.Page, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return store.Page{}, errors.New("query failed")
	}
	return f.Store.Query(ctx, q)
}

func TestSession_FailedLoadMoreKeepsLoadedPages(t *testing.T) {
	mem := memstore.New()
	shopID := seedShop(t, mem)
	flaky := &flakyStore{Store: mem}
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		seedSale(t, mem, shopID, fmt.Sprintf("s%d", i), fmt.Sprintf("2024-01-%02d", i+1), 100, base)
	}

	session := startSession(t, flaky, shopID, 3, 3)
	waitFor(t, session, "first page", func(v View) bool {
		return len(v.Entries) == 3 && v.SalesHasMore
	})

	flaky.setFail(true)
	if err := session.LoadMore(ctx); err == nil {
		t.Fatal("LoadMore succeeded against a failing store")
	}

	view := session.Snapshot()
	if len(view.Entries) != 3 {
		t.Fatalf("entries = %d after failed load, want the 3 already loaded", len(view.Entries))
	}
	if !view.SalesHasMore {
		t.Fatal("salesHasMore cleared by a failed load")
	}

	// The retry picks up where the cursor left off.
	flaky.setFail(false)
	if err := session.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore retry: %v", err)
	}
	waitFor(t, session, "retry result", func(v View) bool { return len(v.Entries) == 6 })
}

func TestSession_CloseStopsUpdates(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	seedSale(t, st, shopID, "s1", "2024-01-15", 500, time.Now().UTC())

	session := NewSession(st, shopID, 10, 10, testLogger())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, session, "one entry", func(v View) bool { return len(v.Entries) == 1 })

	session.Close()
	session.Close() // idempotent

	if err := session.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore after close: %v", err)
	}
}

func TestManager_ReusesSessionUntilReleased(t *testing.T) {
	st := memstore.New()
	shopID := seedShop(t, st)
	manager := NewManager(st, 10, 10, testLogger())
	defer manager.CloseAll()
	ctx := context.Background()

	first, err := manager.Session(ctx, shopID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	again, err := manager.Session(ctx, shopID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if first != again {
		t.Fatal("second access did not reuse the live session")
	}

	manager.Release(shopID)
	fresh, err := manager.Session(ctx, shopID)
	if err != nil {
		t.Fatalf("Session after release: %v", err)
	}
	if fresh == first {
		t.Fatal("release did not retire the old session")
	}
}
