package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"khata-system/internal/database/models"
)

func TestJoinStreams_DuplicatePaymentLatestWins(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	sales := []models.SalesEntry{
		{ID: "s1", Date: "2024-01-15", Total: decimal.NewFromInt(500), CreatedAt: base},
	}
	// Two records against one sale; only the most recent counts.
	payments := []models.PaymentRecord{
		{ID: "p-old", SaleID: "s1", AmountReceived: decimal.NewFromInt(100), DueAmount: decimal.NewFromInt(-400), CreatedAt: base.Add(time.Hour)},
		{ID: "p-new", SaleID: "s1", AmountReceived: decimal.NewFromInt(450), DueAmount: decimal.NewFromInt(-50), CreatedAt: base.Add(2 * time.Hour)},
	}

	entries := joinStreams(sales, payments, true, testLogger())
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].PaymentID != "p-new" {
		t.Fatalf("paymentId = %q, want the most recent p-new", entries[0].PaymentID)
	}
	if !entries[0].DueAmount.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("dueAmount = %s, want -50", entries[0].DueAmount)
	}
}

func TestJoinStreams_DuplicateOrderIndependent(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	sales := []models.SalesEntry{
		{ID: "s1", Date: "2024-01-15", Total: decimal.NewFromInt(500), CreatedAt: base},
	}
	// Newer record first in the slice; the outcome must not depend on
	// arrival order.
	payments := []models.PaymentRecord{
		{ID: "p-new", SaleID: "s1", DueAmount: decimal.NewFromInt(-50), CreatedAt: base.Add(2 * time.Hour)},
		{ID: "p-old", SaleID: "s1", DueAmount: decimal.NewFromInt(-400), CreatedAt: base.Add(time.Hour)},
	}

	entries := joinStreams(sales, payments, true, testLogger())
	if entries[0].PaymentID != "p-new" {
		t.Fatalf("paymentId = %q, want p-new regardless of slice order", entries[0].PaymentID)
	}
}

func TestJoinStreams_OrphanPaymentProducesNoEntry(t *testing.T) {
	payments := []models.PaymentRecord{
		{ID: "p1", SaleID: "gone", DueAmount: decimal.NewFromInt(-50), CreatedAt: time.Now().UTC()},
	}
	entries := joinStreams(nil, payments, true, testLogger())
	if len(entries) != 0 {
		t.Fatalf("orphan payment produced %d entries", len(entries))
	}
}

func TestJoinStreams_SortsByDateThenCreatedAt(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	sales := []models.SalesEntry{
		{ID: "a", Date: "2024-01-14", CreatedAt: base},
		{ID: "b", Date: "2024-01-15", CreatedAt: base},
		{ID: "c", Date: "2024-01-15", CreatedAt: base.Add(time.Hour)},
	}

	entries := joinStreams(sales, nil, true, testLogger())
	got := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
