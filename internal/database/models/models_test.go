package models

import (
	"testing"

	"github.com/shopspring/decimal"

	"khata-system/internal/store"
)

func TestNormalizeQuantities_ObjectShape(t *testing.T) {
	got := NormalizeQuantities(map[string]interface{}{
		"milk": 10.0,
		"curd": "2.5",
	})
	if !got["milk"].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("milk qty = %s, want 10", got["milk"])
	}
	if !got["curd"].Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("curd qty = %s, want 2.5", got["curd"])
	}
}

func TestNormalizeQuantities_LegacyArrayShape(t *testing.T) {
	// One app revision wrote quantities as [{id, qty, rate}].
	got := NormalizeQuantities([]interface{}{
		map[string]interface{}{"id": "milk", "qty": 10.0, "rate": 50.0},
		map[string]interface{}{"id": "curd", "qty": 2.0},
		map[string]interface{}{"qty": 3.0}, // no id: dropped
	})
	if len(got) != 2 {
		t.Fatalf("got %d quantities, want 2", len(got))
	}
	if !got["milk"].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("milk qty = %s, want 10", got["milk"])
	}
}

func TestNormalizeQuantities_UnreadableShapeIsEmpty(t *testing.T) {
	if got := NormalizeQuantities("garbage"); len(got) != 0 {
		t.Fatalf("got %d quantities, want 0", len(got))
	}
	if got := NormalizeQuantities(nil); len(got) != 0 {
		t.Fatalf("got %d quantities, want 0", len(got))
	}
}

func TestSaleFromDocument_StoredTotalIsUsedAsIs(t *testing.T) {
	doc := store.Document{
		"id":         "s1",
		"date":       "2024-01-01",
		"quantities": map[string]interface{}{"milk": 10.0},
		"total":      500.0,
		"userId":     "u1",
	}
	sale := SaleFromDocument("shop1", doc)
	if !sale.Total.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("total = %s, want 500 (stored, not recomputed)", sale.Total)
	}
	if sale.Date != "2024-01-01" {
		t.Fatalf("date = %q", sale.Date)
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2024-01-31"); err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
	if _, err := ParseDate("31/01/2024"); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
	if _, err := ParseDate(""); err == nil {
		t.Fatal("expected error for empty date")
	}
}

func TestSalesEntryDisplayName(t *testing.T) {
	entry := SalesEntry{Date: "2024-01-01"}
	if got := entry.DisplayName(); got != "Sales Entry - 2024-01-01" {
		t.Fatalf("display name = %q", got)
	}
	entry.ProductName = "Milk"
	if got := entry.DisplayName(); got != "Milk" {
		t.Fatalf("display name = %q", got)
	}
}
