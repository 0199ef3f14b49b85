package ledger

import (
	"context"
	"errors"
	"io"
	"testing"

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

func newShop(t *testing.T, st store.Store) string {
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

func milkProducts() []models.Product {
	return []models.Product{
		{ID: "milk", Name: "Milk", Rate: decimal.NewFromInt(50)},
		{ID: "curd", Name: "Curd", Rate: decimal.NewFromInt(80)},
	}
}

func TestCreateSalesEntry_TotalFromRates(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())
	ctx := context.Background()

	// Milk at rate 50, quantity 10 => total 500.
	saleID, err := sales.Create(ctx, shopID, "u1", "2024-01-15", models.QuantityMap{
		"milk": decimal.NewFromInt(10),
	}, milkProducts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	doc, err := st.GetOne(ctx, shopID, store.CollectionSales, saleID)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	sale := models.SaleFromDocument(shopID, doc)
	if !sale.Total.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("total = %s, want 500", sale.Total)
	}
	if sale.Date != "2024-01-15" {
		t.Fatalf("date = %q", sale.Date)
	}
}

func TestCreateSalesEntry_SkipsUnknownAndNonPositiveQuantities(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())
	ctx := context.Background()

	saleID, err := sales.Create(ctx, shopID, "u1", "2024-01-15", models.QuantityMap{
		"milk":    decimal.NewFromInt(2),  // 2 * 50 = 100
		"curd":    decimal.Zero,           // skipped
		"unknown": decimal.NewFromInt(99), // no such product
	}, milkProducts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	doc, _ := st.GetOne(ctx, shopID, store.CollectionSales, saleID)
	sale := models.SaleFromDocument(shopID, doc)
	if !sale.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("total = %s, want 100", sale.Total)
	}
}

func TestCreateSalesEntry_RejectsEmptyQuantities(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())
	ctx := context.Background()

	cases := []models.QuantityMap{
		{},
		{"milk": decimal.Zero},
		{"milk": decimal.NewFromInt(-1)},
	}
	for _, quantities := range cases {
		_, err := sales.Create(ctx, shopID, "u1", "2024-01-15", quantities, milkProducts())
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("quantities %v: err = %v, want ValidationError", quantities, err)
		}
		if verr.Field != "quantities" {
			t.Fatalf("validation field = %q", verr.Field)
		}
	}
}

func TestCreateSalesEntry_RejectsBadDate(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())

	_, err := sales.Create(context.Background(), shopID, "u1", "15/01/2024", models.QuantityMap{
		"milk": decimal.NewFromInt(1),
	}, milkProducts())
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "date" {
		t.Fatalf("err = %v, want date validation error", err)
	}
}

func TestUpdateSalesEntry_RecomputesTotalFromCurrentRates(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())
	ctx := context.Background()

	saleID, err := sales.Create(ctx, shopID, "u1", "2024-01-15", models.QuantityMap{
		"milk": decimal.NewFromInt(10),
	}, milkProducts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Rate changed to 60 before the edit; the edit recomputes from the
	// rates in force now.
	repriced := []models.Product{{ID: "milk", Name: "Milk", Rate: decimal.NewFromInt(60)}}
	if err := sales.Update(ctx, shopID, saleID, "2024-01-16", models.QuantityMap{
		"milk": decimal.NewFromInt(10),
	}, repriced); err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, _ := st.GetOne(ctx, shopID, store.CollectionSales, saleID)
	sale := models.SaleFromDocument(shopID, doc)
	if !sale.Total.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("total = %s, want 600", sale.Total)
	}
	if sale.Date != "2024-01-16" {
		t.Fatalf("date = %q, want 2024-01-16", sale.Date)
	}
}

func TestRateChangeDoesNotAlterStoredTotals(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())
	ctx := context.Background()

	saleID, err := sales.Create(ctx, shopID, "u1", "2024-01-15", models.QuantityMap{
		"milk": decimal.NewFromInt(10),
	}, milkProducts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A later product repricing must not touch entries already written.
	doc, _ := st.GetOne(ctx, shopID, store.CollectionSales, saleID)
	sale := models.SaleFromDocument(shopID, doc)
	if !sale.Total.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("total = %s, want 500 frozen at write time", sale.Total)
	}
}

func TestDeleteSalesEntry_LeavesPaymentsAlone(t *testing.T) {
	st := memstore.New()
	shopID := newShop(t, st)
	sales := NewSalesService(st, testLogger())
	payments := NewPaymentService(st, NewBalance(st, testLogger()), testLogger())
	ctx := context.Background()

	saleID, err := sales.Create(ctx, shopID, "u1", "2024-01-15", models.QuantityMap{
		"milk": decimal.NewFromInt(10),
	}, milkProducts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	paymentID, err := payments.Receive(ctx, shopID, "u1", ReceivePaymentInput{
		SaleID:         saleID,
		AmountReceived: decimal.NewFromInt(400),
		ExpensesNum:    decimal.NewFromInt(50),
		PaymentDate:    "2024-01-16",
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if err := sales.Delete(ctx, shopID, saleID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.GetOne(ctx, shopID, store.CollectionPayments, paymentID); err != nil {
		t.Fatalf("payment should survive a sales-only delete: %v", err)
	}
}
