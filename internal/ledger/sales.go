package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
)

// SalesService owns sales entries: quantity-per-product on a date, with
// the monetary total computed from product rates at write time and
// frozen into the entry.
type SalesService struct {
	store store.Store
	log   *logrus.Logger
}

func NewSalesService(st store.Store, log *logrus.Logger) *SalesService {
	return &SalesService{store: st, log: log}
}

// computeTotal sums quantity * rate over the products present in the
// quantity map. Missing products and non-positive quantities are
// skipped, matching the entry form which only submits filled rows.
func computeTotal(quantities models.QuantityMap, products []models.Product) decimal.Decimal {
	rates := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		rates[p.ID] = p.Rate
	}
	total := decimal.Zero
	for productID, qty := range quantities {
		if qty.Sign() <= 0 {
			continue
		}
		rate, ok := rates[productID]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(rate))
	}
	return total
}

func validateQuantities(quantities models.QuantityMap) error {
	for _, qty := range quantities {
		if qty.Sign() > 0 {
			return nil
		}
	}
	return invalid("quantities", "at least one positive quantity is required")
}

func (s *SalesService) Create(ctx context.Context, shopID, userID, date string, quantities models.QuantityMap, products []models.Product) (string, error) {
	normalizedDate, err := models.ParseDate(date)
	if err != nil {
		return "", invalid("date", "expected YYYY-MM-DD")
	}
	if err := validateQuantities(quantities); err != nil {
		return "", err
	}

	entry := models.SalesEntry{
		ShopID:     shopID,
		Date:       normalizedDate,
		Quantities: quantities,
		Total:      computeTotal(quantities, products),
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}

	id, err := s.store.Create(ctx, shopID, store.CollectionSales, entry.Document())
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"shopId": shopID,
		"saleId": id,
		"date":   entry.Date,
		"total":  entry.Total.String(),
	}).Info("sales entry created")
	return id, nil
}

// Update overwrites the entry's quantities and recomputes its total
// from the rates passed in. An existing payment keeps its saleTotal
// snapshot and dueAmount untouched; the payment stays stale until the
// user resyncs it (PaymentService.Resync).
func (s *SalesService) Update(ctx context.Context, shopID, saleID, date string, quantities models.QuantityMap, products []models.Product) error {
	normalizedDate, err := models.ParseDate(date)
	if err != nil {
		return invalid("date", "expected YYYY-MM-DD")
	}
	if err := validateQuantities(quantities); err != nil {
		return err
	}

	patch := store.Document{
		"date":       normalizedDate,
		"quantities": quantities,
		"total":      computeTotal(quantities, products),
	}
	if err := s.store.Update(ctx, shopID, store.CollectionSales, saleID, patch); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"shopId": shopID,
		"saleId": saleID,
	}).Info("sales entry updated")
	return nil
}

// Delete removes the sales entry only. The reconciliation screen's
// cascade lives in PaymentService.DeleteReconciledEntry.
func (s *SalesService) Delete(ctx context.Context, shopID, saleID string) error {
	return s.store.Delete(ctx, shopID, store.CollectionSales, saleID)
}
