// Package reconcile merges the sales and payment streams into one
// deduplicated, date-ordered view, driving incremental page loads of
// each underlying stream independently.
package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"khata-system/internal/database/models"
)

// CombinedEntry is the derived left join of a SalesEntry with its
// optional PaymentRecord. It is never persisted.
type CombinedEntry struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	ProductName string          `json:"productName"`
	Total       decimal.Decimal `json:"total"`
	Received    decimal.Decimal `json:"received"`
	Expense     decimal.Decimal `json:"expense"`
	DueAmount   decimal.Decimal `json:"dueAmount"`
	HasPayment  bool            `json:"hasPayment"`
	PaymentID   string          `json:"paymentId,omitempty"`
}

// joinStreams produces the combined view from the loaded sales and
// payments. The join key is saleId, never the date: two entries on the
// same day stay distinct. At most one payment per sale is assumed; when
// data violates that, the most recently created record wins and the
// duplicate is logged, never fatal.
func joinStreams(sales []models.SalesEntry, payments []models.PaymentRecord, salesExhausted bool, log *logrus.Logger) []CombinedEntry {
	bySale := make(map[string]models.PaymentRecord, len(payments))
	loadedSales := make(map[string]struct{}, len(sales))
	for _, s := range sales {
		loadedSales[s.ID] = struct{}{}
	}

	for _, p := range payments {
		existing, ok := bySale[p.SaleID]
		if ok {
			log.WithFields(logrus.Fields{
				"saleId":     p.SaleID,
				"paymentIds": []string{existing.ID, p.ID},
			}).Warn("duplicate payment records for one sale; using the most recent")
			if p.CreatedAt.Before(existing.CreatedAt) {
				continue
			}
		}
		bySale[p.SaleID] = p

		if salesExhausted {
			if _, ok := loadedSales[p.SaleID]; !ok {
				log.WithFields(logrus.Fields{
					"saleId":    p.SaleID,
					"paymentId": p.ID,
				}).Warn("payment record references a sales entry that no longer exists")
			}
		}
	}

	sort.Slice(sales, func(i, j int) bool {
		if sales[i].Date != sales[j].Date {
			return sales[i].Date > sales[j].Date
		}
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.After(sales[j].CreatedAt)
		}
		return sales[i].ID < sales[j].ID
	})

	entries := make([]CombinedEntry, 0, len(sales))
	for _, sale := range sales {
		entry := CombinedEntry{
			ID:          sale.ID,
			Date:        sale.Date,
			ProductName: sale.DisplayName(),
			Total:       sale.Total,
			Received:    decimal.Zero,
			Expense:     decimal.Zero,
			DueAmount:   sale.Total.Neg(),
		}
		if payment, ok := bySale[sale.ID]; ok {
			entry.Received = payment.AmountReceived
			entry.Expense = payment.ExpensesNum
			entry.DueAmount = payment.DueAmount
			entry.HasPayment = true
			entry.PaymentID = payment.ID
		}
		entries = append(entries, entry)
	}
	return entries
}
