package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
)

// Balance owns the shop's running totalEarnings. Every payment create
// or edit moves it by a computed delta; deleting a payment never moves
// it (the balance is a permanent ledger of cash actually received and
// spent, not reversible by record deletion).
type Balance struct {
	store store.Store
	log   *logrus.Logger
}

func NewBalance(st store.Store, log *logrus.Logger) *Balance {
	return &Balance{store: st, log: log}
}

// Apply adds delta to the shop's totalEarnings using the store's atomic
// increment, so concurrent editors on two devices cannot lose updates.
func (b *Balance) Apply(ctx context.Context, shopID string, delta decimal.Decimal) error {
	return b.store.IncrementShopEarnings(ctx, shopID, delta)
}

// Recompute rebuilds totalEarnings from the full payment history and
// overwrites the stored value. Repair pass for a balance that drifted
// (crash between a payment write and its balance update, or writes
// from an app version predating atomic increments).
func (b *Balance) Recompute(ctx context.Context, shopID string) (decimal.Decimal, error) {
	page, err := b.store.Query(ctx, store.Query{
		ShopID:     shopID,
		Collection: store.CollectionPayments,
		OrderBy:    store.OrderByCreatedAt,
		Descending: true,
	})
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, doc := range page.Docs {
		rec := models.PaymentFromDocument(shopID, doc)
		total = total.Add(rec.DueAmount)
	}

	if err := b.store.SetShopEarnings(ctx, shopID, total); err != nil {
		return decimal.Zero, err
	}
	b.log.WithFields(logrus.Fields{
		"shopId":        shopID,
		"totalEarnings": total.String(),
		"payments":      len(page.Docs),
	}).Info("recomputed shop earnings from payment history")
	return total, nil
}
