package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
)

// PaymentService owns payment records and drives the balance
// accumulator. When the store supports transactions, the record write
// and the balance update commit together; otherwise the record is
// written first so a crash can never leave a balance change without a
// record behind it.
type PaymentService struct {
	store   store.Store
	balance *Balance
	log     *logrus.Logger
}

func NewPaymentService(st store.Store, balance *Balance, log *logrus.Logger) *PaymentService {
	return &PaymentService{store: st, balance: balance, log: log}
}

type ReceivePaymentInput struct {
	SaleID         string
	AmountReceived decimal.Decimal
	ExpensesNum    decimal.Decimal
	PaymentDate    string
}

type EditPaymentInput struct {
	AmountReceived decimal.Decimal
	ExpensesNum    decimal.Decimal
	PaymentDate    string
}

func dueAmount(received, expenses, saleTotal decimal.Decimal) decimal.Decimal {
	return received.Add(expenses).Sub(saleTotal)
}

func validateAmounts(received, expenses decimal.Decimal) error {
	if received.Sign() <= 0 {
		return invalid("amountReceived", "must be a positive amount")
	}
	if expenses.Sign() < 0 {
		return invalid("expensesNum", "must be zero or a positive amount")
	}
	return nil
}

func (p *PaymentService) atomically(ctx context.Context, fn func(store.Store) error) error {
	if a, ok := p.store.(store.Atomic); ok {
		return a.Atomically(ctx, fn)
	}
	return fn(p.store)
}

// applyIn routes a balance delta through the accumulator against the
// given store scope (the transaction, when there is one).
func (b *Balance) applyIn(ctx context.Context, st store.Store, shopID string, delta decimal.Decimal) error {
	return st.IncrementShopEarnings(ctx, shopID, delta)
}

// Receive records a payment against an unpaid sales entry. The sale's
// stored total is snapshotted into the record, and totalEarnings moves
// by the computed due amount.
func (p *PaymentService) Receive(ctx context.Context, shopID, userID string, in ReceivePaymentInput) (string, error) {
	if err := validateAmounts(in.AmountReceived, in.ExpensesNum); err != nil {
		return "", err
	}
	paymentDate, err := models.ParseDate(in.PaymentDate)
	if err != nil {
		return "", invalid("paymentDate", "expected YYYY-MM-DD")
	}

	saleDoc, err := p.store.GetOne(ctx, shopID, store.CollectionSales, in.SaleID)
	if err != nil {
		return "", err
	}
	sale := models.SaleFromDocument(shopID, saleDoc)

	due := dueAmount(in.AmountReceived, in.ExpensesNum, sale.Total)
	record := models.PaymentRecord{
		ShopID:         shopID,
		SaleID:         sale.ID,
		ProductName:    sale.DisplayName(),
		SaleDate:       sale.Date,
		SaleTotal:      sale.Total,
		AmountReceived: in.AmountReceived,
		ExpensesNum:    in.ExpensesNum,
		DueAmount:      due,
		PaymentDate:    paymentDate,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
	}

	var id string
	err = p.atomically(ctx, func(st store.Store) error {
		var cerr error
		id, cerr = st.Create(ctx, shopID, store.CollectionPayments, record.Document())
		if cerr != nil {
			return cerr
		}
		return p.balance.applyIn(ctx, st, shopID, due)
	})
	if err != nil {
		return "", err
	}

	p.log.WithFields(logrus.Fields{
		"shopId":    shopID,
		"saleId":    sale.ID,
		"paymentId": id,
		"dueAmount": due.String(),
	}).Info("payment recorded")
	return id, nil
}

// Edit recomputes the record's due amount from the new figures and the
// record's own saleTotal snapshot, and moves totalEarnings by the
// difference against the previous due amount.
func (p *PaymentService) Edit(ctx context.Context, shopID, paymentID string, in EditPaymentInput) error {
	if err := validateAmounts(in.AmountReceived, in.ExpensesNum); err != nil {
		return err
	}
	paymentDate, err := models.ParseDate(in.PaymentDate)
	if err != nil {
		return invalid("paymentDate", "expected YYYY-MM-DD")
	}

	doc, err := p.store.GetOne(ctx, shopID, store.CollectionPayments, paymentID)
	if err != nil {
		return err
	}
	record := models.PaymentFromDocument(shopID, doc)

	newDue := dueAmount(in.AmountReceived, in.ExpensesNum, record.SaleTotal)
	delta := newDue.Sub(record.DueAmount)

	patch := store.Document{
		"amountReceived": in.AmountReceived,
		"expensesNum":    in.ExpensesNum,
		"dueAmount":      newDue,
		"paymentDate":    paymentDate,
	}

	err = p.atomically(ctx, func(st store.Store) error {
		if uerr := st.Update(ctx, shopID, store.CollectionPayments, paymentID, patch); uerr != nil {
			return uerr
		}
		return p.balance.applyIn(ctx, st, shopID, delta)
	})
	if err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{
		"shopId":    shopID,
		"paymentId": paymentID,
		"delta":     delta.String(),
	}).Info("payment updated")
	return nil
}

// Delete removes the payment record without touching totalEarnings.
// The balance stays a permanent ledger of cash actually received and
// spent ("this will not affect your total balance"); do not "fix" this
// by reversing the due amount.
func (p *PaymentService) Delete(ctx context.Context, shopID, paymentID string) error {
	return p.store.Delete(ctx, shopID, store.CollectionPayments, paymentID)
}

// DeleteReconciledEntry is the reconciliation screen's delete flow: it
// removes the sales entry and any payment record linked to it. The
// cascade is one-way: deleting a sales entry alone (SalesService.Delete)
// never touches payments. totalEarnings is not adjusted.
func (p *PaymentService) DeleteReconciledEntry(ctx context.Context, shopID, saleID string) error {
	page, err := p.store.Query(ctx, store.Query{
		ShopID:     shopID,
		Collection: store.CollectionPayments,
		OrderBy:    store.OrderByCreatedAt,
		Descending: true,
	})
	if err != nil {
		return err
	}

	var linked []string
	for _, doc := range page.Docs {
		rec := models.PaymentFromDocument(shopID, doc)
		if rec.SaleID == saleID {
			linked = append(linked, rec.ID)
		}
	}
	if len(linked) > 1 {
		p.log.WithFields(logrus.Fields{
			"shopId": shopID,
			"saleId": saleID,
			"count":  len(linked),
		}).Warn("multiple payment records linked to one sale; deleting all")
	}

	return p.atomically(ctx, func(st store.Store) error {
		for _, paymentID := range linked {
			if derr := st.Delete(ctx, shopID, store.CollectionPayments, paymentID); derr != nil {
				return derr
			}
		}
		return st.Delete(ctx, shopID, store.CollectionSales, saleID)
	})
}

// Resync re-reads the linked sale's stored total and recomputes the
// record's due amount from it, applying the difference to the balance.
// This is the explicit user action for payments left stale by a later
// sales-entry edit; it is never done automatically.
func (p *PaymentService) Resync(ctx context.Context, shopID, paymentID string) error {
	doc, err := p.store.GetOne(ctx, shopID, store.CollectionPayments, paymentID)
	if err != nil {
		return err
	}
	record := models.PaymentFromDocument(shopID, doc)

	saleDoc, err := p.store.GetOne(ctx, shopID, store.CollectionSales, record.SaleID)
	if err != nil {
		return err
	}
	sale := models.SaleFromDocument(shopID, saleDoc)

	newDue := dueAmount(record.AmountReceived, record.ExpensesNum, sale.Total)
	delta := newDue.Sub(record.DueAmount)

	patch := store.Document{
		"saleTotal": sale.Total,
		"saleDate":  sale.Date,
		"dueAmount": newDue,
	}

	err = p.atomically(ctx, func(st store.Store) error {
		if uerr := st.Update(ctx, shopID, store.CollectionPayments, paymentID, patch); uerr != nil {
			return uerr
		}
		return p.balance.applyIn(ctx, st, shopID, delta)
	})
	if err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{
		"shopId":    shopID,
		"paymentId": paymentID,
		"delta":     delta.String(),
	}).Info("payment resynced to sale total")
	return nil
}
