package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"khata-system/internal/store"
)

const DateLayout = "2006-01-02"

func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t.Format(DateLayout), nil
}

// QuantityMap maps productId to quantity sold. Stored as a JSON column.
type QuantityMap map[string]decimal.Decimal

func (q *QuantityMap) Scan(value interface{}) error {
	if value == nil {
		*q = QuantityMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan QuantityMap: %v", value)
	}
	return json.Unmarshal(bytes, q)
}

func (q QuantityMap) Value() (driver.Value, error) {
	if q == nil {
		return "{}", nil
	}
	return json.Marshal(q)
}

// NormalizeQuantities decodes the quantities field from a document.
// Entries written by current app versions carry an object
// {productId: qty}; one legacy revision wrote an array
// [{id, qty, rate}]. Both shapes collapse to a QuantityMap; anything
// unreadable becomes an empty map rather than an error.
func NormalizeQuantities(v interface{}) QuantityMap {
	out := QuantityMap{}
	switch val := v.(type) {
	case QuantityMap:
		for k, q := range val {
			out[k] = q
		}
	case map[string]decimal.Decimal:
		for k, q := range val {
			out[k] = q
		}
	case map[string]interface{}:
		for k, raw := range val {
			out[k] = toDecimal(raw)
		}
	case []interface{}:
		for _, raw := range val {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := item["id"].(string)
			if id == "" {
				continue
			}
			out[id] = toDecimal(item["qty"])
		}
	}
	return out
}

type Shop struct {
	ID            string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name          string          `gorm:"not null" json:"name"`
	TotalEarnings decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"totalEarnings"`
	UserID        string          `gorm:"index;not null" json:"userId"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func (s Shop) Document() store.Document {
	return store.Document{
		"id":            s.ID,
		"name":          s.Name,
		"totalEarnings": s.TotalEarnings,
		"userId":        s.UserID,
		"createdAt":     s.CreatedAt,
	}
}

func ShopFromDocument(doc store.Document) Shop {
	return Shop{
		ID:            doc.ID(),
		Name:          toString(doc["name"]),
		TotalEarnings: toDecimal(doc["totalEarnings"]),
		UserID:        toString(doc["userId"]),
		CreatedAt:     toTime(doc["createdAt"]),
	}
}

type Product struct {
	ID        string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ShopID    string          `gorm:"index;not null" json:"shopId"`
	Name      string          `gorm:"not null" json:"name"`
	Rate      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"rate"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (p Product) Document() store.Document {
	return store.Document{
		"id":        p.ID,
		"name":      p.Name,
		"rate":      p.Rate,
		"createdAt": p.CreatedAt,
	}
}

func ProductFromDocument(shopID string, doc store.Document) Product {
	return Product{
		ID:        doc.ID(),
		ShopID:    shopID,
		Name:      toString(doc["name"]),
		Rate:      toDecimal(doc["rate"]),
		CreatedAt: toTime(doc["createdAt"]),
	}
}

// SalesEntry is one consolidated sale per shop per date. Total is
// computed from product rates at write time and stored; it is never
// recomputed from current rates on read.
type SalesEntry struct {
	ID          string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ShopID      string          `gorm:"index;not null" json:"shopId"`
	Date        string          `gorm:"type:varchar(10);index;not null" json:"date"`
	ProductName string          `json:"productName"`
	Quantities  QuantityMap     `gorm:"type:text" json:"quantities"`
	Total       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total"`
	UserID      string          `gorm:"index;not null" json:"userId"`
	CreatedAt   time.Time       `gorm:"index" json:"createdAt"`
}

func (s SalesEntry) Document() store.Document {
	doc := store.Document{
		"id":         s.ID,
		"date":       s.Date,
		"quantities": s.Quantities,
		"total":      s.Total,
		"userId":     s.UserID,
		"createdAt":  s.CreatedAt,
	}
	if s.ProductName != "" {
		doc["productName"] = s.ProductName
	}
	return doc
}

func SaleFromDocument(shopID string, doc store.Document) SalesEntry {
	return SalesEntry{
		ID:          doc.ID(),
		ShopID:      shopID,
		Date:        toString(doc["date"]),
		ProductName: toString(doc["productName"]),
		Quantities:  NormalizeQuantities(doc["quantities"]),
		Total:       toDecimal(doc["total"]),
		UserID:      toString(doc["userId"]),
		CreatedAt:   toTime(doc["createdAt"]),
	}
}

// DisplayName falls back to a synthetic label for consolidated entries,
// which have no single product name.
func (s SalesEntry) DisplayName() string {
	if s.ProductName != "" {
		return s.ProductName
	}
	return "Sales Entry - " + s.Date
}

// PaymentRecord links cash received and expenses to exactly one
// SalesEntry. SaleTotal is a snapshot taken when the payment was
// recorded; editing the sale later does not update it (see
// PaymentService.Resync). Invariant:
// DueAmount = AmountReceived + ExpensesNum - SaleTotal.
type PaymentRecord struct {
	ID             string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ShopID         string          `gorm:"index;not null" json:"shopId"`
	SaleID         string          `gorm:"index;not null" json:"saleId"`
	ProductName    string          `json:"productName"`
	SaleDate       string          `gorm:"type:varchar(10)" json:"saleDate"`
	SaleTotal      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"saleTotal"`
	AmountReceived decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amountReceived"`
	ExpensesNum    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"expensesNum"`
	DueAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"dueAmount"`
	PaymentDate    string          `gorm:"type:varchar(10)" json:"paymentDate"`
	UserID         string          `gorm:"index;not null" json:"userId"`
	CreatedAt      time.Time       `gorm:"index" json:"createdAt"`
}

func (p PaymentRecord) Document() store.Document {
	return store.Document{
		"id":             p.ID,
		"saleId":         p.SaleID,
		"productName":    p.ProductName,
		"saleDate":       p.SaleDate,
		"saleTotal":      p.SaleTotal,
		"amountReceived": p.AmountReceived,
		"expensesNum":    p.ExpensesNum,
		"dueAmount":      p.DueAmount,
		"paymentDate":    p.PaymentDate,
		"userId":         p.UserID,
		"createdAt":      p.CreatedAt,
	}
}

func PaymentFromDocument(shopID string, doc store.Document) PaymentRecord {
	return PaymentRecord{
		ID:             doc.ID(),
		ShopID:         shopID,
		SaleID:         toString(doc["saleId"]),
		ProductName:    toString(doc["productName"]),
		SaleDate:       toString(doc["saleDate"]),
		SaleTotal:      toDecimal(doc["saleTotal"]),
		AmountReceived: toDecimal(doc["amountReceived"]),
		ExpensesNum:    toDecimal(doc["expensesNum"]),
		DueAmount:      toDecimal(doc["dueAmount"]),
		PaymentDate:    toString(doc["paymentDate"]),
		UserID:         toString(doc["userId"]),
		CreatedAt:      toTime(doc["createdAt"]),
	}
}

// User backs the auth collaborator. Not part of the document store.
type User struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	Username  string     `gorm:"uniqueIndex;not null"`
	Email     string     `gorm:"uniqueIndex;not null"`
	Password  string     `gorm:"not null"`
	CreatedAt *time.Time `gorm:"autoCreateTime"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime"`
}

// --- document field coercion ---
//
// Documents are schemaless; numbers may arrive as decimals, floats,
// json.Number or strings depending on which app revision wrote them.

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case decimal.Decimal:
		return val
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err == nil {
			return d
		}
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func toTime(v interface{}) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
