// Package store defines the narrow contract the ledgers and the
// reconciler depend on: per-shop document collections with ordered
// cursor-paginated queries and live window subscriptions.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CollectionProducts = "products"
	CollectionSales    = "sales"
	CollectionPayments = "payments"
)

// Order fields accepted by Query. They are part of the wire contract:
// sales windows are ordered by "date", payment windows by "createdAt".
const (
	OrderByDate      = "date"
	OrderByCreatedAt = "createdAt"
)

var ErrNotFound = errors.New("document not found")

// StoreError wraps a failed remote operation. Always retryable: callers
// keep their local state, which is only ever advanced by subscription
// snapshots, never optimistically.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Document is a schemaless record. Field names are the wire contract
// (date, quantities, total, saleId, amountReceived, expensesNum,
// dueAmount, totalEarnings). The id travels under "id".
type Document map[string]interface{}

func (d Document) ID() string {
	s, _ := d["id"].(string)
	return s
}

// Cursor is an opaque "last seen" pagination marker. Empty means the
// first page.
type Cursor string

type cursorPayload struct {
	Field string `json:"f"`
	Value string `json:"v"`
	ID    string `json:"id"`
}

func EncodeCursor(field, value, id string) Cursor {
	raw, _ := json.Marshal(cursorPayload{Field: field, Value: value, ID: id})
	return Cursor(base64.StdEncoding.EncodeToString(raw))
}

func DecodeCursor(c Cursor) (field, value, id string, err error) {
	raw, err := base64.StdEncoding.DecodeString(string(c))
	if err != nil {
		return "", "", "", fmt.Errorf("malformed cursor: %w", err)
	}
	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", "", fmt.Errorf("malformed cursor: %w", err)
	}
	return p.Field, p.Value, p.ID, nil
}

type Query struct {
	ShopID     string
	Collection string
	OrderBy    string
	Descending bool
	// PageSize <= 0 fetches the whole collection in one page.
	PageSize int
	After    Cursor
}

type Page struct {
	Docs []Document
	Next Cursor
}

// Subscription delivers full snapshots of the subscribed query's current
// window whenever that window changes. Close stops delivery; it is safe
// to call more than once.
type Subscription interface {
	Updates() <-chan Page
	Close()
}

// ShopSubscription delivers the shop document itself (name and running
// totalEarnings) on every change.
type ShopSubscription interface {
	Updates() <-chan Document
	Close()
}

type Store interface {
	Query(ctx context.Context, q Query) (Page, error)
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	Create(ctx context.Context, shopID, collection string, doc Document) (string, error)
	Update(ctx context.Context, shopID, collection, id string, patch Document) error
	Delete(ctx context.Context, shopID, collection, id string) error
	GetOne(ctx context.Context, shopID, collection, id string) (Document, error)

	// Shops are the root collection owning the sub-collections above.
	CreateShop(ctx context.Context, doc Document) (string, error)
	GetShop(ctx context.Context, shopID string) (Document, error)
	ListShops(ctx context.Context, userID string) ([]Document, error)
	DeleteShop(ctx context.Context, shopID string) error
	SubscribeShop(ctx context.Context, shopID string) (ShopSubscription, error)

	// IncrementShopEarnings applies delta to totalEarnings as a single
	// atomic operation at the store layer. This replaces the
	// read-modify-write accumulator the app historically used, which
	// loses updates under concurrent writers.
	IncrementShopEarnings(ctx context.Context, shopID string, delta decimal.Decimal) error
	SetShopEarnings(ctx context.Context, shopID string, total decimal.Decimal) error
}

// Atomic is implemented by stores that can run several writes in one
// transaction. Ledgers upgrade via type assertion and fall back to
// ordered individual writes when the store cannot provide it.
type Atomic interface {
	Atomically(ctx context.Context, fn func(Store) error) error
}
