// Package gormstore implements the document store contract over
// Postgres, with change notifications fanned out through Redis pub/sub
// so live subscribers can re-run their window queries.
package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
)

const changeChannelPrefix = "khata:changes:"

type GormStore struct {
	db  *gorm.DB
	rdb *redis.Client
	log *logrus.Logger

	// pending buffers change events inside Atomically so nothing is
	// published for a transaction that rolls back.
	pending *[]changeEvent
}

type changeEvent struct {
	shopID     string
	collection string
}

func New(db *gorm.DB, rdb *redis.Client, log *logrus.Logger) *GormStore {
	return &GormStore{db: db, rdb: rdb, log: log}
}

func channelFor(shopID, collection string) string {
	return changeChannelPrefix + shopID + ":" + collection
}

func (g *GormStore) publish(ctx context.Context, shopID, collection string) {
	if g.pending != nil {
		*g.pending = append(*g.pending, changeEvent{shopID: shopID, collection: collection})
		return
	}
	if err := g.rdb.Publish(ctx, channelFor(shopID, collection), "1").Err(); err != nil {
		g.log.WithFields(logrus.Fields{
			"shopId":     shopID,
			"collection": collection,
		}).Warnf("change publish failed: %v", err)
	}
}

// orderColumn maps wire-contract order fields to table columns.
func orderColumn(field string) (string, error) {
	switch field {
	case store.OrderByDate:
		return "date", nil
	case store.OrderByCreatedAt:
		return "created_at", nil
	}
	return "", fmt.Errorf("unsupported order field %q", field)
}

func (g *GormStore) Query(ctx context.Context, q store.Query) (store.Page, error) {
	col, err := orderColumn(q.OrderBy)
	if err != nil {
		return store.Page{}, &store.StoreError{Op: "query", Err: err}
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}

	tx := g.db.WithContext(ctx).Where("shop_id = ?", q.ShopID).
		Order(fmt.Sprintf("%s %s, id %s", col, dir, dir))

	if q.After != "" {
		field, raw, id, err := store.DecodeCursor(q.After)
		if err != nil {
			return store.Page{}, &store.StoreError{Op: "query", Err: err}
		}
		value, err := cursorValue(field, raw)
		if err != nil {
			return store.Page{}, &store.StoreError{Op: "query", Err: err}
		}
		if q.Descending {
			tx = tx.Where(fmt.Sprintf("(%s < ?) OR (%s = ? AND id < ?)", col, col), value, value, id)
		} else {
			tx = tx.Where(fmt.Sprintf("(%s > ?) OR (%s = ? AND id > ?)", col, col), value, value, id)
		}
	}
	if q.PageSize > 0 {
		tx = tx.Limit(q.PageSize)
	}

	docs, err := g.fetchDocs(tx, q.Collection)
	if err != nil {
		return store.Page{}, &store.StoreError{Op: "query " + q.Collection, Err: err}
	}

	var next store.Cursor
	if len(docs) > 0 {
		last := docs[len(docs)-1]
		next = store.EncodeCursor(q.OrderBy, encodeOrderValue(last[q.OrderBy]), last.ID())
	}
	return store.Page{Docs: docs, Next: next}, nil
}

func cursorValue(field, raw string) (interface{}, error) {
	if field == store.OrderByCreatedAt {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("malformed cursor timestamp: %w", err)
		}
		return t, nil
	}
	return raw, nil
}

func encodeOrderValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

func (g *GormStore) fetchDocs(tx *gorm.DB, collection string) ([]store.Document, error) {
	switch collection {
	case store.CollectionProducts:
		var rows []models.Product
		if err := tx.Find(&rows).Error; err != nil {
			return nil, err
		}
		docs := make([]store.Document, len(rows))
		for i, r := range rows {
			docs[i] = r.Document()
		}
		return docs, nil
	case store.CollectionSales:
		var rows []models.SalesEntry
		if err := tx.Find(&rows).Error; err != nil {
			return nil, err
		}
		docs := make([]store.Document, len(rows))
		for i, r := range rows {
			docs[i] = r.Document()
		}
		return docs, nil
	case store.CollectionPayments:
		var rows []models.PaymentRecord
		if err := tx.Find(&rows).Error; err != nil {
			return nil, err
		}
		docs := make([]store.Document, len(rows))
		for i, r := range rows {
			docs[i] = r.Document()
		}
		return docs, nil
	}
	return nil, fmt.Errorf("unknown collection %q", collection)
}

func (g *GormStore) modelFor(shopID, collection string, doc store.Document) (interface{}, error) {
	switch collection {
	case store.CollectionProducts:
		m := models.ProductFromDocument(shopID, doc)
		return &m, nil
	case store.CollectionSales:
		m := models.SaleFromDocument(shopID, doc)
		return &m, nil
	case store.CollectionPayments:
		m := models.PaymentFromDocument(shopID, doc)
		return &m, nil
	}
	return nil, fmt.Errorf("unknown collection %q", collection)
}

func (g *GormStore) Create(ctx context.Context, shopID, collection string, doc store.Document) (string, error) {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored := store.Document{}
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = id

	model, err := g.modelFor(shopID, collection, stored)
	if err != nil {
		return "", &store.StoreError{Op: "create " + collection, Err: err}
	}
	if err := g.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", &store.StoreError{Op: "create " + collection, Err: err}
	}
	g.publish(ctx, shopID, collection)
	return id, nil
}

func (g *GormStore) Update(ctx context.Context, shopID, collection, id string, patch store.Document) error {
	current, err := g.GetOne(ctx, shopID, collection, id)
	if err != nil {
		return err
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		current[k] = v
	}
	model, err := g.modelFor(shopID, collection, current)
	if err != nil {
		return &store.StoreError{Op: "update " + collection, Err: err}
	}
	if err := g.db.WithContext(ctx).Save(model).Error; err != nil {
		return &store.StoreError{Op: "update " + collection, Err: err}
	}
	g.publish(ctx, shopID, collection)
	return nil
}

func (g *GormStore) Delete(ctx context.Context, shopID, collection, id string) error {
	model, err := g.modelFor(shopID, collection, store.Document{"id": id})
	if err != nil {
		return &store.StoreError{Op: "delete " + collection, Err: err}
	}
	if err := g.db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, id).Delete(model).Error; err != nil {
		return &store.StoreError{Op: "delete " + collection, Err: err}
	}
	g.publish(ctx, shopID, collection)
	return nil
}

func (g *GormStore) GetOne(ctx context.Context, shopID, collection, id string) (store.Document, error) {
	tx := g.db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, id).Limit(1)
	docs, err := g.fetchDocs(tx, collection)
	if err != nil {
		return nil, &store.StoreError{Op: "get " + collection, Err: err}
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (g *GormStore) CreateShop(ctx context.Context, doc store.Document) (string, error) {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored := store.Document{}
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = id
	shop := models.ShopFromDocument(stored)
	if err := g.db.WithContext(ctx).Create(&shop).Error; err != nil {
		return "", &store.StoreError{Op: "create shop", Err: err}
	}
	return id, nil
}

func (g *GormStore) GetShop(ctx context.Context, shopID string) (store.Document, error) {
	var shop models.Shop
	if err := g.db.WithContext(ctx).Where("id = ?", shopID).First(&shop).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, &store.StoreError{Op: "get shop", Err: err}
	}
	return shop.Document(), nil
}

func (g *GormStore) ListShops(ctx context.Context, userID string) ([]store.Document, error) {
	var shops []models.Shop
	tx := g.db.WithContext(ctx)
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	if err := tx.Order("created_at DESC").Find(&shops).Error; err != nil {
		return nil, &store.StoreError{Op: "list shops", Err: err}
	}
	docs := make([]store.Document, len(shops))
	for i, s := range shops {
		docs[i] = s.Document()
	}
	return docs, nil
}

func (g *GormStore) DeleteShop(ctx context.Context, shopID string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shop_id = ?", shopID).Delete(&models.Product{}).Error; err != nil {
			return err
		}
		if err := tx.Where("shop_id = ?", shopID).Delete(&models.SalesEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("shop_id = ?", shopID).Delete(&models.PaymentRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", shopID).Delete(&models.Shop{}).Error
	})
	if err != nil {
		return &store.StoreError{Op: "delete shop", Err: err}
	}
	return nil
}

func (g *GormStore) IncrementShopEarnings(ctx context.Context, shopID string, delta decimal.Decimal) error {
	res := g.db.WithContext(ctx).Model(&models.Shop{}).Where("id = ?", shopID).
		Update("total_earnings", gorm.Expr("total_earnings + ?", delta))
	if res.Error != nil {
		return &store.StoreError{Op: "increment earnings", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &store.StoreError{Op: "increment earnings", Err: store.ErrNotFound}
	}
	g.publish(ctx, shopID, "shop")
	return nil
}

func (g *GormStore) SetShopEarnings(ctx context.Context, shopID string, total decimal.Decimal) error {
	res := g.db.WithContext(ctx).Model(&models.Shop{}).Where("id = ?", shopID).
		Update("total_earnings", total)
	if res.Error != nil {
		return &store.StoreError{Op: "set earnings", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &store.StoreError{Op: "set earnings", Err: store.ErrNotFound}
	}
	g.publish(ctx, shopID, "shop")
	return nil
}

// Atomically runs fn inside one database transaction. Change events
// raised by fn are published only after commit.
func (g *GormStore) Atomically(ctx context.Context, fn func(store.Store) error) error {
	var events []changeEvent
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := &GormStore{db: tx, rdb: g.rdb, log: g.log, pending: &events}
		return fn(scoped)
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		if perr := g.rdb.Publish(ctx, channelFor(ev.shopID, ev.collection), "1").Err(); perr != nil {
			g.log.Warnf("change publish failed after commit: %v", perr)
		}
	}
	return nil
}
