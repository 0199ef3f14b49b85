// Package memstore is the in-memory reference implementation of the
// store contract. It backs the test suites; the production
// implementation is gormstore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khata-system/internal/store"
)

type MemStore struct {
	mu    sync.Mutex
	shops map[string]store.Document
	// collections[shopID][collection][docID]
	collections map[string]map[string]map[string]store.Document

	subs     map[int]*subscriber
	shopSubs map[int]*shopSubscriber
	nextSub  int
}

func New() *MemStore {
	return &MemStore{
		shops:       map[string]store.Document{},
		collections: map[string]map[string]map[string]store.Document{},
		subs:        map[int]*subscriber{},
		shopSubs:    map[int]*shopSubscriber{},
	}
}

type subscriber struct {
	id    int
	query store.Query
	ch    chan store.Page
	owner *MemStore
	once  sync.Once
}

func (s *subscriber) Updates() <-chan store.Page { return s.ch }

func (s *subscriber) Close() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.mu.Unlock()
		close(s.ch)
	})
}

type shopSubscriber struct {
	id     int
	shopID string
	ch     chan store.Document
	owner  *MemStore
	once   sync.Once
}

func (s *shopSubscriber) Updates() <-chan store.Document { return s.ch }

func (s *shopSubscriber) Close() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.shopSubs, s.id)
		s.owner.mu.Unlock()
		close(s.ch)
	})
}

func (m *MemStore) bucket(shopID, collection string) map[string]store.Document {
	byShop, ok := m.collections[shopID]
	if !ok {
		byShop = map[string]map[string]store.Document{}
		m.collections[shopID] = byShop
	}
	docs, ok := byShop[collection]
	if !ok {
		docs = map[string]store.Document{}
		byShop[collection] = docs
	}
	return docs
}

func cloneDoc(doc store.Document) store.Document {
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// orderKey extracts the sort value for a document. Dates are sortable
// strings (YYYY-MM-DD); timestamps compare as time.Time.
func orderKey(doc store.Document, field string) interface{} {
	return doc[field]
}

func less(a, b interface{}) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Before(bv)
	case decimal.Decimal:
		bv, _ := b.(decimal.Decimal)
		return av.LessThan(bv)
	}
	return false
}

func equal(a, b interface{}) bool {
	return !less(a, b) && !less(b, a)
}

func encodeOrderValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return val.String()
	}
	return ""
}

func decodeOrderValue(field, s string) interface{} {
	if field == store.OrderByCreatedAt {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return s
}

// runQuery assumes m.mu is held.
func (m *MemStore) runQuery(q store.Query) (store.Page, error) {
	bucket := m.bucket(q.ShopID, q.Collection)
	docs := make([]store.Document, 0, len(bucket))
	for _, d := range bucket {
		docs = append(docs, cloneDoc(d))
	}

	sort.Slice(docs, func(i, j int) bool {
		vi, vj := orderKey(docs[i], q.OrderBy), orderKey(docs[j], q.OrderBy)
		if !equal(vi, vj) {
			if q.Descending {
				return less(vj, vi)
			}
			return less(vi, vj)
		}
		if q.Descending {
			return docs[j].ID() < docs[i].ID()
		}
		return docs[i].ID() < docs[j].ID()
	})

	if q.After != "" {
		field, rawValue, id, err := store.DecodeCursor(q.After)
		if err != nil {
			return store.Page{}, &store.StoreError{Op: "query", Err: err}
		}
		value := decodeOrderValue(field, rawValue)
		// Skip everything at or before the cursor position.
		idx := len(docs)
		for i, d := range docs {
			v := orderKey(d, q.OrderBy)
			afterCursor := false
			if !equal(v, value) {
				if q.Descending {
					afterCursor = less(v, value)
				} else {
					afterCursor = less(value, v)
				}
			} else {
				if q.Descending {
					afterCursor = d.ID() < id
				} else {
					afterCursor = d.ID() > id
				}
			}
			if afterCursor {
				idx = i
				break
			}
		}
		docs = docs[idx:]
	}

	if q.PageSize > 0 && len(docs) > q.PageSize {
		docs = docs[:q.PageSize]
	}

	var next store.Cursor
	if len(docs) > 0 {
		last := docs[len(docs)-1]
		next = store.EncodeCursor(q.OrderBy, encodeOrderValue(orderKey(last, q.OrderBy)), last.ID())
	}
	return store.Page{Docs: docs, Next: next}, nil
}

func (m *MemStore) Query(ctx context.Context, q store.Query) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runQuery(q)
}

func (m *MemStore) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	m.mu.Lock()
	sub := &subscriber{
		id:    m.nextSub,
		query: q,
		ch:    make(chan store.Page, 1),
		owner: m,
	}
	m.nextSub++
	m.subs[sub.id] = sub
	page, err := m.runQuery(q)
	m.mu.Unlock()
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.ch <- page
	return sub, nil
}

// notify assumes m.mu is held. Stale snapshots are dropped in favor of
// the latest one, matching snapshot-replacement listener semantics.
func (m *MemStore) notify(shopID, collection string) {
	for _, sub := range m.subs {
		if sub.query.ShopID != shopID || sub.query.Collection != collection {
			continue
		}
		page, err := m.runQuery(sub.query)
		if err != nil {
			continue
		}
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- page
	}
}

func (m *MemStore) notifyShop(shopID string) {
	doc, ok := m.shops[shopID]
	if !ok {
		return
	}
	for _, sub := range m.shopSubs {
		if sub.shopID != shopID {
			continue
		}
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- cloneDoc(doc)
	}
}

func (m *MemStore) Create(ctx context.Context, shopID, collection string, doc store.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored := cloneDoc(doc)
	stored["id"] = id
	m.bucket(shopID, collection)[id] = stored
	m.notify(shopID, collection)
	return id, nil
}

func (m *MemStore) Update(ctx context.Context, shopID, collection, id string, patch store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.bucket(shopID, collection)
	doc, ok := bucket[id]
	if !ok {
		return &store.StoreError{Op: "update", Err: store.ErrNotFound}
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	m.notify(shopID, collection)
	return nil
}

func (m *MemStore) Delete(ctx context.Context, shopID, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bucket(shopID, collection), id)
	m.notify(shopID, collection)
	return nil
}

func (m *MemStore) GetOne(ctx context.Context, shopID, collection, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.bucket(shopID, collection)[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *MemStore) CreateShop(ctx context.Context, doc store.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored := cloneDoc(doc)
	stored["id"] = id
	m.shops[id] = stored
	return id, nil
}

func (m *MemStore) GetShop(ctx context.Context, shopID string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.shops[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *MemStore) ListShops(ctx context.Context, userID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Document
	for _, doc := range m.shops {
		if userID != "" && doc["userId"] != userID {
			continue
		}
		out = append(out, cloneDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *MemStore) DeleteShop(ctx context.Context, shopID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shops, shopID)
	delete(m.collections, shopID)
	return nil
}

func (m *MemStore) SubscribeShop(ctx context.Context, shopID string) (store.ShopSubscription, error) {
	m.mu.Lock()
	sub := &shopSubscriber{
		id:     m.nextSub,
		shopID: shopID,
		ch:     make(chan store.Document, 1),
		owner:  m,
	}
	m.nextSub++
	m.shopSubs[sub.id] = sub
	doc, ok := m.shops[shopID]
	if ok {
		sub.ch <- cloneDoc(doc)
	}
	m.mu.Unlock()
	return sub, nil
}

func (m *MemStore) IncrementShopEarnings(ctx context.Context, shopID string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.shops[shopID]
	if !ok {
		return &store.StoreError{Op: "increment earnings", Err: store.ErrNotFound}
	}
	current, _ := doc["totalEarnings"].(decimal.Decimal)
	doc["totalEarnings"] = current.Add(delta)
	m.notifyShop(shopID)
	return nil
}

func (m *MemStore) SetShopEarnings(ctx context.Context, shopID string, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.shops[shopID]
	if !ok {
		return &store.StoreError{Op: "set earnings", Err: store.ErrNotFound}
	}
	doc["totalEarnings"] = total
	m.notifyShop(shopID)
	return nil
}

// Atomically groups writes. Individual operations are already
// serialized under one mutex here; real transactional grouping lives in
// gormstore.
func (m *MemStore) Atomically(ctx context.Context, fn func(store.Store) error) error {
	return fn(m)
}
