package reconcile

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
)

type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateLoadingMore State = "loading_more"
	StateExhausted   State = "exhausted"
)

// View is an immutable snapshot of the reconciled combined view.
type View struct {
	Entries         []CombinedEntry `json:"entries"`
	ShopName        string          `json:"shopName"`
	TotalEarnings   decimal.Decimal `json:"totalEarnings"`
	SalesHasMore    bool            `json:"salesHasMore"`
	PaymentsHasMore bool            `json:"paymentsHasMore"`
	State           State           `json:"state"`
}

// Session reconciles one shop's sales and payment streams. Each stream
// keeps a live first-page window (replaced wholesale on every
// subscription snapshot) plus an accumulation of older load-more pages;
// the two are merged by id with the live window winning collisions.
// The streams share no cross-stream ordering guarantee: a payment can
// surface before or after its sale, and the join simply converges once
// both have arrived.
type Session struct {
	store            store.Store
	shopID           string
	salesPageSize    int
	paymentsPageSize int
	log              *logrus.Logger

	mu             sync.Mutex
	state          State
	loadingMore    bool
	closed         bool
	salesWindow    map[string]models.SalesEntry
	salesOlder     map[string]models.SalesEntry
	paymentsWindow map[string]models.PaymentRecord
	paymentsOlder  map[string]models.PaymentRecord
	salesCursor    store.Cursor
	paymentsCursor store.Cursor
	salesHasMore   bool
	payHasMore     bool
	shopName       string
	totalEarnings  decimal.Decimal
	entries        []CombinedEntry

	updates chan struct{}
	subs    []interface{ Close() }
	wg      sync.WaitGroup
}

func NewSession(st store.Store, shopID string, salesPageSize, paymentsPageSize int, log *logrus.Logger) *Session {
	return &Session{
		store:            st,
		shopID:           shopID,
		salesPageSize:    salesPageSize,
		paymentsPageSize: paymentsPageSize,
		log:              log,
		state:            StateIdle,
		salesWindow:      map[string]models.SalesEntry{},
		salesOlder:       map[string]models.SalesEntry{},
		paymentsWindow:   map[string]models.PaymentRecord{},
		paymentsOlder:    map[string]models.PaymentRecord{},
		updates:          make(chan struct{}, 1),
	}
}

// Updates signals that Snapshot would return something new. Signals
// coalesce; consumers re-read the snapshot rather than counting them.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Start opens the live subscriptions and blocks only for their initial
// snapshots being requested, not delivered.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.mu.Unlock()

	shopSub, err := s.store.SubscribeShop(ctx, s.shopID)
	if err != nil {
		return err
	}
	salesSub, err := s.store.Subscribe(ctx, store.Query{
		ShopID:     s.shopID,
		Collection: store.CollectionSales,
		OrderBy:    store.OrderByDate,
		Descending: true,
		PageSize:   s.salesPageSize,
	})
	if err != nil {
		shopSub.Close()
		return err
	}
	paymentsSub, err := s.store.Subscribe(ctx, store.Query{
		ShopID:     s.shopID,
		Collection: store.CollectionPayments,
		OrderBy:    store.OrderByCreatedAt,
		Descending: true,
		PageSize:   s.paymentsPageSize,
	})
	if err != nil {
		shopSub.Close()
		salesSub.Close()
		return err
	}

	s.mu.Lock()
	s.subs = append(s.subs, shopSub, salesSub, paymentsSub)
	s.mu.Unlock()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		for doc := range shopSub.Updates() {
			s.applyShop(doc)
		}
	}()
	go func() {
		defer s.wg.Done()
		for page := range salesSub.Updates() {
			s.applySalesSnapshot(page)
		}
	}()
	go func() {
		defer s.wg.Done()
		for page := range paymentsSub.Updates() {
			s.applyPaymentsSnapshot(page)
		}
	}()
	return nil
}

func (s *Session) applyShop(doc store.Document) {
	shop := models.ShopFromDocument(doc)
	s.mu.Lock()
	s.shopName = shop.Name
	s.totalEarnings = shop.TotalEarnings
	s.mu.Unlock()
	s.notify()
}

// applySalesSnapshot replaces the live window and resets the stream
// cursor to the window's end, exactly how the first-page listener
// behaved: a later load-more may re-fetch an overlapping page and the
// id-keyed merge drops the duplicates.
func (s *Session) applySalesSnapshot(page store.Page) {
	window := make(map[string]models.SalesEntry, len(page.Docs))
	for _, doc := range page.Docs {
		entry := models.SaleFromDocument(s.shopID, doc)
		window[entry.ID] = entry
	}

	s.mu.Lock()
	s.salesWindow = window
	s.salesCursor = page.Next
	s.salesHasMore = len(page.Docs) == s.salesPageSize
	if s.state == StateLoading {
		s.state = StateReady
	}
	s.recompute()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) applyPaymentsSnapshot(page store.Page) {
	window := make(map[string]models.PaymentRecord, len(page.Docs))
	for _, doc := range page.Docs {
		record := models.PaymentFromDocument(s.shopID, doc)
		window[record.ID] = record
	}

	s.mu.Lock()
	s.paymentsWindow = window
	s.paymentsCursor = page.Next
	s.payHasMore = len(page.Docs) == s.paymentsPageSize
	s.recompute()
	s.mu.Unlock()
	s.notify()
}

// LoadMore fetches the next page of each stream that is not exhausted.
// A failed fetch leaves cursors, accumulated pages and hasMore flags
// untouched and returns the error for the caller to retry.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.loadingMore || s.state == StateLoading || s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	if !s.salesHasMore && !s.payHasMore {
		s.mu.Unlock()
		return nil
	}
	s.loadingMore = true
	s.state = StateLoadingMore
	salesHasMore, payHasMore := s.salesHasMore, s.payHasMore
	salesCursor, paymentsCursor := s.salesCursor, s.paymentsCursor
	s.mu.Unlock()

	var firstErr error

	if salesHasMore {
		page, err := s.store.Query(ctx, store.Query{
			ShopID:     s.shopID,
			Collection: store.CollectionSales,
			OrderBy:    store.OrderByDate,
			Descending: true,
			PageSize:   s.salesPageSize,
			After:      salesCursor,
		})
		if err != nil {
			firstErr = err
		} else {
			s.mu.Lock()
			for _, doc := range page.Docs {
				entry := models.SaleFromDocument(s.shopID, doc)
				s.salesOlder[entry.ID] = entry
			}
			if len(page.Docs) > 0 {
				s.salesCursor = page.Next
			}
			s.salesHasMore = len(page.Docs) == s.salesPageSize
			s.mu.Unlock()
		}
	}

	if payHasMore {
		page, err := s.store.Query(ctx, store.Query{
			ShopID:     s.shopID,
			Collection: store.CollectionPayments,
			OrderBy:    store.OrderByCreatedAt,
			Descending: true,
			PageSize:   s.paymentsPageSize,
			After:      paymentsCursor,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			s.mu.Lock()
			for _, doc := range page.Docs {
				record := models.PaymentFromDocument(s.shopID, doc)
				s.paymentsOlder[record.ID] = record
			}
			if len(page.Docs) > 0 {
				s.paymentsCursor = page.Next
			}
			s.payHasMore = len(page.Docs) == s.paymentsPageSize
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.loadingMore = false
	s.state = StateReady
	s.recompute()
	s.mu.Unlock()
	s.notify()
	return firstErr
}

// recompute rebuilds the combined view. Caller holds s.mu.
func (s *Session) recompute() {
	sales := make([]models.SalesEntry, 0, len(s.salesOlder)+len(s.salesWindow))
	seen := map[string]struct{}{}
	for id, entry := range s.salesWindow {
		sales = append(sales, entry)
		seen[id] = struct{}{}
	}
	for id, entry := range s.salesOlder {
		if _, ok := seen[id]; ok {
			continue
		}
		sales = append(sales, entry)
	}

	payments := make([]models.PaymentRecord, 0, len(s.paymentsOlder)+len(s.paymentsWindow))
	seenPay := map[string]struct{}{}
	for id, record := range s.paymentsWindow {
		payments = append(payments, record)
		seenPay[id] = struct{}{}
	}
	for id, record := range s.paymentsOlder {
		if _, ok := seenPay[id]; ok {
			continue
		}
		payments = append(payments, record)
	}

	s.entries = joinStreams(sales, payments, !s.salesHasMore, s.log)
	if s.state == StateReady && !s.salesHasMore && !s.payHasMore {
		s.state = StateExhausted
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]CombinedEntry, len(s.entries))
	copy(entries, s.entries)
	return View{
		Entries:         entries,
		ShopName:        s.shopName,
		TotalEarnings:   s.totalEarnings,
		SalesHasMore:    s.salesHasMore,
		PaymentsHasMore: s.payHasMore,
		State:           s.state,
	}
}

// Close tears down the subscriptions. Safe to call more than once; no
// further update signals are delivered after it returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.state = StateIdle
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	s.wg.Wait()
}
