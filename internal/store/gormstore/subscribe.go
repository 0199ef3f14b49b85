package gormstore

import (
	"context"
	"sync"

	"khata-system/internal/store"
)

// Subscriptions re-run their window query on every change notification
// for the shop's collection and push the fresh snapshot. Stale
// snapshots waiting in the channel are replaced, not queued.

type subscription struct {
	ch     chan store.Page
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Updates() <-chan store.Page { return s.ch }

func (s *subscription) Close() {
	s.once.Do(func() { s.cancel() })
}

func (g *GormStore) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	first, err := g.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		ch:     make(chan store.Page, 1),
		cancel: cancel,
	}
	sub.ch <- first

	pubsub := g.rdb.Subscribe(subCtx, channelFor(q.ShopID, q.Collection))
	go func() {
		defer close(sub.ch)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				page, err := g.Query(subCtx, q)
				if err != nil {
					g.log.Warnf("subscription window refresh failed: %v", err)
					continue
				}
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- page:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

type shopSubscription struct {
	ch     chan store.Document
	cancel context.CancelFunc
	once   sync.Once
}

func (s *shopSubscription) Updates() <-chan store.Document { return s.ch }

func (s *shopSubscription) Close() {
	s.once.Do(func() { s.cancel() })
}

func (g *GormStore) SubscribeShop(ctx context.Context, shopID string) (store.ShopSubscription, error) {
	first, err := g.GetShop(ctx, shopID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &shopSubscription{
		ch:     make(chan store.Document, 1),
		cancel: cancel,
	}
	sub.ch <- first

	pubsub := g.rdb.Subscribe(subCtx, channelFor(shopID, "shop"))
	go func() {
		defer close(sub.ch)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				doc, err := g.GetShop(subCtx, shopID)
				if err != nil {
					g.log.Warnf("shop snapshot refresh failed: %v", err)
					continue
				}
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- doc:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}
