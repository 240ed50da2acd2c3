// Package notifier keeps order views fresh. It turns backend change events
// into query cache invalidations and notifies order owners when an admin
// changes an order's status.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/metrics"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/push"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

var ErrInvalidStatus = errors.New("invalid order status")

// ownerLookupTimeout bounds the profile read that precedes a push.
const ownerLookupTimeout = 5 * time.Second

// Store is the slice of the backend the notifier needs.
type Store interface {
	backend.Realtime
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// Dispatcher sends push messages without blocking.
type Dispatcher interface {
	Dispatch(msg push.Message)
}

type Notifier struct {
	store Store
	cache *query.Cache
	push  Dispatcher
	log   logrus.FieldLogger
	wg    sync.WaitGroup
}

func New(store Store, cache *query.Cache, dispatcher Dispatcher, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		store: store,
		cache: cache,
		push:  dispatcher,
		log:   log.WithField("component", "notifier"),
	}
}

// Handler is called after each event with the key that was invalidated.
type Handler func(ev backend.Event, key query.Key)

// Watch is one live subscription. It ends when Close is called, when the
// context passed to the watch call is cancelled, or when the backend
// closes the feed.
type Watch struct {
	sub    backend.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (w *Watch) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.sub.Close()
	})
	return err
}

// Done is closed once no more events will be handled.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// WatchOrderInserts invalidates the order lists on every new order.
func (n *Notifier) WatchOrderInserts(ctx context.Context, h Handler) (*Watch, error) {
	cfg := backend.SubscribeConfig{Table: backend.TableOrders, Event: backend.EventInsert}
	return n.watch(ctx, cfg, func(backend.Event) query.Key { return query.OrdersKey }, h)
}

// WatchOrderUpdates drops every cached order view when any order row is
// updated, including updates made by other clients of the backend.
func (n *Notifier) WatchOrderUpdates(ctx context.Context, h Handler) (*Watch, error) {
	cfg := backend.SubscribeConfig{Table: backend.TableOrders, Event: backend.EventUpdate}
	return n.watch(ctx, cfg, func(backend.Event) query.Key { return query.OrdersKey }, h)
}

// WatchOrder invalidates one order's detail view whenever the row is
// updated. The pushed row is never used as data; the view re-fetches.
func (n *Notifier) WatchOrder(ctx context.Context, id int64, h Handler) (*Watch, error) {
	cfg := backend.SubscribeConfig{
		Table:  backend.TableOrders,
		Event:  backend.EventUpdate,
		Filter: backend.EqFilter("id", id),
	}
	key := query.OrderKey(id)
	return n.watch(ctx, cfg, func(backend.Event) query.Key { return key }, h)
}

func (n *Notifier) watch(ctx context.Context, cfg backend.SubscribeConfig, keyFor func(backend.Event) query.Key, h Handler) (*Watch, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := n.store.Subscribe(ctx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Table, err)
	}

	w := &Watch{sub: sub, cancel: cancel, done: make(chan struct{})}
	log := n.log.WithFields(logrus.Fields{"table": cfg.Table, "event": cfg.Event})
	if cfg.Filter != nil {
		log = log.WithField("filter", cfg.Filter.String())
	}
	log.Debug("watch started")

	go func() {
		defer close(w.done)
		defer log.Debug("watch stopped")
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				metrics.RecordRealtimeEvent(ev.Table, string(ev.Type))
				key := keyFor(ev)
				n.cache.Invalidate(key)
				if h != nil {
					h(ev, key)
				}
			}
		}
	}()

	return w, nil
}

// UpdateStatus is the admin mutation: validate, write, invalidate the list
// and detail views, then notify the owner in the background.
func (n *Notifier) UpdateStatus(ctx context.Context, id int64, status string) (*models.Order, error) {
	st, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := n.store.UpdateOrderStatus(ctx, id, st)
	if err != nil {
		return nil, err
	}

	n.cache.Invalidate(query.OrdersKey)
	n.cache.Invalidate(query.OrderKey(id))

	log := n.log.WithFields(logrus.Fields{"order_id": id, "status": st})
	log.Info("order status updated")

	n.notifyOwner(order, log)
	return order, nil
}

// notifyOwner looks up the owner's push token and dispatches the message
// on its own goroutine, detached from the request context.
func (n *Notifier) notifyOwner(order *models.Order, log logrus.FieldLogger) {
	if n.push == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), ownerLookupTimeout)
		defer cancel()

		profile, err := n.store.GetProfile(ctx, order.UserID)
		if err != nil {
			log.WithError(err).Warn("order owner lookup failed, push skipped")
			return
		}
		if profile.ExpoPushToken == nil || *profile.ExpoPushToken == "" {
			log.Debug("order owner has no push token")
			return
		}
		n.push.Dispatch(push.OrderStatusMessage(*profile.ExpoPushToken, order))
	}()
}

// Wait blocks until every pending owner notification has been handed to
// the dispatcher.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
