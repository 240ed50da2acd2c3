// Package memory is an in-process backend used for local development and
// tests. Every write publishes a change event the same way the managed
// backend does.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

type Store struct {
	mu sync.RWMutex

	products   map[int64]models.Product
	orders     map[int64]models.Order
	orderItems map[int64]models.OrderItem
	profiles   map[string]models.Profile

	productSeq   int64
	orderSeq     int64
	orderItemSeq int64

	hub *backend.Hub
	now func() time.Time
}

var _ backend.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		products:   make(map[int64]models.Product),
		orders:     make(map[int64]models.Order),
		orderItems: make(map[int64]models.OrderItem),
		profiles:   make(map[string]models.Profile),
		hub:        backend.NewHub(),
		now:        time.Now,
	}
}

// PutProfile creates or replaces a profile row.
func (s *Store) PutProfile(ctx context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, backend.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	s.mu.Lock()
	s.productSeq++
	p.ID = s.productSeq
	p.CreatedAt = s.now().UTC()
	s.products[p.ID] = p
	s.mu.Unlock()

	s.publish(backend.EventInsert, backend.TableProducts, backend.ProductRecord(p), nil)
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	s.mu.Lock()
	old, ok := s.products[p.ID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("product %d: %w", p.ID, backend.ErrNotFound)
	}
	p.CreatedAt = old.CreatedAt
	s.products[p.ID] = p
	s.mu.Unlock()

	s.publish(backend.EventUpdate, backend.TableProducts, backend.ProductRecord(p), backend.ProductRecord(old))
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	old, ok := s.products[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("product %d: %w", id, backend.ErrNotFound)
	}
	delete(s.products, id)
	s.mu.Unlock()

	s.publish(backend.EventDelete, backend.TableProducts, nil, backend.ProductRecord(old))
	return nil
}

func (s *Store) ListOrders(ctx context.Context, filter backend.OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, o.Status) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if filter.Descending {
				return out[i].ID > out[j].ID
			}
			return out[i].ID < out[j].ID
		}
		if filter.Descending {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, backend.ErrNotFound)
	}

	items := make([]models.OrderItem, 0)
	for _, it := range s.orderItems {
		if it.OrderID != id {
			continue
		}
		if p, ok := s.products[it.ProductID]; ok {
			it.Product = &p
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	o.OrderItems = items
	return &o, nil
}

func (s *Store) InsertOrder(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	s.mu.Lock()
	s.orderSeq++
	o := models.Order{
		ID:        s.orderSeq,
		UserID:    in.UserID,
		Status:    models.StatusNew,
		Total:     in.Total,
		CreatedAt: s.now().UTC(),
	}
	s.orders[o.ID] = o
	s.mu.Unlock()

	s.publish(backend.EventInsert, backend.TableOrders, backend.OrderRecord(o), nil)
	return &o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	s.mu.Lock()
	old, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("order %d: %w", id, backend.ErrNotFound)
	}
	o := old
	o.Status = status
	s.orders[id] = o
	s.mu.Unlock()

	s.publish(backend.EventUpdate, backend.TableOrders, backend.OrderRecord(o), backend.OrderRecord(old))
	return &o, nil
}

func (s *Store) InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error) {
	s.mu.Lock()
	for _, in := range items {
		if _, ok := s.orders[in.OrderID]; !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("order_items: order %d: %w", in.OrderID, backend.ErrNotFound)
		}
	}

	out := make([]models.OrderItem, 0, len(items))
	for _, in := range items {
		s.orderItemSeq++
		it := models.OrderItem{
			ID:        s.orderItemSeq,
			OrderID:   in.OrderID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Size:      in.Size,
		}
		s.orderItems[it.ID] = it
		out = append(out, it)
	}
	s.mu.Unlock()

	for _, it := range out {
		s.publish(backend.EventInsert, backend.TableOrderItems, backend.OrderItemRecord(it), nil)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, backend.ErrNotFound)
	}
	return &p, nil
}

// SetPushToken creates a USER profile when the user has none yet.
func (s *Store) SetPushToken(ctx context.Context, userID, token string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = models.Profile{ID: userID, Group: models.GroupUser}
	}
	p.ExpoPushToken = &token
	s.profiles[userID] = p
	return &p, nil
}

func (s *Store) Subscribe(ctx context.Context, cfg backend.SubscribeConfig) (backend.Subscription, error) {
	return s.hub.Subscribe(ctx, cfg)
}

// Subscribers returns the number of open change feeds.
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

func (s *Store) Close(ctx context.Context) error {
	s.hub.CloseAll()
	return nil
}

func (s *Store) publish(typ backend.EventType, table string, rec, old map[string]any) {
	s.hub.Publish(backend.Event{
		Type:      typ,
		Table:     table,
		Record:    rec,
		OldRecord: old,
		Timestamp: s.now().UTC(),
	})
}
