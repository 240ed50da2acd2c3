package supabase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// Store implements backend.Backend on a Supabase project.
type Store struct {
	client   *Client
	realtime *Realtime
	log      logrus.FieldLogger
}

var _ backend.Backend = (*Store)(nil)

func New(cfg Config, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		client:   client,
		realtime: NewRealtime(client.realtimeURL(), client.bearer, log),
		log:      log.WithField("backend", "supabase"),
	}, nil
}

func (s *Store) Client() *Client {
	return s.client
}

type productRow struct {
	Name  string  `json:"name"`
	Price string  `json:"price"`
	Image *string `json:"image"`
}

func newProductRow(p models.Product) productRow {
	return productRow{Name: p.Name, Price: p.Price.String(), Image: p.Image}
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	out := []models.Product{}
	if err := s.client.From(backend.TableProducts).Select("*").Order("id", true).Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := s.client.From(backend.TableProducts).Select("*").Eq("id", id).Single().Get(ctx, &p); err != nil {
		return nil, fmt.Errorf("product %d: %w", id, err)
	}
	return &p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	var out models.Product
	if err := s.client.From(backend.TableProducts).Single().Insert(ctx, newProductRow(p), &out); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return &out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	var out models.Product
	err := s.client.From(backend.TableProducts).Eq("id", p.ID).Single().Update(ctx, newProductRow(p), &out)
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", p.ID, err)
	}
	return &out, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	var deleted []models.Product
	if err := s.client.From(backend.TableProducts).Eq("id", id).Delete(ctx, &deleted); err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	if len(deleted) == 0 {
		return fmt.Errorf("product %d: %w", id, backend.ErrNotFound)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, filter backend.OrderFilter) ([]models.Order, error) {
	q := s.client.From(backend.TableOrders).Select("*")
	if filter.UserID != "" {
		q.Eq("user_id", filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q.In("status", statuses)
	}
	q.Order("created_at", !filter.Descending).Order("id", !filter.Descending)

	out := []models.Order{}
	if err := q.Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// GetOrder embeds the items and their products in one request.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := s.client.From(backend.TableOrders).
		Select("*, order_items(*, products(*))").
		Eq("id", id).
		Single().
		Get(ctx, &o)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", id, err)
	}
	if o.OrderItems == nil {
		o.OrderItems = []models.OrderItem{}
	}
	return &o, nil
}

func (s *Store) InsertOrder(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	var o models.Order
	if err := s.client.From(backend.TableOrders).Single().Insert(ctx, in, &o); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return &o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	var o models.Order
	err := s.client.From(backend.TableOrders).Eq("id", id).Single().
		Update(ctx, map[string]string{"status": string(status)}, &o)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", id, err)
	}
	return &o, nil
}

func (s *Store) InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error) {
	out := []models.OrderItem{}
	if len(items) == 0 {
		return out, nil
	}
	if err := s.client.From(backend.TableOrderItems).Insert(ctx, items, &out); err != nil {
		return nil, fmt.Errorf("insert order_items: %w", err)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := s.client.From(backend.TableProfiles).Select("*").Eq("id", id).Single().Get(ctx, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return &p, nil
}

// SetPushToken patches the profile row created at sign-up. A user without
// one gets backend.ErrNotFound.
func (s *Store) SetPushToken(ctx context.Context, userID, token string) (*models.Profile, error) {
	var p models.Profile
	err := s.client.From(backend.TableProfiles).Eq("id", userID).Single().
		Update(ctx, map[string]string{"expo_push_token": token}, &p)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, err)
	}
	return &p, nil
}

func (s *Store) Subscribe(ctx context.Context, cfg backend.SubscribeConfig) (backend.Subscription, error) {
	return s.realtime.Subscribe(ctx, cfg)
}

func (s *Store) Close(ctx context.Context) error {
	return s.realtime.Close()
}
