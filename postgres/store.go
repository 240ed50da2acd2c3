// Package postgres is the PostgreSQL backend. Writes go through sqlx and
// row changes come back through LISTEN/NOTIFY from a trigger installed by
// the migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// foreignKeyViolation is the SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

const (
	productColumns   = `id, name, price, image, created_at`
	orderColumns     = `id, user_id, status, total, created_at`
	orderItemColumns = `id, order_id, product_id, quantity, size`
)

type Store struct {
	db       *sqlx.DB
	hub      *backend.Hub
	log      logrus.FieldLogger
	listener *Listener
}

var _ backend.Backend = (*Store)(nil)

// Open connects to dsn, applies migrations and starts listening for row
// changes.
func Open(ctx context.Context, dsn string, log logrus.FieldLogger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	s := New(db, log)
	l, err := Listen(dsn, s.hub, s.log)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.listener = l

	s.log.Info("connected to PostgreSQL")
	return s, nil
}

// New wraps an open database without a change listener.
func New(db *sqlx.DB, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		db:  db,
		hub: backend.NewHub(),
		log: log.WithField("backend", "postgres"),
	}
}

func wrap(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		err = backend.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		err = fmt.Errorf("%s: %w", pqErr.Detail, backend.ErrNotFound)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	out := []models.Product{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+productColumns+` FROM products ORDER BY id`); err != nil {
		return nil, wrap(err, "list products")
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := s.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = $1`, id); err != nil {
		return nil, wrap(err, "product %d", id)
	}
	return &p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	var out models.Product
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO products (name, price, image) VALUES ($1, $2, $3) RETURNING `+productColumns,
		p.Name, p.Price, p.Image)
	if err != nil {
		return nil, wrap(err, "insert product")
	}
	return &out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	var out models.Product
	err := s.db.GetContext(ctx, &out,
		`UPDATE products SET name = $1, price = $2, image = $3 WHERE id = $4 RETURNING `+productColumns,
		p.Name, p.Price, p.Image, p.ID)
	if err != nil {
		return nil, wrap(err, "product %d", p.ID)
	}
	return &out, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return wrap(err, "delete product %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(err, "delete product %d", id)
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", id, backend.ErrNotFound)
	}
	return nil
}

// listOrdersQuery builds the filtered order query in the driver's bind
// syntax.
func (s *Store) listOrdersQuery(filter backend.OrderFilter) (string, []any, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		q += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q += ` AND status IN (?)`
		args = append(args, statuses)
	}
	if filter.Descending {
		q += ` ORDER BY created_at DESC, id DESC`
	} else {
		q += ` ORDER BY created_at ASC, id ASC`
	}

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(q), args, nil
}

func (s *Store) ListOrders(ctx context.Context, filter backend.OrderFilter) ([]models.Order, error) {
	q, args, err := s.listOrdersQuery(filter)
	if err != nil {
		return nil, wrap(err, "list orders")
	}
	out := []models.Order{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, wrap(err, "list orders")
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	if err := s.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id); err != nil {
		return nil, wrap(err, "order %d", id)
	}

	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, wrap(err, "order %d items", id)
	}

	if len(items) > 0 {
		ids := make([]int64, len(items))
		for i, it := range items {
			ids[i] = it.ProductID
		}
		var products []models.Product
		err := s.db.SelectContext(ctx, &products,
			`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return nil, wrap(err, "order %d products", id)
		}
		byID := make(map[int64]models.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		for i := range items {
			if p, ok := byID[items[i].ProductID]; ok {
				items[i].Product = &p
			}
		}
	}

	o.OrderItems = items
	return &o, nil
}

func (s *Store) InsertOrder(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	var o models.Order
	err := s.db.GetContext(ctx, &o,
		`INSERT INTO orders (user_id, total) VALUES ($1, $2) RETURNING `+orderColumns,
		in.UserID, in.Total)
	if err != nil {
		return nil, wrap(err, "insert order")
	}
	return &o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	var o models.Order
	err := s.db.GetContext(ctx, &o,
		`UPDATE orders SET status = $1 WHERE id = $2 RETURNING `+orderColumns,
		string(status), id)
	if err != nil {
		return nil, wrap(err, "order %d", id)
	}
	return &o, nil
}

// InsertOrderItems writes all rows in one statement. An unknown order id
// fails the whole batch with ErrNotFound.
func (s *Store) InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error) {
	if len(items) == 0 {
		return []models.OrderItem{}, nil
	}

	rows, err := sqlx.NamedQueryContext(ctx, s.db,
		`INSERT INTO order_items (order_id, product_id, quantity, size)
		VALUES (:order_id, :product_id, :quantity, :size)
		RETURNING `+orderItemColumns, items)
	if err != nil {
		return nil, wrap(err, "insert order_items")
	}
	defer rows.Close()

	out := make([]models.OrderItem, 0, len(items))
	for rows.Next() {
		var it models.OrderItem
		if err := rows.StructScan(&it); err != nil {
			return nil, wrap(err, "insert order_items")
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "insert order_items")
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.GetContext(ctx, &p, `SELECT id, "group", expo_push_token FROM profiles WHERE id = $1`, id)
	if err != nil {
		return nil, wrap(err, "profile %s", id)
	}
	return &p, nil
}

// PutProfile creates or replaces a profile.
func (s *Store) PutProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, "group", expo_push_token) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET "group" = EXCLUDED."group", expo_push_token = EXCLUDED.expo_push_token`,
		p.ID, string(p.Group), p.ExpoPushToken)
	if err != nil {
		return wrap(err, "put profile %s", p.ID)
	}
	return nil
}

// SetPushToken upserts the profile, defaulting the group of a new one to USER.
func (s *Store) SetPushToken(ctx context.Context, userID, token string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.GetContext(ctx, &p,
		`INSERT INTO profiles (id, "group", expo_push_token) VALUES ($1, 'USER', $2)
		ON CONFLICT (id) DO UPDATE SET expo_push_token = EXCLUDED.expo_push_token
		RETURNING id, "group", expo_push_token`,
		userID, token)
	if err != nil {
		return nil, wrap(err, "set push token %s", userID)
	}
	return &p, nil
}

func (s *Store) Subscribe(ctx context.Context, cfg backend.SubscribeConfig) (backend.Subscription, error) {
	return s.hub.Subscribe(ctx, cfg)
}

func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	s.hub.CloseAll()
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
