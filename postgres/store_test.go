package postgres

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), nil), mock
}

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestListOrdersQuery(t *testing.T) {
	s, _ := newMockStore(t)

	q, args, err := s.listOrdersQuery(backend.OrderFilter{
		UserID:     "u1",
		Statuses:   models.ActiveStatuses,
		Descending: true,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, user_id, status, total, created_at FROM orders WHERE 1=1 AND user_id = $1 AND status IN ($2, $3, $4) ORDER BY created_at DESC, id DESC",
		q)
	assert.Equal(t, []any{"u1", "NEW", "COOKING", "DELIVERING"}, args)

	q, args, err = s.listOrdersQuery(backend.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, user_id, status, total, created_at FROM orders WHERE 1=1 ORDER BY created_at ASC, id ASC", q)
	assert.Empty(t, args)
}

func TestListOrders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE 1=1 AND status IN ($1) ORDER BY created_at DESC")).
		WithArgs("DELIVERED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total", "created_at"}).
			AddRow(2, "u1", "DELIVERED", "12.50", created).
			AddRow(1, "u2", "DELIVERED", "9.99", created.Add(-time.Hour)))

	orders, err := s.ListOrders(context.Background(), backend.OrderFilter{
		Statuses:   models.ArchivedStatuses,
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(2), orders[0].ID)
	assert.Equal(t, models.StatusDelivered, orders[0].Status)
	assert.True(t, orders[1].Total.Equal(decimal.RequireFromString("9.99")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder_WithItemsAndProducts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total", "created_at"}).
			AddRow(7, "u1", "NEW", "19.98", created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = $1 ORDER BY id")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "size"}).
			AddRow(1, 7, 3, 2, "M"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = ANY($1)")).
		WithArgs(pq.Array([]int64{3})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "image", "created_at"}).
			AddRow(3, "Margherita", "9.99", nil, created))

	o, err := s.GetOrder(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, o.OrderItems, 1)
	assert.Equal(t, models.SizeM, o.OrderItems[0].Size)
	require.NotNil(t, o.OrderItems[0].Product)
	assert.Equal(t, "Margherita", o.OrderItems[0].Product.Name)
	assert.Nil(t, o.OrderItems[0].Product.Image)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM orders WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := s.GetOrder(context.Background(), 99)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestInsertOrder(t *testing.T) {
	s, mock := newMockStore(t)
	total := decimal.RequireFromString("19.98")

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders (user_id, total) VALUES ($1, $2) RETURNING")).
		WithArgs("u1", total).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total", "created_at"}).
			AddRow(11, "u1", "NEW", "19.98", created))

	o, err := s.InsertOrder(context.Background(), models.NewOrder{UserID: "u1", Total: total})
	require.NoError(t, err)
	assert.Equal(t, int64(11), o.ID)
	assert.Equal(t, models.StatusNew, o.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrderItems_Batch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1, $2, $3, $4),($5, $6, $7, $8)")).
		WithArgs(int64(11), int64(3), 2, models.SizeM, int64(11), int64(4), 1, models.SizeXL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "size"}).
			AddRow(1, 11, 3, 2, "M").
			AddRow(2, 11, 4, 1, "XL"))

	items, err := s.InsertOrderItems(context.Background(), []models.NewOrderItem{
		{OrderID: 11, ProductID: 3, Quantity: 2, Size: models.SizeM},
		{OrderID: 11, ProductID: 4, Quantity: 1, Size: models.SizeXL},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.SizeXL, items[1].Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrderItems_UnknownOrder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnError(&pq.Error{Code: foreignKeyViolation, Detail: `Key (order_id)=(99) is not present in table "orders".`})

	_, err := s.InsertOrderItems(context.Background(), []models.NewOrderItem{{OrderID: 99, ProductID: 1, Quantity: 1, Size: models.SizeS}})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestUpdateOrderStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders SET status = $1 WHERE id = $2")).
		WithArgs("COOKING", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total", "created_at"}).
			AddRow(7, "u1", "COOKING", "19.98", created))

	o, err := s.UpdateOrderStatus(context.Background(), 7, models.StatusCooking)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCooking, o.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProduct_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteProduct(context.Background(), 5)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestGetProfile(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, "group", expo_push_token FROM profiles WHERE id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group", "expo_push_token"}).AddRow("u1", "ADMIN", "tok"))

	p, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
	require.NotNil(t, p.ExpoPushToken)
	assert.Equal(t, "tok", *p.ExpoPushToken)
}

func TestSetPushToken(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO profiles (id, "group", expo_push_token) VALUES ($1, 'USER', $2)`)).
		WithArgs("u1", "ExponentPushToken[a]").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group", "expo_push_token"}).AddRow("u1", "USER", "ExponentPushToken[a]"))

	p, err := s.SetPushToken(context.Background(), "u1", "ExponentPushToken[a]")
	require.NoError(t, err)
	assert.Equal(t, models.GroupUser, p.Group)
	require.NotNil(t, p.ExpoPushToken)
	assert.Equal(t, "ExponentPushToken[a]", *p.ExpoPushToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStore_Integration runs against a real database when
// TEST_POSTGRES_DSN is set.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Open(ctx, dsn, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	sub, err := s.Subscribe(ctx, backend.SubscribeConfig{Table: backend.TableOrders, Event: backend.EventInsert})
	require.NoError(t, err)
	defer sub.Close()

	p, err := s.InsertProduct(ctx, models.Product{Name: "Margherita", Price: decimal.RequireFromString("9.99")})
	require.NoError(t, err)
	o, err := s.InsertOrder(ctx, models.NewOrder{UserID: "it-user", Total: decimal.RequireFromString("9.99")})
	require.NoError(t, err)
	_, err = s.InsertOrderItems(ctx, []models.NewOrderItem{{OrderID: o.ID, ProductID: p.ID, Quantity: 1, Size: models.SizeL}})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, o.ID, ev.Record["id"])
	case <-time.After(10 * time.Second):
		t.Fatal("no notification")
	}
}
