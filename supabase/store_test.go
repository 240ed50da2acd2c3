package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

func newTestStore(t *testing.T, h http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := New(Config{URL: srv.URL, AnonKey: "anon", ServiceKey: "service"}, nil)
	require.NoError(t, err)
	return s
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(Config{AnonKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "https://x.supabase.co"})
	assert.Error(t, err)
}

func TestQueryURL(t *testing.T) {
	c, err := NewClient(Config{URL: "https://x.supabase.co/", AnonKey: "k"})
	require.NoError(t, err)

	u := c.From("orders").Select("*").Eq("user_id", "u1").In("status", []string{"NEW", "COOKING"}).
		Order("created_at", false).Order("id", false).URL()
	assert.Equal(t,
		"https://x.supabase.co/rest/v1/orders?order=created_at.desc%2Cid.desc&select=%2A&status=in.%28NEW%2CCOOKING%29&user_id=eq.u1",
		u)

	assert.Equal(t, "https://x.supabase.co/functions/v1/payment-sheet", c.FunctionURL("payment-sheet"))
	assert.Equal(t, "wss://x.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0", c.realtimeURL())
}

func TestListOrders(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/orders", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		assert.Equal(t, "in.(DELIVERED)", r.URL.Query().Get("status"))
		assert.Equal(t, "created_at.desc,id.desc", r.URL.Query().Get("order"))

		w.Write([]byte(`[{"id":3,"user_id":"u1","status":"DELIVERED","total":19.98,"created_at":"2024-03-01T12:00:00.123456+00:00"}]`))
	})

	orders, err := s.ListOrders(context.Background(), backend.OrderFilter{Statuses: models.ArchivedStatuses, Descending: true})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(3), orders[0].ID)
	assert.True(t, orders[0].Total.Equal(decimal.RequireFromString("19.98")))
}

func TestGetOrder_Embedded(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "*, order_items(*, products(*))", r.URL.Query().Get("select"))
		assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))

		w.Write([]byte(`{"id":7,"user_id":"u1","status":"NEW","total":9.99,"created_at":"2024-03-01T12:00:00+00:00",
			"order_items":[{"id":1,"order_id":7,"product_id":2,"quantity":1,"size":"L",
				"products":{"id":2,"name":"Pepperoni","price":9.99,"image":null,"created_at":"2024-01-01T00:00:00+00:00"}}]}`))
	})

	o, err := s.GetOrder(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, o.OrderItems, 1)
	require.NotNil(t, o.OrderItems[0].Product)
	assert.Equal(t, "Pepperoni", o.OrderItems[0].Product.Name)
	assert.Equal(t, models.SizeL, o.OrderItems[0].Size)
}

func TestGetOrder_NotFound(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
		w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned","details":"The result contains 0 rows"}`))
	})

	_, err := s.GetOrder(context.Background(), 99)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotAcceptable, apiErr.StatusCode)
}

func TestSetPushToken(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"expo_push_token":"ExponentPushToken[a]"}`, string(body))

		w.Write([]byte(`{"id":"u1","group":"USER","expo_push_token":"ExponentPushToken[a]"}`))
	})

	p, err := s.SetPushToken(context.Background(), "u1", "ExponentPushToken[a]")
	require.NoError(t, err)
	require.NotNil(t, p.ExpoPushToken)
	assert.Equal(t, "ExponentPushToken[a]", *p.ExpoPushToken)
}

func TestSetPushToken_NoProfile(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
		w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := s.SetPushToken(context.Background(), "ghost", "t")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestInsertOrderItems_Body(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var rows []map[string]any
		assert.NoError(t, json.Unmarshal(body, &rows))
		assert.Len(t, rows, 2)
		assert.Equal(t, "M", rows[0]["size"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":1,"order_id":7,"product_id":1,"quantity":2,"size":"M"},{"id":2,"order_id":7,"product_id":2,"quantity":1,"size":"S"}]`))
	})

	items, err := s.InsertOrderItems(context.Background(), []models.NewOrderItem{
		{OrderID: 7, ProductID: 1, Quantity: 2, Size: models.SizeM},
		{OrderID: 7, ProductID: 2, Quantity: 1, Size: models.SizeS},
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestInsertOrderItems_ForeignKey(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"23503","message":"insert or update on table \"order_items\" violates foreign key constraint"}`))
	})

	_, err := s.InsertOrderItems(context.Background(), []models.NewOrderItem{{OrderID: 99, ProductID: 1, Quantity: 1, Size: models.SizeS}})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestInsertOrder_SendsNumericTotal(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"user_id":"u1","total":19.98}`, string(body))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":5,"user_id":"u1","status":"NEW","total":19.98,"created_at":"2024-03-01T12:00:00+00:00"}`))
	})

	o, err := s.InsertOrder(context.Background(), models.NewOrder{UserID: "u1", Total: decimal.RequireFromString("19.98")})
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.ID)
	assert.Equal(t, models.StatusNew, o.Status)
}

func TestDeleteProduct_NothingDeleted(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`[]`))
	})

	err := s.DeleteProduct(context.Background(), 4)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestAPIError_PlainBody(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`upstream failure`))
	})

	_, err := s.ListProducts(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Internal Server Error", apiErr.Message)
	assert.NotErrorIs(t, err, backend.ErrNotFound)
}
