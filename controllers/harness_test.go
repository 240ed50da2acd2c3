package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Zoro-chi/FoodOrderingApp/backend/memory"
	"github.com/Zoro-chi/FoodOrderingApp/cart"
	"github.com/Zoro-chi/FoodOrderingApp/middleware"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/notifier"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
	"github.com/Zoro-chi/FoodOrderingApp/push"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGateway struct {
	mu      sync.Mutex
	err     error
	amounts []int64
}

func (g *fakeGateway) FetchSheetParams(ctx context.Context, amount int64) (*payment.SheetParams, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amounts = append(g.amounts, amount)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.SheetParams{PaymentIntent: "pi_secret", PublishableKey: "pk_test", Amount: amount}, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []push.Message
}

func (d *fakeDispatcher) Dispatch(msg push.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

func (d *fakeDispatcher) messages() []push.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]push.Message(nil), d.msgs...)
}

type harness struct {
	t        *testing.T
	store    *memory.Store
	cache    *query.Cache
	gateway  *fakeGateway
	push     *fakeDispatcher
	notifier *notifier.Notifier
	router   *gin.Engine
}

// fakeAuth trusts the X-User and X-Role headers.
func fakeAuth(c *gin.Context) {
	uid := c.GetHeader("X-User")
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}
	c.Set(middleware.UserIDKey, uid)
	c.Set(middleware.RoleKey, c.GetHeader("X-Role"))
	c.Set(middleware.AccessTokenKey, "token-"+uid)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		store:   memory.New(),
		cache:   query.New(64),
		gateway: &fakeGateway{},
		push:    &fakeDispatcher{},
	}
	t.Cleanup(func() { h.store.Close(context.Background()) })

	n := notifier.New(h.store, h.cache, h.push, nil)
	h.notifier = n
	carts := cart.NewRegistry(cart.Deps{Gateway: h.gateway, Orders: h.store})
	products := NewProductController(h.store, h.cache)
	orders := NewOrderController(h.store, h.cache, n)
	cartCtl := NewCartController(carts, products, h.cache)
	live := NewLiveController(orders, n, nil)
	profile := NewProfileController(h.store)

	r := gin.New()
	api := r.Group("/api", fakeAuth)
	api.GET("/products", products.GetProducts)
	api.GET("/products/:id", products.GetProduct)
	api.GET("/cart", cartCtl.GetCart)
	api.DELETE("/cart", cartCtl.ClearCart)
	api.POST("/cart/items", cartCtl.AddToCart)
	api.DELETE("/cart/items", cartCtl.RemoveFromCart)
	api.PATCH("/cart/items/:itemId", cartCtl.UpdateCart)
	api.POST("/cart/checkout", cartCtl.BeginCheckout)
	api.POST("/cart/checkout/confirm", cartCtl.ConfirmCheckout)
	api.GET("/orders", orders.GetOrders)
	api.GET("/orders/:id", orders.GetOrder)
	api.GET("/orders/:id/live", live.OrderLive)
	api.GET("/profile", profile.GetProfile)
	api.PUT("/profile/push-token", profile.SetPushToken)

	admin := api.Group("/admin", middleware.AdminMiddleware())
	admin.POST("/products", products.CreateProduct)
	admin.PUT("/products/:id", products.UpdateProduct)
	admin.DELETE("/products/:id", products.DeleteProduct)
	admin.GET("/orders", orders.GetOrdersAdmin)
	admin.GET("/orders/statuses", orders.Statuses)
	admin.GET("/orders/live", live.AdminOrdersLive)
	admin.GET("/orders/:id", orders.GetOrder)
	admin.PATCH("/orders/:id/status", orders.UpdateOrderStatus)

	h.router = r
	return h
}

func (h *harness) request(method, path, user, role string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) user(method, path string, body any) *httptest.ResponseRecorder {
	return h.request(method, path, "u1", string(models.GroupUser), body)
}

func (h *harness) admin(method, path string, body any) *httptest.ResponseRecorder {
	return h.request(method, path, "admin-1", string(models.GroupAdmin), body)
}

func (h *harness) product(name, price string) models.Product {
	h.t.Helper()
	p, err := models.ProductInput{Name: name, Price: price}.Validate()
	require.NoError(h.t, err)
	created, err := h.store.InsertProduct(context.Background(), p)
	require.NoError(h.t, err)
	return *created
}

type envelope[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
	OrderID int64  `json:"orderId"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}
