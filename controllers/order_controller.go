package controllers

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/middleware"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/notifier"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

// OrderController serves order lists and details for customers and
// admins. Status changes go through the notifier.
type OrderController struct {
	orders   backend.Orders
	cache    *query.Cache
	notifier *notifier.Notifier
}

func NewOrderController(orders backend.Orders, cache *query.Cache, n *notifier.Notifier) *OrderController {
	return &OrderController{orders: orders, cache: cache, notifier: n}
}

func (oc *OrderController) list(ctx context.Context, key query.Key, filter backend.OrderFilter) ([]models.Order, error) {
	return query.Fetch(ctx, oc.cache, key, func(ctx context.Context) ([]models.Order, error) {
		return oc.orders.ListOrders(ctx, filter)
	})
}

func (oc *OrderController) order(ctx context.Context, id int64) (*models.Order, error) {
	return query.Fetch(ctx, oc.cache, query.OrderKey(id), func(ctx context.Context) (*models.Order, error) {
		return oc.orders.GetOrder(ctx, id)
	})
}

// visibleOrder loads the order if the caller may see it. Other users'
// orders are reported as missing.
func (oc *OrderController) visibleOrder(ctx context.Context, c *gin.Context, id int64) (*models.Order, error) {
	order, err := oc.order(ctx, id)
	if err != nil {
		return nil, err
	}
	if !middleware.IsAdmin(c) && order.UserID != middleware.UserID(c) {
		return nil, fmt.Errorf("order %d: %w", id, backend.ErrNotFound)
	}
	return order, nil
}

// GetOrders lists the caller's orders, newest first.
func (oc *OrderController) GetOrders(c *gin.Context) {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	uid := middleware.UserID(c)
	orders, err := oc.list(ctx, query.UserOrdersKey(uid), backend.OrderFilter{UserID: uid, Descending: true})
	if err != nil {
		respondError(c, err)
		return
	}
	fetchSuccess(c, orders)
}

// GetOrder returns one order with its items and their products.
func (oc *OrderController) GetOrder(c *gin.Context) {
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	order, err := oc.visibleOrder(ctx, c, id)
	if err != nil {
		respondError(c, err)
		return
	}
	fetchSuccess(c, order)
}
