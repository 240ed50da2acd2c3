package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

func adminFilter(archived bool) backend.OrderFilter {
	statuses := models.ActiveStatuses
	if archived {
		statuses = models.ArchivedStatuses
	}
	return backend.OrderFilter{Statuses: statuses, Descending: true}
}

// GetOrdersAdmin lists active orders, or delivered ones with
// ?archived=true.
func (oc *OrderController) GetOrdersAdmin(c *gin.Context) {
	archived := false
	if v := c.Query("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid archived flag"})
			return
		}
		archived = b
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	orders, err := oc.list(ctx, query.AdminOrdersKey(archived), adminFilter(archived))
	if err != nil {
		respondError(c, err)
		return
	}
	fetchSuccess(c, orders)
}

func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	order, err := oc.notifier.UpdateStatus(ctx, id, body.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "data": order})
}

// Statuses is the list the admin status picker shows.
func (oc *OrderController) Statuses(c *gin.Context) {
	fetchSuccess(c, models.OrderStatusList)
}
