// Package controllers holds the gin handlers of the HTTP API.
package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/cart"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/notifier"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
)

const requestTimeout = 5 * time.Second

// checkoutTimeout covers the payment function call plus both order writes.
const checkoutTimeout = 20 * time.Second

func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}

func parseID(c *gin.Context, param, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " ID"})
		return 0, false
	}
	return id, true
}

// respondError maps domain errors to status codes. The error is attached
// to the context so the request log carries it.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		verrs   models.ValidationErrors
		partial *cart.PartialOrderError
		payErr  *payment.Error
	)
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string(verrs)})
	case errors.As(err, &partial):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Order was created but its items could not be saved",
			"orderId": partial.OrderID,
		})
	case errors.Is(err, cart.ErrPaymentCancelled):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment cancelled"})
	case errors.As(err, &payErr):
		body := gin.H{"error": payErr.Message}
		if payErr.Details != "" {
			body["details"] = payErr.Details
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, notifier.ErrInvalidStatus), errors.Is(err, cart.ErrInvalidDelta):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cart.ErrNoPendingCheckout), errors.Is(err, cart.ErrCheckoutFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, backend.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Backend timed out"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func fetchSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"message": "Fetch success", "data": data})
}
