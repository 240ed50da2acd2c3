package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/controllers"
	"github.com/Zoro-chi/FoodOrderingApp/metrics"
	"github.com/Zoro-chi/FoodOrderingApp/middleware"
)

// Handlers groups everything the router needs.
type Handlers struct {
	Products *controllers.ProductController
	Cart     *controllers.CartController
	Orders   *controllers.OrderController
	Live     *controllers.LiveController
	Profile  *controllers.ProfileController

	Auth    *middleware.Auth
	Limiter *middleware.RateLimiter
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(h.Auth.Handler())
	if h.Limiter != nil {
		api.Use(h.Limiter.Handler())
	}
	{
		api.GET("/products", h.Products.GetProducts)
		api.GET("/products/:id", h.Products.GetProduct)

		api.GET("/cart", h.Cart.GetCart)
		api.DELETE("/cart", h.Cart.ClearCart)
		api.POST("/cart/items", h.Cart.AddToCart)
		api.DELETE("/cart/items", h.Cart.RemoveFromCart)
		api.PATCH("/cart/items/:itemId", h.Cart.UpdateCart)
		api.POST("/cart/checkout", h.Cart.BeginCheckout)
		api.POST("/cart/checkout/confirm", h.Cart.ConfirmCheckout)

		api.GET("/orders", h.Orders.GetOrders)
		api.GET("/orders/:id", h.Orders.GetOrder)
		api.GET("/orders/:id/live", h.Live.OrderLive)

		api.GET("/profile", h.Profile.GetProfile)
		api.PUT("/profile/push-token", h.Profile.SetPushToken)

		admin := api.Group("/admin")
		admin.Use(middleware.AdminMiddleware())
		{
			admin.POST("/products", h.Products.CreateProduct)
			admin.PUT("/products/:id", h.Products.UpdateProduct)
			admin.DELETE("/products/:id", h.Products.DeleteProduct)

			admin.GET("/orders", h.Orders.GetOrdersAdmin)
			admin.GET("/orders/statuses", h.Orders.Statuses)
			admin.GET("/orders/live", h.Live.AdminOrdersLive)
			admin.GET("/orders/:id", h.Orders.GetOrder)
			admin.PATCH("/orders/:id/status", h.Orders.UpdateOrderStatus)
		}
	}
}
