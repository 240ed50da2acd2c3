package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Zoro-chi/FoodOrderingApp/cart"
	"github.com/Zoro-chi/FoodOrderingApp/metrics"
	"github.com/Zoro-chi/FoodOrderingApp/middleware"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

// CartController exposes the caller's cart. The payment sheet runs on the
// device, so checkout is split into begin and confirm.
type CartController struct {
	carts    *cart.Registry
	products *ProductController
	cache    *query.Cache
}

func NewCartController(carts *cart.Registry, products *ProductController, cache *query.Cache) *CartController {
	return &CartController{carts: carts, products: products, cache: cache}
}

type cartView struct {
	Items      []models.CartItem `json:"items"`
	TotalPrice decimal.Decimal   `json:"totalPrice"`
	TotalItems int               `json:"totalItems"`
	Pending    *checkoutView     `json:"pendingCheckout,omitempty"`
}

type checkoutView struct {
	*payment.SheetParams
	Total decimal.Decimal `json:"total"`
	Items int             `json:"items"`
}

func newCheckoutView(p *cart.PendingCheckout) *checkoutView {
	if p == nil {
		return nil
	}
	return &checkoutView{SheetParams: p.Params, Total: p.Total, Items: len(p.Items)}
}

func (cc *CartController) view(ct *cart.Cart) cartView {
	return cartView{
		Items:      ct.Items(),
		TotalPrice: ct.TotalPrice(),
		TotalItems: ct.TotalItems(),
		Pending:    newCheckoutView(ct.Pending()),
	}
}

func (cc *CartController) cart(c *gin.Context) *cart.Cart {
	return cc.carts.Cart(middleware.UserID(c))
}

type cartItemBody struct {
	ProductID int64  `json:"productId" binding:"required"`
	Size      string `json:"size" binding:"required"`
}

func (b cartItemBody) size(c *gin.Context) (models.Size, bool) {
	size, err := models.ParseSize(b.Size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid size"})
		return "", false
	}
	return size, true
}

func (cc *CartController) GetCart(c *gin.Context) {
	fetchSuccess(c, cc.view(cc.cart(c)))
}

func (cc *CartController) AddToCart(c *gin.Context) {
	var body cartItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	size, ok := body.size(c)
	if !ok {
		return
	}

	product, err := cc.products.product(c, body.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}

	ct := cc.cart(c)
	item := ct.AddItem(*product, size)

	c.JSON(http.StatusCreated, gin.H{"message": "Added to cart", "item": item, "data": cc.view(ct)})
}

func (cc *CartController) RemoveFromCart(c *gin.Context) {
	var body cartItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	size, ok := body.size(c)
	if !ok {
		return
	}

	ct := cc.cart(c)
	ct.RemoveItem(models.Product{ID: body.ProductID}, size)

	c.JSON(http.StatusOK, gin.H{"message": "Removed from cart", "data": cc.view(ct)})
}

func (cc *CartController) UpdateCart(c *gin.Context) {
	var body struct {
		Delta int `json:"delta" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ct := cc.cart(c)
	if err := ct.UpdateQuantity(c.Param("itemId"), body.Delta); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart updated", "data": cc.view(ct)})
}

func (cc *CartController) ClearCart(c *gin.Context) {
	ct := cc.cart(c)
	ct.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared", "data": cc.view(ct)})
}

// BeginCheckout returns the payment sheet parameters for the current
// cart total.
func (cc *CartController) BeginCheckout(c *gin.Context) {
	ctx, cancel := requestContext(c, checkoutTimeout)
	defer cancel()
	ctx = payment.WithAccessToken(ctx, middleware.AccessToken(c))

	p, err := cc.cart(c).BeginCheckout(ctx)
	if err != nil {
		metrics.RecordCheckout(metrics.CheckoutFailed)
		respondError(c, err)
		return
	}
	metrics.RecordCheckout(metrics.CheckoutStarted)

	c.JSON(http.StatusOK, gin.H{"message": "Checkout started", "data": newCheckoutView(p)})
}

// ConfirmCheckout takes the sheet result. A paid checkout writes the order
// and returns its id so the client can open the order detail.
func (cc *CartController) ConfirmCheckout(c *gin.Context) {
	var body struct {
		Paid *bool `json:"paid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx, cancel := requestContext(c, checkoutTimeout)
	defer cancel()

	order, err := cc.cart(c).ConfirmCheckout(ctx, *body.Paid)
	var partial *cart.PartialOrderError
	switch {
	case err == nil:
		metrics.RecordCheckout(metrics.CheckoutCompleted)
	case errors.As(err, &partial):
		metrics.RecordCheckout(metrics.CheckoutPartial)
	case errors.Is(err, cart.ErrPaymentCancelled):
		metrics.RecordCheckout(metrics.CheckoutCancelled)
	case errors.Is(err, cart.ErrNoPendingCheckout), errors.Is(err, cart.ErrCheckoutFinished):
	default:
		metrics.RecordCheckout(metrics.CheckoutFailed)
	}
	if order != nil {
		cc.cache.Invalidate(query.OrdersKey)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Order created", "orderId": order.ID, "data": order})
}
