// Package cart holds a pending order in memory and turns it into a paid,
// persisted order on checkout.
package cart

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
)

var ErrInvalidDelta = errors.New("quantity delta must be -1 or +1")

// OrderWriter persists checked-out carts.
type OrderWriter interface {
	InsertOrder(ctx context.Context, o models.NewOrder) (*models.Order, error)
	InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error)
}

type Deps struct {
	Gateway payment.Gateway
	Orders  OrderWriter
	Logger  logrus.FieldLogger
}

// Cart is one user's pending order. It is safe for concurrent use; every
// mutation is applied to the current items under the lock.
type Cart struct {
	mu      sync.Mutex
	userID  string
	items   []models.CartItem
	pending *PendingCheckout

	deps  Deps
	log   logrus.FieldLogger
	newID func() string
}

func New(userID string, deps Deps) *Cart {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cart{
		userID: userID,
		deps:   deps,
		log:    log.WithFields(logrus.Fields{"component": "cart", "user_id": userID}),
		newID:  uuid.NewString,
	}
}

func (c *Cart) UserID() string {
	return c.userID
}

// AddItem bumps the quantity of the matching product and size, or puts a
// new line with quantity 1 at the front of the cart.
func (c *Cart) AddItem(product models.Product, size models.Size) models.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ProductID == product.ID && c.items[i].Size == size {
			c.items[i].Quantity++
			return c.items[i]
		}
	}

	item := models.CartItem{
		ID:        c.newID(),
		Product:   product,
		ProductID: product.ID,
		Size:      size,
		Quantity:  1,
	}
	c.items = append([]models.CartItem{item}, c.items...)
	return item
}

// RemoveItem drops every line for the product and size.
func (c *Cart) RemoveItem(product models.Product, size models.Size) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = slices.DeleteFunc(c.items, func(it models.CartItem) bool {
		return it.ProductID == product.ID && it.Size == size
	})
}

// UpdateQuantity applies delta to the line with itemID. Lines that reach
// zero are removed. An unknown id is a no-op.
func (c *Cart) UpdateQuantity(itemID string, delta int) error {
	if delta != -1 && delta != 1 {
		return ErrInvalidDelta
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items[i].Quantity += delta
		}
	}
	c.items = slices.DeleteFunc(c.items, func(it models.CartItem) bool {
		return it.Quantity <= 0
	})
	return nil
}

// Items returns a copy of the cart lines, newest first.
func (c *Cart) Items() []models.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *Cart) TotalPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return totalPrice(c.items)
}

func (c *Cart) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return totalItems(c.items)
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

func totalPrice(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func totalItems(items []models.CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// MinorUnits converts a price to the integer amount charged, e.g. 19.98 -> 1998.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}
