package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
)

var (
	ErrPaymentCancelled  = errors.New("payment cancelled")
	ErrNoPendingCheckout = errors.New("no checkout in progress")
	ErrCheckoutFinished  = errors.New("checkout already finished")
)

// PartialOrderError reports an order row that was written without its
// items. Nothing is rolled back.
type PartialOrderError struct {
	OrderID int64
	Err     error
}

func (e *PartialOrderError) Error() string {
	return fmt.Sprintf("order %d created without items: %v", e.OrderID, e.Err)
}

func (e *PartialOrderError) Unwrap() error {
	return e.Err
}

// PendingCheckout is a cart snapshot that has payment sheet parameters but
// has not been paid for yet.
type PendingCheckout struct {
	Params *payment.SheetParams
	Items  []models.CartItem
	Total  decimal.Decimal
	Amount int64

	cart *Cart
	done bool
}

// Checkout runs the whole flow: fetch the sheet, present it, and on
// confirmation persist the order and clear the cart.
func (c *Cart) Checkout(ctx context.Context, sheet payment.Sheet) (*models.Order, error) {
	p, err := c.BeginCheckout(ctx)
	if err != nil {
		return nil, err
	}

	paid, err := sheet.Present(ctx, p.Params)
	if err != nil {
		c.abort(p)
		return nil, fmt.Errorf("present payment sheet: %w", err)
	}
	if !paid {
		c.abort(p)
		return nil, ErrPaymentCancelled
	}

	return p.Complete(ctx)
}

// BeginCheckout snapshots the cart and requests sheet parameters for its
// total. The snapshot replaces any earlier pending checkout.
func (c *Cart) BeginCheckout(ctx context.Context) (*PendingCheckout, error) {
	c.mu.Lock()
	items := append([]models.CartItem(nil), c.items...)
	total := totalPrice(items)
	c.mu.Unlock()

	amount := MinorUnits(total)
	c.log.WithField("amount", amount).Info("checkout started")

	params, err := c.deps.Gateway.FetchSheetParams(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("fetch payment sheet: %w", err)
	}

	p := &PendingCheckout{
		Params: params,
		Items:  items,
		Total:  total,
		Amount: amount,
		cart:   c,
	}

	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()

	return p, nil
}

// Pending returns the checkout awaiting payment, if any.
func (c *Cart) Pending() *PendingCheckout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// ConfirmCheckout finishes the pending checkout with the payer's answer
// from the hosted sheet.
func (c *Cart) ConfirmCheckout(ctx context.Context, paid bool) (*models.Order, error) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p == nil {
		return nil, ErrNoPendingCheckout
	}
	if !paid {
		c.abort(p)
		return nil, ErrPaymentCancelled
	}
	return p.Complete(ctx)
}

// Complete writes the order row, then one row per cart line, then clears
// the cart. The two writes are independent.
func (p *PendingCheckout) Complete(ctx context.Context) (*models.Order, error) {
	c := p.cart

	c.mu.Lock()
	if p.done {
		c.mu.Unlock()
		return nil, ErrCheckoutFinished
	}
	p.done = true
	c.mu.Unlock()

	order, err := c.deps.Orders.InsertOrder(ctx, models.NewOrder{UserID: c.userID, Total: p.Total})
	if err != nil {
		c.release(p)
		return nil, fmt.Errorf("insert order: %w", err)
	}
	log := c.log.WithField("order_id", order.ID)

	rows := make([]models.NewOrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		rows = append(rows, models.NewOrderItem{
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Size:      it.Size,
		})
	}

	if _, err := c.deps.Orders.InsertOrderItems(ctx, rows); err != nil {
		log.WithError(err).Error("order items not saved")
		c.clearPending(p)
		return order, &PartialOrderError{OrderID: order.ID, Err: err}
	}

	c.mu.Lock()
	c.items = nil
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()

	log.WithFields(logrus.Fields{"items": len(rows), "total": p.Total.String()}).Info("order created")
	return order, nil
}

// Abort discards the pending checkout and keeps the cart.
func (p *PendingCheckout) Abort() {
	p.cart.abort(p)
}

func (c *Cart) abort(p *PendingCheckout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.done = true
	if c.pending == p {
		c.pending = nil
	}
}

// release makes p retryable after a failed order insert.
func (c *Cart) release(p *PendingCheckout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.done = false
}

func (c *Cart) clearPending(p *PendingCheckout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == p {
		c.pending = nil
	}
}
