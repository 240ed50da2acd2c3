package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/backend/memory"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
)

type fakeGateway struct {
	amounts []int64
	err     error
}

func (g *fakeGateway) FetchSheetParams(ctx context.Context, amount int64) (*payment.SheetParams, error) {
	g.amounts = append(g.amounts, amount)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.SheetParams{PaymentIntent: "pi", PublishableKey: "pk", Amount: amount}, nil
}

func sheet(paid bool) payment.Sheet {
	return payment.SheetFunc(func(ctx context.Context, params *payment.SheetParams) (bool, error) {
		return paid, nil
	})
}

type failingItems struct {
	*memory.Store
}

func (failingItems) InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error) {
	return nil, errors.New("constraint violation")
}

func newCheckoutCart(t *testing.T) (*Cart, *memory.Store, *fakeGateway) {
	t.Helper()
	store := memory.New()
	gw := &fakeGateway{}
	c := New("user-1", Deps{Gateway: gw, Orders: store})
	return c, store, gw
}

func TestCheckout_PersistsOrderAndClearsCart(t *testing.T) {
	ctx := context.Background()
	c, store, gw := newCheckoutCart(t)
	c.AddItem(pizzaA, models.SizeM)
	c.AddItem(pizzaA, models.SizeM)
	c.AddItem(pizzaB, models.SizeXL)

	order, err := c.Checkout(ctx, sheet(true))
	require.NoError(t, err)

	assert.Equal(t, []int64{3248}, gw.amounts)
	assert.Empty(t, c.Items())
	assert.Nil(t, c.Pending())

	saved, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", saved.UserID)
	assert.Equal(t, models.StatusNew, saved.Status)
	assert.True(t, saved.Total.Equal(decimal.RequireFromString("32.48")))
	require.Len(t, saved.OrderItems, 2)

	quantities := map[int64]int{}
	for _, it := range saved.OrderItems {
		quantities[it.ProductID] = it.Quantity
	}
	assert.Equal(t, map[int64]int{pizzaA.ID: 2, pizzaB.ID: 1}, quantities)
}

func TestCheckout_DeclinedKeepsCart(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCheckoutCart(t)
	c.AddItem(pizzaA, models.SizeM)

	_, err := c.Checkout(ctx, sheet(false))
	assert.ErrorIs(t, err, ErrPaymentCancelled)
	assert.Equal(t, 1, c.TotalItems())
	assert.Nil(t, c.Pending())

	orders, err := store.ListOrders(ctx, backend.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_SheetErrorKeepsCart(t *testing.T) {
	c, _, _ := newCheckoutCart(t)
	c.AddItem(pizzaA, models.SizeM)

	broken := payment.SheetFunc(func(ctx context.Context, params *payment.SheetParams) (bool, error) {
		return false, errors.New("sheet not initialised")
	})

	_, err := c.Checkout(context.Background(), broken)
	require.Error(t, err)
	assert.Equal(t, 1, c.TotalItems())
}

func TestCheckout_GatewayErrorKeepsCart(t *testing.T) {
	c, _, gw := newCheckoutCart(t)
	gw.err = &payment.Error{StatusCode: 500, Message: "Failed to create payment intent"}
	c.AddItem(pizzaA, models.SizeM)

	_, err := c.Checkout(context.Background(), sheet(true))
	var perr *payment.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, c.TotalItems())
}

func TestCheckout_EmptyCartStillCallsGateway(t *testing.T) {
	c, _, gw := newCheckoutCart(t)

	order, err := c.Checkout(context.Background(), sheet(true))
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, gw.amounts)
	assert.True(t, order.Total.IsZero())
}

func TestCheckout_PartialWriteIsReported(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := New("user-1", Deps{Gateway: &fakeGateway{}, Orders: failingItems{store}})
	c.AddItem(pizzaA, models.SizeM)

	order, err := c.Checkout(ctx, sheet(true))

	var partial *PartialOrderError
	require.True(t, errors.As(err, &partial))
	require.NotNil(t, order)
	assert.Equal(t, order.ID, partial.OrderID)
	assert.Equal(t, 1, c.TotalItems(), "cart is kept when items were not saved")

	saved, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, saved.OrderItems)
}

func TestTwoPhaseCheckout(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCheckoutCart(t)
	c.AddItem(pizzaA, models.SizeM)

	p, err := c.BeginCheckout(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(999), p.Amount)
	assert.Same(t, p, c.Pending())

	order, err := c.ConfirmCheckout(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, c.Items())

	_, err = p.Complete(ctx)
	assert.ErrorIs(t, err, ErrCheckoutFinished)

	orders, err := store.ListOrders(ctx, backend.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}

func TestConfirmCheckout_WithoutPending(t *testing.T) {
	c, _, _ := newCheckoutCart(t)
	_, err := c.ConfirmCheckout(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoPendingCheckout)
}

func TestConfirmCheckout_Declined(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCheckoutCart(t)
	c.AddItem(pizzaA, models.SizeM)

	_, err := c.BeginCheckout(ctx)
	require.NoError(t, err)

	_, err = c.ConfirmCheckout(ctx, false)
	assert.ErrorIs(t, err, ErrPaymentCancelled)
	assert.Nil(t, c.Pending())
	assert.Equal(t, 1, c.TotalItems())
}

func TestBeginCheckout_ReplacesEarlierPending(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCheckoutCart(t)
	c.AddItem(pizzaA, models.SizeM)

	first, err := c.BeginCheckout(ctx)
	require.NoError(t, err)
	c.AddItem(pizzaB, models.SizeM)
	second, err := c.BeginCheckout(ctx)
	require.NoError(t, err)

	assert.Same(t, second, c.Pending())
	assert.NotEqual(t, first.Amount, second.Amount)
}
