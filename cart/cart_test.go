package cart

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zoro-chi/FoodOrderingApp/models"
)

var (
	pizzaA = models.Product{ID: 1, Name: "Margherita", Price: decimal.RequireFromString("9.99")}
	pizzaB = models.Product{ID: 2, Name: "Pepperoni", Price: decimal.RequireFromString("12.50")}
)

func TestAddItem_SameProductAndSizeMerges(t *testing.T) {
	c := New("u1", Deps{})

	first := c.AddItem(pizzaA, models.SizeM)
	second := c.AddItem(pizzaA, models.SizeM)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestAddItem_DifferentSizeIsNewLinePrepended(t *testing.T) {
	c := New("u1", Deps{})

	c.AddItem(pizzaA, models.SizeM)
	c.AddItem(pizzaA, models.SizeL)
	c.AddItem(pizzaB, models.SizeM)

	items := c.Items()
	require.Len(t, items, 3)
	assert.Equal(t, pizzaB.ID, items[0].ProductID)
	assert.Equal(t, models.SizeL, items[1].Size)
	assert.Equal(t, models.SizeM, items[2].Size)
}

func TestAddItem_SnapshotsProduct(t *testing.T) {
	c := New("u1", Deps{})
	p := pizzaA
	c.AddItem(p, models.SizeS)

	p.Price = decimal.NewFromInt(100)
	assert.True(t, c.TotalPrice().Equal(decimal.RequireFromString("9.99")))
}

func TestRemoveItem(t *testing.T) {
	c := New("u1", Deps{})
	c.AddItem(pizzaA, models.SizeM)
	c.AddItem(pizzaA, models.SizeM)
	c.AddItem(pizzaA, models.SizeL)

	c.RemoveItem(pizzaA, models.SizeM)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.SizeL, items[0].Size)

	c.RemoveItem(pizzaB, models.SizeL)
	assert.Len(t, c.Items(), 1)
}

func TestUpdateQuantity_Example(t *testing.T) {
	c := New("u1", Deps{})
	item := c.AddItem(pizzaA, models.SizeM)
	c.AddItem(pizzaA, models.SizeM)

	assert.Equal(t, 2, c.TotalItems())
	assert.Equal(t, "19.98", c.TotalPrice().StringFixed(2))

	require.NoError(t, c.UpdateQuantity(item.ID, -1))
	assert.Equal(t, 1, c.TotalItems())
	assert.Equal(t, "9.99", c.TotalPrice().StringFixed(2))

	require.NoError(t, c.UpdateQuantity(item.ID, -1))
	assert.Empty(t, c.Items())
	assert.Equal(t, 0, c.TotalItems())
	assert.True(t, c.TotalPrice().IsZero())
}

func TestUpdateQuantity_UnknownIDIsNoop(t *testing.T) {
	c := New("u1", Deps{})
	c.AddItem(pizzaA, models.SizeM)

	require.NoError(t, c.UpdateQuantity("missing", 1))
	assert.Equal(t, 1, c.TotalItems())
}

func TestUpdateQuantity_RejectsOtherDeltas(t *testing.T) {
	c := New("u1", Deps{})
	item := c.AddItem(pizzaA, models.SizeM)

	assert.ErrorIs(t, c.UpdateQuantity(item.ID, 2), ErrInvalidDelta)
	assert.ErrorIs(t, c.UpdateQuantity(item.ID, 0), ErrInvalidDelta)
	assert.Equal(t, 1, c.TotalItems())
}

func TestTotals_HoldForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	products := []models.Product{pizzaA, pizzaB, {ID: 3, Name: "Veggie", Price: decimal.RequireFromString("0.35")}}

	for run := 0; run < 50; run++ {
		c := New("u1", Deps{})
		for step := 0; step < 100; step++ {
			p := products[rng.Intn(len(products))]
			size := models.Sizes[rng.Intn(len(models.Sizes))]

			switch rng.Intn(4) {
			case 0, 1:
				c.AddItem(p, size)
			case 2:
				c.RemoveItem(p, size)
			case 3:
				items := c.Items()
				if len(items) == 0 {
					continue
				}
				delta := 1
				if rng.Intn(2) == 0 {
					delta = -1
				}
				require.NoError(t, c.UpdateQuantity(items[rng.Intn(len(items))].ID, delta))
			}

			items := c.Items()
			wantItems := 0
			wantPrice := decimal.Zero
			seen := map[string]bool{}
			for _, it := range items {
				require.GreaterOrEqual(t, it.Quantity, 1)
				key := string(it.Size) + "/" + it.Product.Name
				require.False(t, seen[key], "duplicate line for %s", key)
				seen[key] = true
				wantItems += it.Quantity
				wantPrice = wantPrice.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
			}
			require.Equal(t, wantItems, c.TotalItems())
			require.True(t, wantPrice.Equal(c.TotalPrice()))
		}
	}
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	c := New("u1", Deps{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddItem(pizzaA, models.SizeM)
		}()
	}
	wg.Wait()

	require.Len(t, c.Items(), 1)
	assert.Equal(t, 100, c.TotalItems())
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		price string
		want  int64
	}{
		{"0", 0},
		{"19.98", 1998},
		{"9.99", 999},
		{"10.005", 1001},
		{"0.004", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MinorUnits(decimal.RequireFromString(tt.price)), tt.price)
	}
}

func TestRegistry_OneCartPerUser(t *testing.T) {
	r := NewRegistry(Deps{})

	a := r.Cart("alice")
	assert.Same(t, a, r.Cart("alice"))
	assert.NotSame(t, a, r.Cart("bob"))
	assert.Equal(t, 2, r.Len())

	r.Drop("alice")
	assert.NotSame(t, a, r.Cart("alice"))
}
