package backend

import (
	"time"

	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// OrderRecord renders an order row the way change feeds report it.
func OrderRecord(o models.Order) map[string]any {
	return map[string]any{
		"id":         o.ID,
		"user_id":    o.UserID,
		"status":     string(o.Status),
		"total":      o.Total.String(),
		"created_at": o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// OrderItemRecord renders an order_items row for change feeds.
func OrderItemRecord(i models.OrderItem) map[string]any {
	return map[string]any{
		"id":         i.ID,
		"order_id":   i.OrderID,
		"product_id": i.ProductID,
		"quantity":   i.Quantity,
		"size":       string(i.Size),
	}
}

// ProductRecord renders a products row for change feeds.
func ProductRecord(p models.Product) map[string]any {
	rec := map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"price":      p.Price.String(),
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.Image != nil {
		rec["image"] = *p.Image
	}
	return rec
}
