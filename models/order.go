package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusNew        OrderStatus = "NEW"
	StatusCooking    OrderStatus = "COOKING"
	StatusDelivering OrderStatus = "DELIVERING"
	StatusDelivered  OrderStatus = "DELIVERED"
)

// OrderStatusList is the display order of the status picker.
var OrderStatusList = []OrderStatus{StatusNew, StatusCooking, StatusDelivering, StatusDelivered}

var (
	ActiveStatuses   = []OrderStatus{StatusNew, StatusCooking, StatusDelivering}
	ArchivedStatuses = []OrderStatus{StatusDelivered}
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range OrderStatusList {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", s)
}

type Order struct {
	ID         int64           `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	Status     OrderStatus     `db:"status" json:"status"`
	Total      decimal.Decimal `db:"total" json:"total"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	OrderItems []OrderItem     `db:"-" json:"order_items,omitempty"`
}

type OrderItem struct {
	ID        int64    `db:"id" json:"id"`
	OrderID   int64    `db:"order_id" json:"order_id"`
	ProductID int64    `db:"product_id" json:"product_id"`
	Quantity  int      `db:"quantity" json:"quantity"`
	Size      Size     `db:"size" json:"size"`
	Product   *Product `db:"-" json:"products,omitempty"`
}

// NewOrder is the insert payload for an order row. Status and created_at
// are backend defaults.
type NewOrder struct {
	UserID string          `json:"user_id"`
	Total  decimal.Decimal `json:"total"`
}

type NewOrderItem struct {
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	Size      Size  `db:"size" json:"size"`
}
