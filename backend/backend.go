// Package backend defines the remote data access layer the rest of the
// service talks to: row reads and writes on products, orders, order_items
// and profiles, plus a realtime change feed keyed by table and filter.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("resource not found")

const (
	TableProducts   = "products"
	TableOrders     = "orders"
	TableOrderItems = "order_items"
	TableProfiles   = "profiles"
)

// OrderFilter narrows an order listing. Empty fields do not filter.
type OrderFilter struct {
	UserID     string
	Statuses   []models.OrderStatus
	Descending bool
}

type Products interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	InsertProduct(ctx context.Context, p models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

type Orders interface {
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	// GetOrder returns the order with its items and their products.
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	InsertOrder(ctx context.Context, o models.NewOrder) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
}

type OrderItems interface {
	InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error)
}

type Profiles interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	// SetPushToken stores the device push token of a user and returns the
	// updated profile.
	SetPushToken(ctx context.Context, userID, token string) (*models.Profile, error)
}

// Realtime opens change feeds.
type Realtime interface {
	Subscribe(ctx context.Context, cfg SubscribeConfig) (Subscription, error)
}

// Backend is the full data access surface.
type Backend interface {
	Products
	Orders
	OrderItems
	Profiles
	Realtime
	Close(ctx context.Context) error
}

// EventType of a row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"

	// EventResync is published when a feed may have missed changes, such
	// as after a reconnect. It matches every subscription on its table.
	EventResync EventType = "RESYNC"
)

// ResyncEvent tells subscribers of table to re-read everything they show.
func ResyncEvent(table string, at time.Time) Event {
	return Event{Type: EventResync, Table: table, Timestamp: at}
}

// Filter is an equality predicate on one column of the changed row.
type Filter struct {
	Column string
	Value  string
}

// String renders the filter in PostgREST form, e.g. "id=eq.7".
func (f Filter) String() string {
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

// EqFilter builds a Filter from any printable value.
func EqFilter(column string, value any) *Filter {
	return &Filter{Column: column, Value: fmt.Sprint(value)}
}

type SubscribeConfig struct {
	Table  string
	Event  EventType
	Filter *Filter
}

// Event is a change on a watched row.
type Event struct {
	Type      EventType      `json:"type"`
	Table     string         `json:"table"`
	Record    map[string]any `json:"record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscription is a live change feed. Events is closed after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Matches reports whether ev is selected by cfg.
func (cfg SubscribeConfig) Matches(ev Event) bool {
	if cfg.Table != ev.Table {
		return false
	}
	if ev.Type == EventResync {
		return true
	}
	if cfg.Event != "" && cfg.Event != EventAll && cfg.Event != ev.Type {
		return false
	}
	if cfg.Filter == nil {
		return true
	}
	rec := ev.Record
	if ev.Type == EventDelete {
		rec = ev.OldRecord
	}
	v, ok := rec[cfg.Filter.Column]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == cfg.Filter.Value
}
