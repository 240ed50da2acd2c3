package database

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Zoro-chi/FoodOrderingApp/models"
)

// Money is stored as Decimal128 so totals survive the round trip exactly.

type productDoc struct {
	ID        int64                `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Image     *string              `bson:"image,omitempty"`
	CreatedAt time.Time            `bson:"created_at"`
}

type orderDoc struct {
	ID        int64                `bson:"_id"`
	UserID    string               `bson:"user_id"`
	Status    string               `bson:"status"`
	Total     primitive.Decimal128 `bson:"total"`
	CreatedAt time.Time            `bson:"created_at"`
}

type orderItemDoc struct {
	ID        int64  `bson:"_id"`
	OrderID   int64  `bson:"order_id"`
	ProductID int64  `bson:"product_id"`
	Quantity  int    `bson:"quantity"`
	Size      string `bson:"size"`
}

type profileDoc struct {
	ID            string  `bson:"_id"`
	Group         string  `bson:"group"`
	ExpoPushToken *string `bson:"expo_push_token,omitempty"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

func newProductDoc(p models.Product) (productDoc, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDoc{}, err
	}
	return productDoc{ID: p.ID, Name: p.Name, Price: price, Image: p.Image, CreatedAt: p.CreatedAt}, nil
}

func (d productDoc) model() (models.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return models.Product{}, err
	}
	return models.Product{ID: d.ID, Name: d.Name, Price: price, Image: d.Image, CreatedAt: d.CreatedAt.UTC()}, nil
}

func (d orderDoc) model() (models.Order, error) {
	total, err := fromDecimal128(d.Total)
	if err != nil {
		return models.Order{}, err
	}
	return models.Order{
		ID:        d.ID,
		UserID:    d.UserID,
		Status:    models.OrderStatus(d.Status),
		Total:     total,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

func (d orderItemDoc) model() models.OrderItem {
	return models.OrderItem{
		ID:        d.ID,
		OrderID:   d.OrderID,
		ProductID: d.ProductID,
		Quantity:  d.Quantity,
		Size:      models.Size(d.Size),
	}
}

func (d profileDoc) model() models.Profile {
	return models.Profile{ID: d.ID, Group: models.Group(d.Group), ExpoPushToken: d.ExpoPushToken}
}
