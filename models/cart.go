package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Size string

const (
	SizeS  Size = "S"
	SizeM  Size = "M"
	SizeL  Size = "L"
	SizeXL Size = "XL"
)

var Sizes = []Size{SizeS, SizeM, SizeL, SizeXL}

func ParseSize(s string) (Size, error) {
	for _, size := range Sizes {
		if string(size) == s {
			return size, nil
		}
	}
	return "", fmt.Errorf("invalid size %q", s)
}

type CartItem struct {
	ID        string  `json:"id"`
	Product   Product `json:"product"`
	ProductID int64   `json:"product_id"`
	Size      Size    `json:"size"`
	Quantity  int     `json:"quantity"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
