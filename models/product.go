package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers, matching the numeric columns of the backend.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Image     *string         `db:"image" json:"image"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ProductInput is the admin form payload. Price stays a string until
// validation so that "abc" can be reported instead of failing to bind.
type ProductInput struct {
	Name  string  `json:"name"`
	Price string  `json:"price"`
	Image *string `json:"image"`
}

// ValidationErrors is a list of user-facing form messages.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return strings.Join(v, "; ")
}

// Validate checks the form the same way the menu editor does and returns
// the parsed product fields.
func (in ProductInput) Validate() (Product, error) {
	var errs ValidationErrors
	var price decimal.Decimal

	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, "Name is required")
	}
	if strings.TrimSpace(in.Price) == "" {
		errs = append(errs, "Price is required")
	} else {
		p, err := decimal.NewFromString(strings.TrimSpace(in.Price))
		if err != nil {
			errs = append(errs, "Price must be a number")
		} else if p.IsNegative() {
			errs = append(errs, "Price must not be negative")
		}
		price = p
	}

	if len(errs) > 0 {
		return Product{}, errs
	}

	return Product{
		Name:  strings.TrimSpace(in.Name),
		Price: price,
		Image: in.Image,
	}, nil
}
