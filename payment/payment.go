// Package payment talks to the payment-sheet server function and models the
// hosted payment UI that collects the instrument on the device.
package payment

import (
	"context"
	"fmt"
)

// SheetParams is what the hosted sheet needs to collect a payment.
type SheetParams struct {
	PaymentIntent  string `json:"paymentIntent"`
	PublishableKey string `json:"publishableKey"`
	Customer       string `json:"customer,omitempty"`
	EphemeralKey   string `json:"ephemeralKey,omitempty"`
	Amount         int64  `json:"amount"`
}

// Gateway issues payment sheet parameters for an amount in minor units.
type Gateway interface {
	FetchSheetParams(ctx context.Context, amount int64) (*SheetParams, error)
}

// Sheet presents the hosted payment UI. It returns false when the payer
// declines or cancels.
type Sheet interface {
	Present(ctx context.Context, params *SheetParams) (bool, error)
}

// SheetFunc adapts a function to Sheet.
type SheetFunc func(ctx context.Context, params *SheetParams) (bool, error)

func (f SheetFunc) Present(ctx context.Context, params *SheetParams) (bool, error) {
	return f(ctx, params)
}

// Error is a failure reported by the payment-sheet function.
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("payment: %s: %s (status %d)", e.Message, e.Details, e.StatusCode)
	}
	return fmt.Sprintf("payment: %s (status %d)", e.Message, e.StatusCode)
}

type tokenKey struct{}

// WithAccessToken attaches the caller's bearer token so the server function
// can resolve the paying customer.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func accessToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
