// Package exchange places spot market orders and reports their fills.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal reports whether the order can no longer fill further.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

type Order struct {
	Asset         string
	Side          Side
	Quantity      decimal.Decimal
	ClientOrderID string
}

type OrderHandle struct {
	Asset         string
	Side          Side
	OrderID       string
	ClientOrderID string
}

type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type OrderStatus struct {
	Status Status
	Fills  []Fill
}

// FilledQuantity sums the fill quantities.
func (s OrderStatus) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, f := range s.Fills {
		total = total.Add(f.Quantity)
	}
	return total
}

// AveragePrice is the quantity-weighted price of all fills. ok is false
// when nothing filled.
func (s OrderStatus) AveragePrice() (price decimal.Decimal, ok bool) {
	qty := s.FilledQuantity()
	if qty.IsZero() {
		return decimal.Zero, false
	}
	return s.Notional().Div(qty), true
}

// Notional is the quote value of all fills.
func (s OrderStatus) Notional() decimal.Decimal {
	notional := decimal.Zero
	for _, f := range s.Fills {
		notional = notional.Add(f.Price.Mul(f.Quantity))
	}
	return notional
}

type Client interface {
	PlaceMarketOrder(ctx context.Context, order Order) (OrderHandle, error)
	OrderStatus(ctx context.Context, handle OrderHandle) (OrderStatus, error)
}
