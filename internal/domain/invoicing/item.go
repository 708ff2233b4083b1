package invoicing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Item is one invoice line. Monetary results are derived, never stored as inputs.
type Item struct {
	Description  string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	TaxRate      decimal.Decimal // percent
	DiscountRate decimal.Decimal // percent
}

// Gross is quantity times unit price
func (i Item) Gross() decimal.Decimal {
	return i.UnitPrice.Mul(i.Quantity)
}

// Discount is the rounded discount amount on the gross line value
func (i Item) Discount() decimal.Decimal {
	return RoundMoney(i.Gross().Mul(i.DiscountRate).Div(hundred))
}

// Subtotal is gross minus discount
func (i Item) Subtotal() decimal.Decimal {
	return RoundMoney(i.Gross().Sub(i.Discount()))
}

// Tax is the VAT amount on the subtotal
func (i Item) Tax() decimal.Decimal {
	return RoundMoney(i.Subtotal().Mul(i.TaxRate).Div(hundred))
}

// Total is subtotal plus tax
func (i Item) Total() decimal.Decimal {
	return i.Subtotal().Add(i.Tax())
}

// RoundMoney rounds to two decimals, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
