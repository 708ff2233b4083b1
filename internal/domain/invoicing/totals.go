package invoicing

import "github.com/shopspring/decimal"

// Totals are the computed monetary amounts of an invoice
type Totals struct {
	Base        decimal.Decimal
	Tax         decimal.Decimal
	Withholding decimal.Decimal
	Surcharge   decimal.Decimal
	Total       decimal.Decimal
}

// CalculateTotals derives invoice totals from its lines.
// withholdingRate and surchargeRate are percentages applied to the base.
func CalculateTotals(items []Item, withholdingRate, surchargeRate decimal.Decimal) Totals {
	base := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		base = base.Add(item.Subtotal())
		tax = tax.Add(item.Tax())
	}

	withholding := RoundMoney(base.Mul(withholdingRate).Div(hundred))
	surcharge := RoundMoney(base.Mul(surchargeRate).Div(hundred))

	return Totals{
		Base:        RoundMoney(base),
		Tax:         RoundMoney(tax),
		Withholding: withholding,
		Surcharge:   surcharge,
		Total:       RoundMoney(base.Add(tax).Sub(withholding).Add(surcharge)),
	}
}
