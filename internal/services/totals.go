package services

import (
	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/shopspring/decimal"
)

var maxRate = decimal.NewFromInt(100)

// Totals are the computed amounts of an invoice.
type Totals struct {
	Subtotal       money.Money
	TaxAmount      money.Money
	DiscountAmount money.Money
	Total          money.Money
}

// ValidateRate checks that a percentage lies in [0, 100].
func ValidateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return apperrors.Newf(apperrors.KindInvalidRate, "%s must be between 0 and 100, got %s", name, rate.String())
	}
	return nil
}

// ComputeTotals sums the line items and applies tax and discount to the subtotal.
// Tax and discount are each rounded to the minor unit; total is clamped at zero.
func ComputeTotals(currency string, items []models.LineItem, taxRate, discountRate decimal.Decimal) (Totals, error) {
	if err := ValidateRate("tax rate", taxRate); err != nil {
		return Totals{}, err
	}
	if err := ValidateRate("discount rate", discountRate); err != nil {
		return Totals{}, err
	}

	subtotal := money.Zero(currency)
	for _, item := range items {
		if item.UnitPrice.IsNegative() {
			return Totals{}, apperrors.Newf(apperrors.KindInvalidAmount, "line item %s has a negative price", item.ID)
		}
		var err error
		if subtotal, err = subtotal.Add(item.UnitPrice); err != nil {
			return Totals{}, err
		}
	}

	tax, err := subtotal.PercentOf(taxRate)
	if err != nil {
		return Totals{}, err
	}
	discount, err := subtotal.PercentOf(discountRate)
	if err != nil {
		return Totals{}, err
	}

	total, err := subtotal.Add(tax)
	if err != nil {
		return Totals{}, err
	}
	if total, err = total.Sub(discount); err != nil {
		return Totals{}, err
	}

	return Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		Total:          total.ClampZero(),
	}, nil
}

func applyTotals(inv *models.Invoice, t Totals) {
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.DiscountAmount = t.DiscountAmount
	inv.Total = t.Total
}
