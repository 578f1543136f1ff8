package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultInvoicePrefix = "INV"
	DefaultPeriodFormat  = "200601"
	DefaultDueInDays     = 30
)

// DefaultTaxRate is the tax percentage applied when a request names none.
var DefaultTaxRate = decimal.RequireFromString("8.5")

// NumberingPolicy is the singleton invoice-numbering record.
type NumberingPolicy struct {
	Prefix         string          `json:"prefix" db:"prefix"`
	NextSequence   int64           `json:"next_sequence" db:"next_sequence"`
	PeriodFormat   string          `json:"period_format" db:"period_format"`
	DueInDays      int             `json:"due_in_days" db:"due_in_days"`
	Currency       string          `json:"currency" db:"currency"`
	DefaultTaxRate decimal.Decimal `json:"default_tax_rate" db:"default_tax_rate"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// DefaultNumberingPolicy is the policy of a fresh installation.
func DefaultNumberingPolicy(currency string) NumberingPolicy {
	return NumberingPolicy{
		Prefix:         DefaultInvoicePrefix,
		NextSequence:   1,
		PeriodFormat:   DefaultPeriodFormat,
		DueInDays:      DefaultDueInDays,
		Currency:       currency,
		DefaultTaxRate: DefaultTaxRate,
	}
}
