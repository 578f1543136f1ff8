package models

import (
	"bizledger/internal/money"

	"github.com/google/uuid"
)

// LineItem is one priced service assignment. Price overrides are resolved upstream.
type LineItem struct {
	ID          uuid.UUID   `json:"id"`
	Description string      `json:"description"`
	UnitPrice   money.Money `json:"unit_price"`
}
