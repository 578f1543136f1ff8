package models

import (
	"time"

	"bizledger/internal/money"
)

// InvoiceSummary backs the billing dashboard. Revenue figures are sums of
// non-voided payments; StatusCounts uses effective (overdue-aware) statuses.
type InvoiceSummary struct {
	StatusCounts   map[InvoiceStatus]int `json:"status_counts"`
	Outstanding    money.Money           `json:"outstanding"`
	TotalRevenue   money.Money           `json:"total_revenue"`
	MonthlyRevenue money.Money           `json:"monthly_revenue"`
	GeneratedAt    time.Time             `json:"generated_at"`
}
