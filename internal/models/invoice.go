package models

import (
	"time"

	"bizledger/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status accepts no further payments.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// Invoice is one bill issued to one client. Amounts share the invoice currency.
type Invoice struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Number         string          `json:"number" db:"number"`
	ClientID       uuid.UUID       `json:"client_id" db:"client_id"`
	LineItemIDs    []uuid.UUID     `json:"line_item_ids" db:"line_item_ids"`
	Currency       string          `json:"currency" db:"currency"`
	IssueDate      time.Time       `json:"issue_date" db:"issue_date"`
	DueDate        time.Time       `json:"due_date" db:"due_date"`
	Subtotal       money.Money     `json:"subtotal" db:"subtotal_minor"`
	TaxRate        decimal.Decimal `json:"tax_rate" db:"tax_rate"`
	DiscountRate   decimal.Decimal `json:"discount_rate" db:"discount_rate"`
	TaxAmount      money.Money     `json:"tax_amount" db:"tax_minor"`
	DiscountAmount money.Money     `json:"discount_amount" db:"discount_minor"`
	Total          money.Money     `json:"total" db:"total_minor"`
	PaidAmount     money.Money     `json:"paid_amount" db:"paid_minor"`
	Status         InvoiceStatus   `json:"status" db:"status"`
	Notes          *string         `json:"notes,omitempty" db:"notes"`
	SentAt         *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	Version        int64           `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining is total minus paid. Never negative while the balance invariant holds.
func (i *Invoice) Remaining() money.Money {
	remaining, err := i.Total.Sub(i.PaidAmount)
	if err != nil {
		return money.Zero(i.Currency)
	}
	return remaining
}

// IsOverdue reports whether the invoice is past due and still owes money at now.
func (i *Invoice) IsOverdue(now time.Time) bool {
	if i.Status.Terminal() {
		return false
	}
	return i.DueDate.Before(now) && i.PaidAmount.Minor() < i.Total.Minor()
}

// EffectiveStatus is the stored status with the overdue view applied.
func (i *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.IsOverdue(now) {
		return InvoiceStatusOverdue
	}
	return i.Status
}

// Clone returns a deep copy.
func (i *Invoice) Clone() *Invoice {
	cp := *i
	cp.LineItemIDs = append([]uuid.UUID(nil), i.LineItemIDs...)
	cp.Notes = cloneString(i.Notes)
	cp.SentAt = cloneTime(i.SentAt)
	cp.PaidAt = cloneTime(i.PaidAt)
	cp.CancelledAt = cloneTime(i.CancelledAt)
	return &cp
}

// InvoiceFilter narrows invoice listings. OverdueAsOf selects the overdue view.
type InvoiceFilter struct {
	ClientID    *uuid.UUID
	Status      *InvoiceStatus
	IssuedFrom  *time.Time
	IssuedTo    *time.Time
	OverdueAsOf *time.Time
	Limit       int
	Offset      int
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
