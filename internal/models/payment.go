package models

import (
	"time"

	"bizledger/internal/money"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCash          PaymentMethod = "cash"
	PaymentMethodCreditCard    PaymentMethod = "credit_card"
	PaymentMethodDebitCard     PaymentMethod = "debit_card"
	PaymentMethodBankTransfer  PaymentMethod = "bank_transfer"
	PaymentMethodCheck         PaymentMethod = "check"
	PaymentMethodDigitalWallet PaymentMethod = "digital_wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodDebitCard,
		PaymentMethodBankTransfer, PaymentMethodCheck, PaymentMethodDigitalWallet:
		return true
	}
	return false
}

// Payment is one payment event against an invoice. Only the void fields ever change.
type Payment struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	InvoiceID   uuid.UUID     `json:"invoice_id" db:"invoice_id"`
	ClientID    uuid.UUID     `json:"client_id" db:"client_id"`
	Amount      money.Money   `json:"amount" db:"amount_minor"`
	Method      PaymentMethod `json:"method" db:"method"`
	PaymentDate time.Time     `json:"payment_date" db:"payment_date"`
	Reference   *string       `json:"reference,omitempty" db:"reference"`
	Notes       *string       `json:"notes,omitempty" db:"notes"`
	Voided      bool          `json:"voided" db:"voided"`
	VoidedAt    *time.Time    `json:"voided_at,omitempty" db:"voided_at"`
	VoidReason  *string       `json:"void_reason,omitempty" db:"void_reason"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

func (p *Payment) Clone() *Payment {
	cp := *p
	cp.Reference = cloneString(p.Reference)
	cp.Notes = cloneString(p.Notes)
	cp.VoidedAt = cloneTime(p.VoidedAt)
	cp.VoidReason = cloneString(p.VoidReason)
	return &cp
}

type PaymentFilter struct {
	InvoiceID     *uuid.UUID
	ClientID      *uuid.UUID
	IncludeVoided bool
	Limit         int
	Offset        int
}
