package repositories

import (
	"context"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// InvoiceBuilder receives the locked numbering policy and returns the invoice to
// insert together with the advanced policy.
type InvoiceBuilder func(policy models.NumberingPolicy) (*models.Invoice, models.NumberingPolicy, error)

// LedgerStore persists invoices, payments and the numbering policy.
//
// Every callback runs while the store holds the invoice (or counter) lock and
// receives a private copy. Returning an error aborts the whole unit and nothing is
// written. RecordPayment and VoidPayment are the only ways to write a payment, so a
// payment row can never be stored without its invoice update.
type LedgerStore interface {
	CreateInvoice(ctx context.Context, build InvoiceBuilder) (*models.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error)
	MutateInvoice(ctx context.Context, id uuid.UUID, fn func(inv *models.Invoice) error) (*models.Invoice, error)
	DeleteInvoice(ctx context.Context, id uuid.UUID) error

	RecordPayment(ctx context.Context, invoiceID uuid.UUID, fn func(inv *models.Invoice) (*models.Payment, error)) (*models.Payment, *models.Invoice, error)
	VoidPayment(ctx context.Context, paymentID uuid.UUID, fn func(inv *models.Invoice, p *models.Payment) error) (*models.Payment, *models.Invoice, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]*models.Payment, error)
	SumClientPayments(ctx context.Context, clientID uuid.UUID, currency string) (money.Money, error)
	SumPayments(ctx context.Context, currency string, from, to *time.Time) (money.Money, error)

	SummarizeInvoices(ctx context.Context, asOf time.Time, currency string) (InvoiceStats, error)

	GetNumberingPolicy(ctx context.Context) (models.NumberingPolicy, error)
	UpdateNumberingPolicy(ctx context.Context, fn func(policy models.NumberingPolicy) (models.NumberingPolicy, error)) (models.NumberingPolicy, error)

	Ping(ctx context.Context) error
}

// InvoiceStats are the aggregate figures behind the dashboard. Counts are keyed
// by effective status, so overdue invoices are counted once, as overdue.
type InvoiceStats struct {
	StatusCounts map[models.InvoiceStatus]int
	Outstanding  money.Money
}

func normalizeLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// checkInvoice guards the stored invariants. A violation is a bug in the
// caller, so it surfaces as an internal error.
func checkInvoice(inv *models.Invoice) error {
	switch {
	case inv == nil:
		return apperrors.New(apperrors.KindInternal, "nil invoice")
	case inv.Status == models.InvoiceStatusOverdue || !inv.Status.Valid():
		return apperrors.Newf(apperrors.KindInternal, "invoice status %q cannot be stored", inv.Status)
	case inv.DueDate.Before(inv.IssueDate):
		return apperrors.ErrInvalidDateRange
	case inv.Total.IsNegative():
		return apperrors.Newf(apperrors.KindInternal, "invoice %s total is negative", inv.Number)
	case inv.PaidAmount.IsNegative() || inv.PaidAmount.Minor() > inv.Total.Minor():
		return apperrors.Newf(apperrors.KindInternal, "invoice %s paid %s outside [0, %s]", inv.Number, inv.PaidAmount, inv.Total)
	case inv.Total.Currency() != inv.Currency || inv.PaidAmount.Currency() != inv.Currency:
		return apperrors.ErrCurrencyMismatch
	}
	return checkTotals(inv)
}

// checkTotals enforces total = max(0, subtotal + tax - discount).
func checkTotals(inv *models.Invoice) error {
	if inv.Subtotal.IsNegative() || inv.TaxAmount.IsNegative() || inv.DiscountAmount.IsNegative() {
		return apperrors.Newf(apperrors.KindInternal, "invoice %s has a negative subtotal, tax or discount", inv.Number)
	}
	want, err := money.Sum(inv.Currency, inv.Subtotal, inv.TaxAmount)
	if err == nil {
		want, err = want.Sub(inv.DiscountAmount)
	}
	if err != nil {
		return apperrors.Internal("check invoice totals", err)
	}
	if !want.ClampZero().Equal(inv.Total) {
		return apperrors.Newf(apperrors.KindInternal, "invoice %s total %s does not match its components", inv.Number, inv.Total.StringFixed()).
			WithDetails(map[string]interface{}{"expected": want.ClampZero().StringFixed()})
	}
	return nil
}
