package services

import (
	"strings"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// invoiceTransitions lists the explicit transitions. Paid and PartiallyPaid are
// reached only through payments; overdue is never stored.
var invoiceTransitions = map[models.InvoiceStatus][]models.InvoiceStatus{
	models.InvoiceStatusDraft:         {models.InvoiceStatusSent, models.InvoiceStatusCancelled},
	models.InvoiceStatusSent:          {models.InvoiceStatusCancelled},
	models.InvoiceStatusPartiallyPaid: {models.InvoiceStatusCancelled},
	models.InvoiceStatusPaid:          {},
	models.InvoiceStatusCancelled:     {},
}

func canTransition(from, to models.InvoiceStatus) bool {
	for _, status := range invoiceTransitions[from] {
		if status == to {
			return true
		}
	}
	return false
}

func transitionError(from, to models.InvoiceStatus) error {
	return apperrors.Newf(apperrors.KindInvalidTransition, "cannot move invoice from %s to %s", from, to).
		WithDetails(map[string]interface{}{"from": from, "to": to})
}

// DeriveStatus computes the status implied by the invoice's paid amount.
// Cancelled is sticky.
func DeriveStatus(inv *models.Invoice) models.InvoiceStatus {
	switch {
	case inv.Status == models.InvoiceStatusCancelled:
		return models.InvoiceStatusCancelled
	case inv.Total.IsPositive() && inv.PaidAmount.Minor() >= inv.Total.Minor():
		return models.InvoiceStatusPaid
	case inv.PaidAmount.IsPositive():
		return models.InvoiceStatusPartiallyPaid
	case inv.SentAt != nil:
		return models.InvoiceStatusSent
	default:
		return models.InvoiceStatusDraft
	}
}

func setDerivedStatus(inv *models.Invoice, now time.Time) {
	inv.Status = DeriveStatus(inv)
	if inv.Status == models.InvoiceStatusPaid {
		if inv.PaidAt == nil {
			inv.PaidAt = &now
		}
	} else {
		inv.PaidAt = nil
	}
}

// NewInvoiceParams are the caller-supplied inputs for a new invoice. Nil rates
// and due-in-days fall back to the numbering policy.
type NewInvoiceParams struct {
	ClientID     uuid.UUID
	LineItems    []models.LineItem
	TaxRate      *decimal.Decimal
	DiscountRate *decimal.Decimal
	IssueDate    time.Time
	DueInDays    *int
	Notes        *string
}

// BuildInvoice assembles a Draft invoice against policy and allocates its
// number. It runs inside the store's create transaction.
func BuildInvoice(params NewInvoiceParams, policy models.NumberingPolicy, now time.Time) (*models.Invoice, models.NumberingPolicy, error) {
	if len(params.LineItems) == 0 {
		return nil, policy, apperrors.ErrEmptyLineItems
	}
	if params.ClientID == uuid.Nil {
		return nil, policy, apperrors.New(apperrors.KindValidation, "client id is required")
	}

	dueInDays := policy.DueInDays
	if params.DueInDays != nil {
		dueInDays = *params.DueInDays
	}
	if dueInDays < 0 {
		return nil, policy, apperrors.Newf(apperrors.KindInvalidDateRange, "due date cannot precede issue date (due in %d days)", dueInDays)
	}

	taxRate := policy.DefaultTaxRate
	if params.TaxRate != nil {
		taxRate = *params.TaxRate
	}
	discountRate := decimal.Zero
	if params.DiscountRate != nil {
		discountRate = *params.DiscountRate
	}

	totals, err := ComputeTotals(policy.Currency, params.LineItems, taxRate, discountRate)
	if err != nil {
		return nil, policy, err
	}

	issueDate := params.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}
	number, next, err := AllocateInvoiceNumber(policy, issueDate)
	if err != nil {
		return nil, policy, err
	}

	inv := &models.Invoice{
		ID:           uuid.New(),
		Number:       number,
		ClientID:     params.ClientID,
		LineItemIDs:  lineItemIDs(params.LineItems),
		Currency:     policy.Currency,
		IssueDate:    issueDate,
		DueDate:      issueDate.AddDate(0, 0, dueInDays),
		TaxRate:      taxRate,
		DiscountRate: discountRate,
		PaidAmount:   money.Zero(policy.Currency),
		Status:       models.InvoiceStatusDraft,
		Notes:        params.Notes,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	applyTotals(inv, totals)
	return inv, next, nil
}

func lineItemIDs(items []models.LineItem) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// sendInvoice moves a Draft to Sent.
func sendInvoice(inv *models.Invoice, now time.Time) error {
	if !canTransition(inv.Status, models.InvoiceStatusSent) {
		return transitionError(inv.Status, models.InvoiceStatusSent)
	}
	inv.SentAt = &now
	inv.Status = DeriveStatus(inv)
	touch(inv, now)
	return nil
}

func cancelInvoice(inv *models.Invoice, reason string, now time.Time) error {
	if !canTransition(inv.Status, models.InvoiceStatusCancelled) {
		return transitionError(inv.Status, models.InvoiceStatusCancelled)
	}
	inv.Status = models.InvoiceStatusCancelled
	inv.CancelledAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		note := "Cancelled: " + reason
		if inv.Notes != nil && *inv.Notes != "" {
			note = *inv.Notes + "\n" + note
		}
		inv.Notes = &note
	}
	touch(inv, now)
	return nil
}

// replaceLineItems swaps the items of a Draft and recomputes its totals.
func replaceLineItems(inv *models.Invoice, items []models.LineItem, taxRate, discountRate *decimal.Decimal, now time.Time) error {
	if inv.Status != models.InvoiceStatusDraft {
		return apperrors.Newf(apperrors.KindInvalidTransition, "line items can only change while draft, invoice is %s", inv.Status)
	}
	if len(items) == 0 {
		return apperrors.ErrEmptyLineItems
	}
	tax, discount := inv.TaxRate, inv.DiscountRate
	if taxRate != nil {
		tax = *taxRate
	}
	if discountRate != nil {
		discount = *discountRate
	}
	totals, err := ComputeTotals(inv.Currency, items, tax, discount)
	if err != nil {
		return err
	}
	inv.LineItemIDs = lineItemIDs(items)
	inv.TaxRate = tax
	inv.DiscountRate = discount
	applyTotals(inv, totals)
	touch(inv, now)
	return nil
}

func touch(inv *models.Invoice, now time.Time) {
	inv.UpdatedAt = now
}
