package handlers

import (
	"fmt"
	"strings"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/common"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItemRequest is one priced line. A missing id gets a fresh one.
type LineItemRequest struct {
	ID          string      `json:"id" validate:"omitempty,uuid"`
	Description string      `json:"description" validate:"required,max=500"`
	UnitPrice   money.Money `json:"unit_price"`
}

// CreateInvoiceRequest represents the invoice creation payload. Exactly one of
// line_items or assignment_ids is expected.
type CreateInvoiceRequest struct {
	ClientID      string            `json:"client_id" validate:"required,uuid"`
	LineItems     []LineItemRequest `json:"line_items" validate:"omitempty,max=500,dive"`
	AssignmentIDs []string          `json:"assignment_ids" validate:"omitempty,max=500,dive,uuid"`
	TaxRate       *string           `json:"tax_rate" validate:"omitempty,numeric"`
	DiscountRate  *string           `json:"discount_rate" validate:"omitempty,numeric"`
	IssueDate     string            `json:"issue_date"`
	DueInDays     *int              `json:"due_in_days" validate:"omitempty,min=0,max=365"`
	Notes         *string           `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateLineItemsRequest replaces the line items of a draft.
type UpdateLineItemsRequest struct {
	LineItems     []LineItemRequest `json:"line_items" validate:"omitempty,max=500,dive"`
	AssignmentIDs []string          `json:"assignment_ids" validate:"omitempty,max=500,dive,uuid"`
	TaxRate       *string           `json:"tax_rate" validate:"omitempty,numeric"`
	DiscountRate  *string           `json:"discount_rate" validate:"omitempty,numeric"`
}

// ReasonRequest carries the free-text reason of a cancel or void.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ApplyPaymentRequest represents the payment payload.
type ApplyPaymentRequest struct {
	InvoiceID   string      `json:"invoice_id" validate:"required,uuid"`
	Amount      money.Money `json:"amount"`
	Method      string      `json:"method" validate:"required,oneof=cash credit_card debit_card bank_transfer check digital_wallet"`
	PaymentDate string      `json:"payment_date"`
	Reference   *string     `json:"reference" validate:"omitempty,max=255"`
	Notes       *string     `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateNumberingPolicyRequest is a partial update of the numbering settings.
type UpdateNumberingPolicyRequest struct {
	Prefix         *string `json:"prefix" validate:"omitempty,alphanum,max=16"`
	NextSequence   *int64  `json:"next_sequence" validate:"omitempty,min=1"`
	DueInDays      *int    `json:"due_in_days" validate:"omitempty,min=0,max=365"`
	DefaultTaxRate *string `json:"default_tax_rate" validate:"omitempty,numeric"`
	Currency       *string `json:"currency" validate:"omitempty,iso4217"`
}

// InvoiceResponse is an invoice with its derived fields.
type InvoiceResponse struct {
	*models.Invoice
	EffectiveStatus models.InvoiceStatus `json:"effective_status"`
	Remaining       money.Money          `json:"remaining"`
}

func newInvoiceResponse(inv *models.Invoice, now time.Time) InvoiceResponse {
	return InvoiceResponse{
		Invoice:         inv,
		EffectiveStatus: inv.EffectiveStatus(now),
		Remaining:       inv.Remaining(),
	}
}

func newInvoiceResponses(invoices []*models.Invoice, now time.Time) []InvoiceResponse {
	out := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, newInvoiceResponse(inv, now))
	}
	return out
}

// PaymentResponse pairs a payment with the invoice it changed.
type PaymentResponse struct {
	Payment *models.Payment `json:"payment"`
	Invoice InvoiceResponse `json:"invoice"`
}

func (r *CreateInvoiceRequest) toParams() (services.NewInvoiceParams, []uuid.UUID, error) {
	if len(r.LineItems) > 0 && len(r.AssignmentIDs) > 0 {
		return services.NewInvoiceParams{}, nil, common.ValidationError("line_items", "cannot be combined with assignment_ids")
	}
	clientID, err := common.ValidateUUID(r.ClientID, "client_id")
	if err != nil {
		return services.NewInvoiceParams{}, nil, err
	}
	items, err := toLineItems(r.LineItems)
	if err != nil {
		return services.NewInvoiceParams{}, nil, err
	}
	assignmentIDs, err := parseUUIDs(r.AssignmentIDs, "assignment_ids")
	if err != nil {
		return services.NewInvoiceParams{}, nil, err
	}
	taxRate, err := parseRate(r.TaxRate, "tax_rate")
	if err != nil {
		return services.NewInvoiceParams{}, nil, err
	}
	discountRate, err := parseRate(r.DiscountRate, "discount_rate")
	if err != nil {
		return services.NewInvoiceParams{}, nil, err
	}
	issueDate, err := common.ParseDate(r.IssueDate, "issue_date")
	if err != nil {
		return services.NewInvoiceParams{}, nil, err
	}

	params := services.NewInvoiceParams{
		ClientID:     clientID,
		LineItems:    items,
		TaxRate:      taxRate,
		DiscountRate: discountRate,
		DueInDays:    r.DueInDays,
		Notes:        trimmed(r.Notes),
	}
	if issueDate != nil {
		params.IssueDate = *issueDate
	}
	return params, assignmentIDs, nil
}

func (r *UpdateLineItemsRequest) toUpdate() (services.LineItemsUpdate, error) {
	if len(r.LineItems) > 0 && len(r.AssignmentIDs) > 0 {
		return services.LineItemsUpdate{}, common.ValidationError("line_items", "cannot be combined with assignment_ids")
	}
	items, err := toLineItems(r.LineItems)
	if err != nil {
		return services.LineItemsUpdate{}, err
	}
	assignmentIDs, err := parseUUIDs(r.AssignmentIDs, "assignment_ids")
	if err != nil {
		return services.LineItemsUpdate{}, err
	}
	taxRate, err := parseRate(r.TaxRate, "tax_rate")
	if err != nil {
		return services.LineItemsUpdate{}, err
	}
	discountRate, err := parseRate(r.DiscountRate, "discount_rate")
	if err != nil {
		return services.LineItemsUpdate{}, err
	}
	return services.LineItemsUpdate{
		LineItems:     items,
		AssignmentIDs: assignmentIDs,
		TaxRate:       taxRate,
		DiscountRate:  discountRate,
	}, nil
}

func (r *ApplyPaymentRequest) toRequest(idempotencyKey string) (services.ApplyPaymentRequest, error) {
	invoiceID, err := common.ValidateUUID(r.InvoiceID, "invoice_id")
	if err != nil {
		return services.ApplyPaymentRequest{}, err
	}
	if r.Amount.Currency() == "" {
		return services.ApplyPaymentRequest{}, common.ValidationError("amount", "is required")
	}
	paymentDate, err := common.ParseDate(r.PaymentDate, "payment_date")
	if err != nil {
		return services.ApplyPaymentRequest{}, err
	}
	req := services.ApplyPaymentRequest{
		InvoiceID:      invoiceID,
		Amount:         r.Amount,
		Method:         models.PaymentMethod(r.Method),
		Reference:      trimmed(r.Reference),
		Notes:          trimmed(r.Notes),
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
	if paymentDate != nil {
		req.PaymentDate = *paymentDate
	}
	return req, nil
}

func (r *UpdateNumberingPolicyRequest) toUpdate() (services.NumberingPolicyUpdate, error) {
	taxRate, err := parseRate(r.DefaultTaxRate, "default_tax_rate")
	if err != nil {
		return services.NumberingPolicyUpdate{}, err
	}
	update := services.NumberingPolicyUpdate{
		Prefix:         r.Prefix,
		NextSequence:   r.NextSequence,
		DueInDays:      r.DueInDays,
		DefaultTaxRate: taxRate,
	}
	if r.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*r.Currency))
		update.Currency = &currency
	}
	return update, nil
}

func toLineItems(reqs []LineItemRequest) ([]models.LineItem, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	items := make([]models.LineItem, 0, len(reqs))
	for i, req := range reqs {
		field := fmt.Sprintf("line_items[%d]", i)
		if req.UnitPrice.Currency() == "" {
			return nil, common.ValidationError(field+".unit_price", "is required")
		}
		id := uuid.New()
		if req.ID != "" {
			var err error
			if id, err = common.ValidateUUID(req.ID, field+".id"); err != nil {
				return nil, err
			}
		}
		items = append(items, models.LineItem{
			ID:          id,
			Description: strings.TrimSpace(req.Description),
			UnitPrice:   req.UnitPrice,
		})
	}
	return items, nil
}

func parseUUIDs(values []string, field string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(values))
	for i, v := range values {
		id, err := common.ValidateUUID(v, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseRate(value *string, field string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(*value))
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindInvalidRate, "%s must be a decimal percentage", field)
	}
	return &rate, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
