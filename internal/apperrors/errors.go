// Package apperrors defines the error kinds returned by the billing ledger.
//
// Every ledger failure is an *Error carrying a Kind. Callers branch on kinds with
// errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperrors.ErrConflict) { /* re-read and retry */ }
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a ledger error.
type Kind string

const (
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindInvalidRate         Kind = "INVALID_RATE"
	KindInvalidDateRange    Kind = "INVALID_DATE_RANGE"
	KindEmptyLineItems      Kind = "EMPTY_LINE_ITEMS"
	KindCurrencyMismatch    Kind = "CURRENCY_MISMATCH"
	KindOverpaymentRejected Kind = "OVERPAYMENT_REJECTED"
	KindInvoiceClosed       Kind = "INVOICE_CLOSED"
	KindInvalidTransition   Kind = "INVALID_TRANSITION"
	KindHasPayments         Kind = "HAS_PAYMENTS"
	KindConflict            Kind = "CONFLICT"
	KindDuplicateRequest    Kind = "DUPLICATE_REQUEST"
	KindNotFound            Kind = "NOT_FOUND"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error is a structured ledger error.
type Error struct {
	Kind    Kind                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// StatusCode maps the kind onto an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidAmount, KindInvalidRate, KindInvalidDateRange, KindEmptyLineItems,
		KindCurrencyMismatch, KindValidation:
		return http.StatusBadRequest
	case KindOverpaymentRejected, KindInvoiceClosed, KindInvalidTransition, KindHasPayments:
		return http.StatusUnprocessableEntity
	case KindConflict, KindDuplicateRequest:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the whole operation unchanged.
// Only conflicts qualify; a duplicate request fails the same way every time.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrInvalidAmount       = New(KindInvalidAmount, "invalid amount")
	ErrInvalidRate         = New(KindInvalidRate, "rate must be between 0 and 100")
	ErrInvalidDateRange    = New(KindInvalidDateRange, "due date precedes issue date")
	ErrEmptyLineItems      = New(KindEmptyLineItems, "invoice needs at least one line item")
	ErrCurrencyMismatch    = New(KindCurrencyMismatch, "currency mismatch")
	ErrOverpaymentRejected = New(KindOverpaymentRejected, "payment exceeds remaining balance")
	ErrInvoiceClosed       = New(KindInvoiceClosed, "invoice is closed")
	ErrInvalidTransition   = New(KindInvalidTransition, "invalid status transition")
	ErrHasPayments         = New(KindHasPayments, "invoice has payments")
	ErrConflict            = New(KindConflict, "concurrent modification, retry the operation")
	ErrDuplicateRequest    = New(KindDuplicateRequest, "request was already submitted")
	ErrNotFound            = New(KindNotFound, "resource not found")
	ErrValidation          = New(KindValidation, "validation failed")
	ErrInternal            = New(KindInternal, "internal error")
)

// NotFound builds a NotFound error naming the resource.
func NotFound(resource string) *Error {
	return Newf(KindNotFound, "%s not found", resource)
}

// Internal wraps an unexpected error.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: "failed to " + op, Cause: cause}
}

// As extracts the ledger error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable ledger error.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
