package handlers

import (
	"net/http"
	"strconv"

	"bizledger/internal/common"
	"bizledger/internal/models"
	"bizledger/internal/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader lets clients retry POST /payments safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// PaymentHandlers handles HTTP requests for payments and client balances
type PaymentHandlers struct {
	paymentService services.PaymentServiceInterface
	invoiceService services.InvoiceServiceInterface
	logger         *zap.Logger
}

// NewPaymentHandlers creates a new payment handlers instance
func NewPaymentHandlers(paymentService services.PaymentServiceInterface, invoiceService services.InvoiceServiceInterface, logger *zap.Logger) *PaymentHandlers {
	return &PaymentHandlers{
		paymentService: paymentService,
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// ApplyPayment handles POST /payments
func (h *PaymentHandlers) ApplyPayment(c echo.Context) error {
	var req ApplyPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return common.SendAppError(c, err)
	}
	applyReq, err := req.toRequest(c.Request().Header.Get(IdempotencyKeyHeader))
	if err != nil {
		return common.SendAppError(c, err)
	}

	payment, inv, err := h.paymentService.ApplyPayment(c.Request().Context(), applyReq)
	if err != nil {
		return respondError(c, h.logger, "apply payment", err)
	}
	return c.JSON(http.StatusCreated, PaymentResponse{
		Payment: payment,
		Invoice: newInvoiceResponse(inv, h.invoiceService.Now()),
	})
}

// VoidPayment handles POST /payments/:id/void
func (h *PaymentHandlers) VoidPayment(c echo.Context) error {
	id, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	var req ReasonRequest
	if c.Request().ContentLength != 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return common.SendAppError(c, err)
		}
	}

	payment, inv, err := h.paymentService.VoidPayment(c.Request().Context(), id, req.Reason)
	if err != nil {
		return respondError(c, h.logger, "void payment", err)
	}
	return c.JSON(http.StatusOK, PaymentResponse{
		Payment: payment,
		Invoice: newInvoiceResponse(inv, h.invoiceService.Now()),
	})
}

// GetPayment handles GET /payments/:id
func (h *PaymentHandlers) GetPayment(c echo.Context) error {
	id, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	payment, err := h.paymentService.GetPayment(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.logger, "get payment", err)
	}
	return c.JSON(http.StatusOK, payment)
}

// ListPayments handles GET /payments
func (h *PaymentHandlers) ListPayments(c echo.Context) error {
	limit, offset, err := common.ValidatePaginationParams(c.QueryParam("limit"), c.QueryParam("offset"))
	if err != nil {
		return common.SendAppError(c, err)
	}
	filter := models.PaymentFilter{Limit: limit, Offset: offset}
	if filter.InvoiceID, err = common.OptionalQueryUUID(c, "invoice_id"); err != nil {
		return common.SendAppError(c, err)
	}
	if filter.ClientID, err = common.OptionalQueryUUID(c, "client_id"); err != nil {
		return common.SendAppError(c, err)
	}
	filter.IncludeVoided, _ = strconv.ParseBool(c.QueryParam("include_voided"))

	payments, err := h.paymentService.ListPayments(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, h.logger, "list payments", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"payments": payments,
		"limit":    limit,
		"offset":   offset,
	})
}

// ClientTotalSpent handles GET /clients/:id/total-spent
func (h *PaymentHandlers) ClientTotalSpent(c echo.Context) error {
	clientID, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	total, err := h.paymentService.ClientTotalSpent(c.Request().Context(), clientID)
	if err != nil {
		return respondError(c, h.logger, "sum client payments", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"client_id":   clientID,
		"total_spent": total,
	})
}
