package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"bizledger/internal/apperrors"
	"bizledger/internal/common"
	"bizledger/internal/models"
	"bizledger/internal/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// InvoiceHandlers handles HTTP requests for invoices
type InvoiceHandlers struct {
	invoiceService services.InvoiceServiceInterface
	logger         *zap.Logger
}

// NewInvoiceHandlers creates a new invoice handlers instance
func NewInvoiceHandlers(invoiceService services.InvoiceServiceInterface, logger *zap.Logger) *InvoiceHandlers {
	return &InvoiceHandlers{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// CreateInvoice handles POST /invoices
func (h *InvoiceHandlers) CreateInvoice(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateInvoiceRequest
	if err := bindAndValidate(c, &req); err != nil {
		return common.SendAppError(c, err)
	}
	params, assignmentIDs, err := req.toParams()
	if err != nil {
		return common.SendAppError(c, err)
	}

	var inv *models.Invoice
	if len(assignmentIDs) > 0 {
		inv, err = h.invoiceService.CreateInvoiceFromAssignments(ctx, params, assignmentIDs)
	} else {
		inv, err = h.invoiceService.CreateInvoice(ctx, params)
	}
	if err != nil {
		return respondError(c, h.logger, "create invoice", err)
	}
	return c.JSON(http.StatusCreated, newInvoiceResponse(inv, h.invoiceService.Now()))
}

// ListInvoices handles GET /invoices
func (h *InvoiceHandlers) ListInvoices(c echo.Context) error {
	ctx := c.Request().Context()

	limit, offset, err := common.ValidatePaginationParams(c.QueryParam("limit"), c.QueryParam("offset"))
	if err != nil {
		return common.SendAppError(c, err)
	}
	filter := models.InvoiceFilter{Limit: limit, Offset: offset}

	if filter.ClientID, err = common.OptionalQueryUUID(c, "client_id"); err != nil {
		return common.SendAppError(c, err)
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.InvoiceStatus(raw)
		if !status.Valid() {
			return common.SendValidationError(c, "status", "must be one of: draft, sent, partially_paid, paid, overdue, cancelled")
		}
		filter.Status = &status
	}
	if overdue, _ := strconv.ParseBool(c.QueryParam("overdue")); overdue {
		status := models.InvoiceStatusOverdue
		filter.Status = &status
	}
	if filter.IssuedFrom, err = common.ParseDate(c.QueryParam("issued_from"), "issued_from"); err != nil {
		return common.SendAppError(c, err)
	}
	if filter.IssuedTo, err = common.ParseDate(c.QueryParam("issued_to"), "issued_to"); err != nil {
		return common.SendAppError(c, err)
	}

	invoices, err := h.invoiceService.ListInvoices(ctx, filter)
	if err != nil {
		return respondError(c, h.logger, "list invoices", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"invoices": newInvoiceResponses(invoices, h.invoiceService.Now()),
		"limit":    limit,
		"offset":   offset,
	})
}

// GetInvoice handles GET /invoices/:id
func (h *InvoiceHandlers) GetInvoice(c echo.Context) error {
	id, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	inv, err := h.invoiceService.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.logger, "get invoice", err)
	}
	return c.JSON(http.StatusOK, newInvoiceResponse(inv, h.invoiceService.Now()))
}

// UpdateLineItems handles PUT /invoices/:id/line-items
func (h *InvoiceHandlers) UpdateLineItems(c echo.Context) error {
	id, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	var req UpdateLineItemsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return common.SendAppError(c, err)
	}
	update, err := req.toUpdate()
	if err != nil {
		return common.SendAppError(c, err)
	}
	inv, err := h.invoiceService.UpdateLineItems(c.Request().Context(), id, update)
	if err != nil {
		return respondError(c, h.logger, "update line items", err)
	}
	return c.JSON(http.StatusOK, newInvoiceResponse(inv, h.invoiceService.Now()))
}

// SendInvoice handles POST /invoices/:id/send
func (h *InvoiceHandlers) SendInvoice(c echo.Context) error {
	id, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	inv, err := h.invoiceService.SendInvoice(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.logger, "send invoice", err)
	}
	return c.JSON(http.StatusOK, newInvoiceResponse(inv, h.invoiceService.Now()))
}

// CancelInvoice handles POST /invoices/:id/cancel
func (h *InvoiceHandlers) CancelInvoice(c echo.Context) error {
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
	inv, err := h.invoiceService.CancelInvoice(c.Request().Context(), id, req.Reason)
	if err != nil {
		return respondError(c, h.logger, "cancel invoice", err)
	}
	return c.JSON(http.StatusOK, newInvoiceResponse(inv, h.invoiceService.Now()))
}

// DeleteInvoice handles DELETE /invoices/:id
func (h *InvoiceHandlers) DeleteInvoice(c echo.Context) error {
	id, err := common.ParamUUID(c, "id")
	if err != nil {
		return common.SendAppError(c, err)
	}
	if err := h.invoiceService.DeleteInvoice(c.Request().Context(), id); err != nil {
		return respondError(c, h.logger, "delete invoice", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetSummary handles GET /invoices/summary
func (h *InvoiceHandlers) GetSummary(c echo.Context) error {
	summary, err := h.invoiceService.Summary(c.Request().Context())
	if err != nil {
		return respondError(c, h.logger, "load invoice summary", err)
	}
	return c.JSON(http.StatusOK, summary)
}

// bindAndValidate decodes the body into req and runs its validate tags.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		if appErr, ok := apperrors.As(err); ok {
			return appErr
		}
		return common.ValidationError("body", "invalid request format")
	}
	return c.Validate(req)
}

// respondError logs err and writes the error envelope.
func respondError(c echo.Context, logger *zap.Logger, op string, err error) error {
	appErr, ok := apperrors.As(err)
	switch {
	case !ok || appErr.Kind == apperrors.KindInternal:
		logger.Error("request failed", zap.String("op", op), zap.Error(err))
	case errors.Is(err, apperrors.ErrConflict):
		logger.Warn("request conflicted", zap.String("op", op), zap.Error(err))
	default:
		logger.Debug("request rejected", zap.String("op", op), zap.Error(err))
	}
	return common.SendAppError(c, err)
}
