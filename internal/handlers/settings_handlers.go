package handlers

import (
	"net/http"

	"bizledger/internal/common"
	"bizledger/internal/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SettingsHandlers exposes the invoice numbering policy
type SettingsHandlers struct {
	settingsService services.SettingsServiceInterface
	logger          *zap.Logger
}

func NewSettingsHandlers(settingsService services.SettingsServiceInterface, logger *zap.Logger) *SettingsHandlers {
	return &SettingsHandlers{settingsService: settingsService, logger: logger}
}

// GetNumberingPolicy handles GET /settings/numbering
func (h *SettingsHandlers) GetNumberingPolicy(c echo.Context) error {
	policy, err := h.settingsService.GetNumberingPolicy(c.Request().Context())
	if err != nil {
		return respondError(c, h.logger, "get numbering policy", err)
	}
	return c.JSON(http.StatusOK, policy)
}

// UpdateNumberingPolicy handles PUT /settings/numbering
func (h *SettingsHandlers) UpdateNumberingPolicy(c echo.Context) error {
	var req UpdateNumberingPolicyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return common.SendAppError(c, err)
	}
	update, err := req.toUpdate()
	if err != nil {
		return common.SendAppError(c, err)
	}
	policy, err := h.settingsService.UpdateNumberingPolicy(c.Request().Context(), update)
	if err != nil {
		return respondError(c, h.logger, "update numbering policy", err)
	}
	h.logger.Info("numbering policy updated",
		zap.String("prefix", policy.Prefix),
		zap.Int64("next_sequence", policy.NextSequence))
	return c.JSON(http.StatusOK, policy)
}
