package common

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bizledger/internal/apperrors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// ErrorResponse represents the standardized error envelope
type ErrorResponse struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// CreateErrorResponse creates a standardized error response
func CreateErrorResponse(code string, message string, details map[string]interface{}) *ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	return &resp
}

// SendAppError writes err using the status and code of its ledger kind.
// Anything that is not a ledger error, and internal errors, are reported
// without their cause.
func SendAppError(c echo.Context, err error) error {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind == apperrors.KindInternal {
		return c.JSON(http.StatusInternalServerError,
			CreateErrorResponse(string(apperrors.KindInternal), "internal error", nil))
	}
	return c.JSON(appErr.StatusCode(), CreateErrorResponse(string(appErr.Kind), appErr.Message, appErr.Details))
}

// SendValidationError sends a validation error response for one field
func SendValidationError(c echo.Context, field, message string) error {
	return SendAppError(c, ValidationError(field, message))
}

// SendUnauthorizedError sends an unauthorized error response
func SendUnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, CreateErrorResponse("UNAUTHORIZED", "Unauthorized access", nil))
}

// ValidationError builds a VALIDATION_ERROR naming field.
func ValidationError(field, message string) *apperrors.Error {
	return apperrors.New(apperrors.KindValidation, "Validation failed").
		WithDetails(map[string]interface{}{field: message})
}

// ValidateUUID parses a UUID, trimming surrounding whitespace.
func ValidateUUID(idStr string, fieldName string) (uuid.UUID, error) {
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		return uuid.Nil, ValidationError(fieldName, "is required")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, ValidationError(fieldName, "must be a valid UUID")
	}
	return id, nil
}

// ParamUUID reads a UUID path parameter.
func ParamUUID(c echo.Context, name string) (uuid.UUID, error) {
	return ValidateUUID(c.Param(name), name)
}

// OptionalQueryUUID reads a UUID query parameter. Empty means nil.
func OptionalQueryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := ValidateUUID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ValidatePaginationParams reads limit and offset query values. Missing or
// non-positive limits fall back to DefaultLimit; limits above MaxLimit are capped.
func ValidatePaginationParams(limitStr, offsetStr string) (int, int, error) {
	limit, offset := DefaultLimit, 0
	if limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, ValidationError("limit", "must be an integer")
		}
		if v > 0 {
			limit = v
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, ValidationError("offset", "must be an integer")
		}
		if v < 0 {
			return 0, 0, ValidationError("offset", "cannot be negative")
		}
		offset = v
	}
	return limit, offset, nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339. Empty means nil.
func ParseDate(value, fieldName string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if date, err := time.Parse("2006-01-02", value); err == nil {
		return &date, nil
	}
	date, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, ValidationError(fieldName, "must be in YYYY-MM-DD or RFC 3339 format")
	}
	return &date, nil
}

// ValidateDateRange checks that end is not before start
func ValidateDateRange(startDate, endDate time.Time) error {
	if endDate.Before(startDate) {
		return apperrors.New(apperrors.KindInvalidDateRange,
			fmt.Sprintf("end date %s is before start date %s", endDate.Format("2006-01-02"), startDate.Format("2006-01-02")))
	}
	return nil
}

// SafeString safely handles string pointer operations
func SafeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
