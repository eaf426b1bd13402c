// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mbp-platform/envmodel/internal/editor"
	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/session"
)

// ShowErrorDetails controls whether unexpected errors expose their text.
var ShowErrorDetails = true

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// NewGatewayError carries a backend failure to the client with the
// backend's status and message.
func NewGatewayError(err error) *APIError {
	status := gateway.StatusCode(err)
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &APIError{
		Status:  status,
		Code:    "GATEWAY_ERROR",
		Message: gateway.Message(err),
	}
}

// toAPIError maps domain errors onto API errors.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	var gwErr *gateway.Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, lifecycle.ErrOperationInProgress):
		return NewConflictError(err.Error())
	case errors.Is(err, session.ErrTooManySessions):
		return NewServiceUnavailableError(err.Error())
	case errors.Is(err, graph.ErrNodeNotFound), errors.Is(err, graph.ErrConnectionNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, editor.ErrUnknownPaletteItem):
		return NewBadRequestError(err.Error(), nil)
	case errors.Is(err, editor.ErrNotFocused), errors.Is(err, editor.ErrNotRotatable), errors.Is(err, editor.ErrNoGesture):
		return NewConflictError(err.Error())
	case errors.As(err, &gwErr):
		return NewGatewayError(err)
	}
	return nil
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	apiErr := toAPIError(err)
	if apiErr == nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			apiErr = &APIError{
				Status:  he.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", he.Message),
			}
		} else {
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
			}
			if ShowErrorDetails {
				apiErr.Details = err.Error()
			}
		}
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
