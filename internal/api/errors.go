package api

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorEnvelope is the wire shape of every error response.
type ErrorEnvelope struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(message, details string) *APIError {
	return NewAPIError(http.StatusNotFound, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

// HTTPErrorHandler is a custom error handler for Echo. It maps the domain
// error taxonomy onto status codes: validation 400, not found 404, conflict
// 409, transient backend failure 503.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	apiErr := translateError(err)

	// Don't expose internal errors in production
	if apiErr.Code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(apiErr.Code, ErrorEnvelope{Error: apiErr}); err != nil {
		c.Logger().Error(err)
	}
}

func translateError(err error) *APIError {
	switch e := err.(type) {
	case *APIError:
		return e
	case *echo.HTTPError:
		return &APIError{
			Code:    e.Code,
			Message: getHTTPMessage(e.Code),
			Details: fmt.Sprintf("%v", e.Message),
		}
	case validator.ValidationErrors:
		return &APIError{
			Code:    http.StatusBadRequest,
			Message: "Validation failed",
			Details: e.Error(),
		}
	}

	switch {
	case errs.IsValidation(err):
		return BadRequestError("Invalid input", err.Error())
	case errs.IsNotFound(err):
		return NotFoundError("Resource not found", err.Error())
	case errs.IsConflict(err):
		return ConflictError("Conflict", err.Error())
	case errs.IsTransient(err):
		return NewAPIError(http.StatusServiceUnavailable, "Backend unavailable", err.Error())
	}

	return &APIError{
		Code:    http.StatusInternalServerError,
		Message: "Internal server error",
		Details: err.Error(),
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:          "Bad request",
		http.StatusUnauthorized:        "Unauthorized",
		http.StatusForbidden:           "Forbidden",
		http.StatusNotFound:            "Resource not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
		http.StatusConflict:            "Conflict",
		http.StatusUnprocessableEntity: "Unprocessable entity",
		http.StatusTooManyRequests:     "Too many requests",
		http.StatusInternalServerError: "Internal server error",
		http.StatusServiceUnavailable:  "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
