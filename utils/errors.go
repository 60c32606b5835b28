package utils

import (
	"context"
	"errors"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func CreateAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details string) *APIError {
	return &APIError{Code: e.Code, Message: e.Message, Details: details}
}

var (
	ErrInvalidRequest     = CreateAPIError(http.StatusBadRequest, "Invalid request")
	ErrUnauthorized       = CreateAPIError(http.StatusUnauthorized, "Unauthorized")
	ErrForbidden          = CreateAPIError(http.StatusForbidden, "Forbidden")
	ErrNotFound           = CreateAPIError(http.StatusNotFound, "Resource not found")
	ErrConflict           = CreateAPIError(http.StatusConflict, "Resource conflict")
	ErrTooManyRequests    = CreateAPIError(http.StatusTooManyRequests, "Too many requests")
	ErrInternalServer     = CreateAPIError(http.StatusInternalServerError, "Internal server error")
	ErrServiceUnavailable = CreateAPIError(http.StatusServiceUnavailable, "Service unavailable")
)

var (
	ErrMalformedQR          = CreateAPIError(http.StatusBadRequest, "Malformed receipt QR code")
	ErrRequestNotFound      = CreateAPIError(http.StatusNotFound, "Verification request not found")
	ErrAwardNotFound        = CreateAPIError(http.StatusNotFound, "Cashback award not found")
	ErrAlreadyCanceled      = CreateAPIError(http.StatusConflict, "Cashback award already canceled")
	ErrInsufficientBalance  = CreateAPIError(http.StatusUnprocessableEntity, "Customer balance is lower than the award amount")
	ErrTenantRequired       = CreateAPIError(http.StatusUnauthorized, "Tenant context required")
	ErrAdminRequired        = CreateAPIError(http.StatusForbidden, "Administrator role required")
	ErrRateLimitExceeded    = CreateAPIError(http.StatusTooManyRequests, "Rate limit exceeded")
	ErrInvalidToken         = CreateAPIError(http.StatusUnauthorized, "Invalid token")
	ErrDatabaseTransaction  = CreateAPIError(http.StatusInternalServerError, "Database transaction failed")
	ErrWebhookDeliveryFails = CreateAPIError(http.StatusBadGateway, "Webhook delivery failed")
)

func GetHTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}
