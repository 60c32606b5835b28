package providers

import (
	"errors"
	"fmt"
)

type RegistryErrorCode string

const (
	CodeAuthUnavailable  RegistryErrorCode = "auth_unavailable"
	CodeRateLimited      RegistryErrorCode = "rate_limited"
	CodeIPNotAllowed     RegistryErrorCode = "ip_not_allowed"
	CodeAuthRejected     RegistryErrorCode = "auth_rejected"
	CodeNotFound         RegistryErrorCode = "not_found"
	CodeMalformedRequest RegistryErrorCode = "malformed_request"
	CodeTransport        RegistryErrorCode = "transport_error"
	CodeTimeout          RegistryErrorCode = "timeout"
	CodeUnknown          RegistryErrorCode = "unknown"
)

// RegistryError is the only error type the registry client returns.
// errors.Is matches on Code, so callers compare against the sentinels below.
type RegistryError struct {
	Code    RegistryErrorCode
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("registry %s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("registry %s: %s", e.Code, msg)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func (e *RegistryError) Is(target error) bool {
	t, ok := target.(*RegistryError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrAuthUnavailable  = &RegistryError{Code: CodeAuthUnavailable}
	ErrRateLimited      = &RegistryError{Code: CodeRateLimited}
	ErrIPNotAllowed     = &RegistryError{Code: CodeIPNotAllowed}
	ErrAuthRejected     = &RegistryError{Code: CodeAuthRejected}
	ErrNotFound         = &RegistryError{Code: CodeNotFound}
	ErrMalformedRequest = &RegistryError{Code: CodeMalformedRequest}
	ErrTransport        = &RegistryError{Code: CodeTransport}
	ErrTimeout          = &RegistryError{Code: CodeTimeout}
)

func newRegistryError(code RegistryErrorCode, message string, err error) *RegistryError {
	return &RegistryError{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the registry code from err, or CodeUnknown.
func ErrorCode(err error) RegistryErrorCode {
	var regErr *RegistryError
	if errors.As(err, &regErr) {
		return regErr.Code
	}
	return CodeUnknown
}
