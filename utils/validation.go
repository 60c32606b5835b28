package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var messages []string
	for _, err := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// Add appends err when it is non-nil.
func (ve *ValidationErrors) Add(err *ValidationError) {
	if err != nil {
		*ve = append(*ve, *err)
	}
}

// Err returns nil when nothing failed, so callers can return it directly.
func (ve ValidationErrors) Err() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

func (ve ValidationErrors) ToAPIError() *APIError {
	return ErrInvalidRequest.WithDetails(ve.Error())
}

func ValidateString(value, fieldName string, minLen, maxLen int, required bool) *ValidationError {
	if required && strings.TrimSpace(value) == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}

	if value != "" {
		if utf8.RuneCountInString(value) < minLen {
			return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be at least %d characters", minLen)}
		}
		if utf8.RuneCountInString(value) > maxLen {
			return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be at most %d characters", maxLen)}
		}
	}

	return nil
}

// ValidateUUID accepts an empty value unless required is set.
func ValidateUUID(id, fieldName string, required bool) *ValidationError {
	if id == "" {
		if required {
			return &ValidationError{Field: fieldName, Message: "is required"}
		}
		return nil
	}
	if !uuidPattern.MatchString(strings.ToLower(id)) {
		return &ValidationError{Field: fieldName, Message: "is not a valid UUID"}
	}
	return nil
}

func ValidateOneOf(value, fieldName string, allowed ...string) *ValidationError {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{Field: fieldName, Message: "must be one of " + strings.Join(allowed, ", ")}
}

// ParseTime parses an optional RFC 3339 timestamp.
func ParseTime(value, fieldName string) (*time.Time, *ValidationError) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, &ValidationError{Field: fieldName, Message: "must be an RFC 3339 timestamp"}
	}
	return &parsed, nil
}
