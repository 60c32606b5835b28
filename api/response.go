package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/malwarebo/cashback/analytics"
	"github.com/malwarebo/cashback/fiscal"
	"github.com/malwarebo/cashback/services"
	"github.com/malwarebo/cashback/utils"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
	maxBodyBytes     = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeError maps domain errors onto the API error catalogue. Anything
// unrecognised is logged and hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Code >= http.StatusInternalServerError {
		utils.LogError(r.Context(), err, "Request failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	writeJSON(w, apiErr.Code, apiErr)
}

func toAPIError(err error) *utils.APIError {
	var apiErr *utils.APIError
	var validationErrs utils.ValidationErrors
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &validationErrs):
		return validationErrs.ToAPIError()
	case errors.Is(err, fiscal.ErrMalformedQR):
		return utils.ErrMalformedQR.WithDetails(err.Error())
	case errors.Is(err, services.ErrRequestNotFound):
		return utils.ErrRequestNotFound
	case errors.Is(err, services.ErrAwardNotFound):
		return utils.ErrAwardNotFound
	case errors.Is(err, services.ErrAlreadyCanceled):
		return utils.ErrAlreadyCanceled
	case errors.Is(err, services.ErrInsufficientBalance):
		return utils.ErrInsufficientBalance
	case errors.Is(err, services.ErrUnknownCustomer):
		return utils.ErrForbidden.WithDetails(err.Error())
	case errors.Is(err, services.ErrTenantNotFound):
		return utils.ErrNotFound
	case errors.Is(err, analytics.ErrUnknownPeriod):
		return utils.ErrInvalidRequest.WithDetails(err.Error())
	case errors.Is(err, services.ErrInvalidTenant):
		return utils.ErrInvalidRequest.WithDetails(err.Error())
	default:
		return utils.CreateAPIError(utils.GetHTTPStatusFromError(err), "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return utils.ErrInvalidRequest.WithDetails("invalid request body")
	}
	return nil
}

func pagination(r *http.Request) (int, int) {
	limit := defaultPageLimit
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
