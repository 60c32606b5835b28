package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/services"
	"github.com/malwarebo/cashback/utils"
)

const APIKeyHeader = "X-API-Key"

type TenantResolver interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
}

// TenantMiddleware resolves the calling pharmacy network from its API key.
type TenantMiddleware struct {
	tenants TenantResolver
}

func CreateTenantMiddleware(tenants TenantResolver) *TenantMiddleware {
	return &TenantMiddleware{tenants: tenants}
}

func (tm *TenantMiddleware) TenantContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			writeError(w, utils.ErrTenantRequired)
			return
		}

		tenant, err := tm.tenants.GetByAPIKey(r.Context(), apiKey)
		switch {
		case errors.Is(err, services.ErrTenantInactive):
			writeError(w, utils.ErrForbidden.WithDetails("tenant is inactive"))
			return
		case errors.Is(err, services.ErrInvalidAPIKey):
			writeError(w, utils.ErrUnauthorized.WithDetails("invalid API key"))
			return
		case err != nil:
			logger.Error(r.Context(), "Tenant lookup failed", map[string]interface{}{"error": err.Error()})
			writeError(w, utils.ErrServiceUnavailable)
			return
		}

		ctx := utils.WithTenantID(r.Context(), tenant.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
