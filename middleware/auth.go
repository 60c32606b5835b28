package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/malwarebo/cashback/security"
	"github.com/malwarebo/cashback/utils"
)

type AuthMiddleware struct {
	jwtManager  *security.JWTManager
	rateLimiter *security.TieredRateLimiter
}

func CreateAuthMiddleware(jwtManager *security.JWTManager, rateLimiter *security.TieredRateLimiter) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:  jwtManager,
		rateLimiter: rateLimiter,
	}
}

// IdentityMiddleware reads an optional bearer token. Scans without one are
// anonymous; a present but invalid token is refused.
func (am *AuthMiddleware) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, utils.ErrInvalidToken.WithDetails("expected a bearer token"))
			return
		}

		claims, err := am.jwtManager.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeError(w, utils.ErrInvalidToken)
			return
		}

		isAdmin := claims.HasRole(security.RoleAdmin)
		if claims.TenantID == "" && !isAdmin {
			writeError(w, utils.ErrForbidden.WithDetails("token is not bound to a tenant"))
			return
		}

		ctx := r.Context()
		tenantID := utils.GetTenantID(ctx)
		if claims.TenantID != "" {
			if tenantID != "" && tenantID != claims.TenantID {
				writeError(w, utils.ErrForbidden.WithDetails("token belongs to another tenant"))
				return
			}
			ctx = utils.WithTenantID(ctx, claims.TenantID)
		}

		ctx = utils.WithUserID(ctx, claims.Subject)
		ctx = utils.WithAdmin(ctx, isAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (am *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if utils.GetUserID(r.Context()) == "" {
			writeError(w, utils.ErrUnauthorized)
			return
		}
		if !utils.IsAdmin(r.Context()) {
			writeError(w, utils.ErrAdminRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware budgets scans per tenant and admin calls per admin.
func (am *AuthMiddleware) RateLimitMiddleware(tier string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := utils.GetTenantID(r.Context())
			if tier == security.TierAdmin {
				key = utils.GetUserID(r.Context())
			}
			if key == "" {
				key = clientIP(r)
			}

			if !am.rateLimiter.Allow(key, tier) {
				writeError(w, utils.ErrRateLimitExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
