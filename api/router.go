package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/malwarebo/cashback/middleware"
	"github.com/malwarebo/cashback/security"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Receipts *ReceiptHandler
	Admin    *AdminHandler
	Audit    *AuditHandler
	Reports  *ReportHandler
	Health   *HealthHandler
}

// CreateRouter wires the public scan surface (tenant API key, optional customer
// token) and the admin surface (admin token) under /api/v1.
func CreateRouter(h Handlers, tenants *middleware.TenantMiddleware, auth *middleware.AuthMiddleware, allowedOrigins []string) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.RecoveryMiddleware)
	router.Use(middleware.HeadersMiddleware)
	router.Use(middleware.CORSMiddleware(allowedOrigins))
	router.Use(middleware.MetricsMiddleware)

	router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	receipts := apiRouter.PathPrefix("/receipts").Subrouter()
	receipts.Use(tenants.TenantContextMiddleware)
	receipts.Use(auth.IdentityMiddleware)
	receipts.Use(auth.RateLimitMiddleware(security.TierScan))
	receipts.HandleFunc("/scan", h.Receipts.HandleScan).Methods(http.MethodPost)
	receipts.HandleFunc("/{id}", h.Receipts.HandleGet).Methods(http.MethodGet)

	admin := apiRouter.PathPrefix("/admin").Subrouter()
	admin.Use(auth.IdentityMiddleware)
	admin.Use(auth.RequireAdmin)
	admin.Use(auth.RateLimitMiddleware(security.TierAdmin))
	admin.HandleFunc("/receipts", h.Admin.HandleListReceipts).Methods(http.MethodGet)
	admin.HandleFunc("/awards/{id}", h.Admin.HandleGetAward).Methods(http.MethodGet)
	admin.HandleFunc("/awards/{id}/cancel", h.Admin.HandleCancelAward).Methods(http.MethodPost)
	admin.HandleFunc("/awards/{id}/audit", h.Audit.HandleAwardHistory).Methods(http.MethodGet)
	admin.HandleFunc("/audit", h.Audit.HandleList).Methods(http.MethodGet)
	admin.HandleFunc("/reports/cashback", h.Reports.HandleCashbackReport).Methods(http.MethodGet)

	return router
}
