package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/security"
	"github.com/malwarebo/cashback/stores"
	"github.com/malwarebo/cashback/utils"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantInactive = errors.New("tenant is inactive")
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrInvalidTenant  = errors.New("invalid tenant")
)

const tenantCacheTTL = 5 * time.Minute

type TenantStore interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)
	SetActive(ctx context.Context, id string, active bool) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Tenant, int64, error)
}

type CreateTenantRequest struct {
	Name          string
	WebhookURL    string
	DailyAwardCap int
}

// KeyValueCache is the subset of the redis cache used for tenant lookups.
type KeyValueCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type TenantService struct {
	store  TenantStore
	cache  KeyValueCache
	logger *utils.Logger
}

// CreateTenantService builds the service. cache may be nil.
func CreateTenantService(store TenantStore, cache KeyValueCache) *TenantService {
	return &TenantService{
		store:  store,
		cache:  cache,
		logger: utils.CreateLogger("tenant-service"),
	}
}

func (s *TenantService) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant, err := s.store.GetByID(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetByAPIKey resolves the calling pharmacy network. Lookups are cached by key hash.
func (s *TenantService) GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	if err := security.ValidateAPIKey(apiKey); err != nil {
		return nil, ErrInvalidAPIKey
	}

	hash := security.HashAPIKey(apiKey)
	cacheKey := tenantCacheKey(hash)
	if tenant, ok := s.cached(ctx, cacheKey); ok {
		return tenant, nil
	}

	tenant, err := s.store.GetByAPIKeyHash(ctx, hash)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, ErrTenantInactive
	}

	if s.cache != nil {
		if raw, err := json.Marshal(tenant); err == nil {
			if err := s.cache.SetWithTTL(ctx, cacheKey, string(raw), tenantCacheTTL); err != nil {
				s.logger.Warn(ctx, "Failed to cache tenant", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return tenant, nil
}

// Create registers a pharmacy network and returns its API key. The key is
// shown once; only its hash is persisted.
func (s *TenantService) Create(ctx context.Context, req CreateTenantRequest) (*models.Tenant, string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidTenant)
	}
	if req.WebhookURL != "" {
		if u, err := url.ParseRequestURI(req.WebhookURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") {
			return nil, "", fmt.Errorf("%w: webhook url must be an http(s) url", ErrInvalidTenant)
		}
	}
	if req.DailyAwardCap < 0 {
		return nil, "", fmt.Errorf("%w: daily award cap must not be negative", ErrInvalidTenant)
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	tenant := &models.Tenant{
		Name:          name,
		APIKeyHash:    security.HashAPIKey(apiKey),
		WebhookURL:    req.WebhookURL,
		DailyAwardCap: req.DailyAwardCap,
		IsActive:      true,
	}
	if tenant.DailyAwardCap == 0 {
		tenant.DailyAwardCap = models.DefaultTenantDailyAwardCap
	}
	if req.WebhookURL != "" {
		if tenant.WebhookSecret, err = security.GenerateSecret(); err != nil {
			return nil, "", err
		}
	}

	if err := s.store.Create(ctx, tenant); err != nil {
		return nil, "", fmt.Errorf("create tenant: %w", err)
	}
	s.logger.Info(ctx, "Tenant created", map[string]interface{}{"tenant_id": tenant.ID})
	return tenant, apiKey, nil
}

// SetActive toggles a tenant and drops its cached lookup.
func (s *TenantService) SetActive(ctx context.Context, id string, active bool) error {
	err := s.store.SetActive(ctx, id, active)
	if errors.Is(err, stores.ErrNotFound) {
		return ErrTenantNotFound
	}
	if err != nil {
		return err
	}

	if s.cache != nil {
		tenant, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.cache.Delete(ctx, tenantCacheKey(tenant.APIKeyHash)); err != nil {
			s.logger.Warn(ctx, "Failed to invalidate cached tenant", map[string]interface{}{
				"tenant_id": id,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

func (s *TenantService) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Tenant, int64, error) {
	return s.store.List(ctx, activeOnly, limit, offset)
}

func tenantCacheKey(hash string) string {
	return "cashback:tenant:" + hash
}

func (s *TenantService) cached(ctx context.Context, key string) (*models.Tenant, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return nil, false
	}
	var tenant models.Tenant
	if err := json.Unmarshal([]byte(raw), &tenant); err != nil {
		return nil, false
	}
	return &tenant, true
}
