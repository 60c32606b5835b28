package stores

import (
	"context"

	"github.com/google/uuid"
	"github.com/malwarebo/cashback/models"
	"gorm.io/gorm"
)

type TenantStore struct {
	BaseStore
}

func CreateTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{BaseStore: BaseStore{db: db}}
}

func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	return translateError(s.GetDB(ctx).Create(tenant).Error)
}

func (s *TenantStore) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.GetDB(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

// GetByAPIKeyHash returns the tenant regardless of its active flag.
func (s *TenantStore) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.GetDB(ctx).Where("api_key_hash = ?", hash).First(&tenant).Error; err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

func (s *TenantStore) SetActive(ctx context.Context, id string, active bool) error {
	result := s.GetDB(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *TenantStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Tenant, int64, error) {
	var tenants []*models.Tenant
	var total int64

	query := s.GetDB(ctx).Model(&models.Tenant{})
	if activeOnly {
		query = query.Where("is_active = true")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, 0, err
	}

	return tenants, total, nil
}
