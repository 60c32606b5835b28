package stores

import (
	"context"
	"time"

	"github.com/malwarebo/cashback/models"
	"gorm.io/gorm"
)

type OfferStore struct {
	BaseStore
}

func CreateOfferStore(db *gorm.DB) *OfferStore {
	return &OfferStore{BaseStore: BaseStore{db: db}}
}

// ActiveAt returns the tenant's offers whose date window contains at, with eligible products.
func (s *OfferStore) ActiveAt(ctx context.Context, tenantID string, at time.Time) ([]*models.Offer, error) {
	var offers []*models.Offer
	err := s.GetDB(ctx).
		Preload("Products").
		Where("tenant_id = ? AND date_from <= ? AND date_to >= ?", tenantID, at, at).
		Order("created_at").
		Find(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}
