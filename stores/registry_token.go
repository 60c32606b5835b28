package stores

import (
	"context"
	"errors"
	"time"

	"github.com/malwarebo/cashback/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const registryTokenRowID = 1

// RegistryTokenStore keeps the single registry session token row.
type RegistryTokenStore struct {
	BaseStore
}

func CreateRegistryTokenStore(db *gorm.DB) *RegistryTokenStore {
	return &RegistryTokenStore{BaseStore: BaseStore{db: db}}
}

func (s *RegistryTokenStore) LoadToken(ctx context.Context) (string, time.Time, error) {
	var token models.RegistryToken
	err := s.GetDB(ctx).First(&token, "id = ?", registryTokenRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return token.Token, token.ExpiresAt, nil
}

func (s *RegistryTokenStore) SaveToken(ctx context.Context, token string, expiresAt time.Time) error {
	row := models.RegistryToken{ID: registryTokenRowID, Token: token, ExpiresAt: expiresAt}
	return s.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "expires_at", "updated_at"}),
	}).Create(&row).Error
}
