package stores

import (
	"context"

	"github.com/malwarebo/cashback/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CustomerStore struct {
	BaseStore
}

func CreateCustomerStore(db *gorm.DB) *CustomerStore {
	return &CustomerStore{BaseStore: BaseStore{db: db}}
}

func (s *CustomerStore) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	if err := s.GetDB(ctx).First(&customer, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &customer, nil
}

// GetForUpdate row-locks the customer for the rest of the transaction.
func (s *CustomerStore) GetForUpdate(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	err := s.GetDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&customer, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &customer, nil
}

// AdjustBalance adds delta (possibly negative) to the customer's balance.
func (s *CustomerStore) AdjustBalance(ctx context.Context, id string, delta int64) error {
	result := s.GetDB(ctx).Model(&models.Customer{}).
		Where("id = ?", id).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
