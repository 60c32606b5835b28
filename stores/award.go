package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/malwarebo/cashback/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AwardStore struct {
	BaseStore
}

func CreateAwardStore(db *gorm.DB) *AwardStore {
	return &AwardStore{BaseStore: BaseStore{db: db}}
}

// Create inserts the award with its items. A second award for the same request yields ErrDuplicate.
func (s *AwardStore) Create(ctx context.Context, award *models.CashbackAward) error {
	if award.ID == "" {
		award.ID = uuid.NewString()
	}
	if award.Status == "" {
		award.Status = models.AwardStatusAwarded
	}
	for i := range award.Items {
		if award.Items[i].ID == "" {
			award.Items[i].ID = uuid.NewString()
		}
		award.Items[i].AwardID = award.ID
	}
	return translateError(s.GetDB(ctx).Create(award).Error)
}

func (s *AwardStore) GetByID(ctx context.Context, id string) (*models.CashbackAward, error) {
	var award models.CashbackAward
	if err := s.GetDB(ctx).Preload("Items").First(&award, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &award, nil
}

func (s *AwardStore) GetByRequestID(ctx context.Context, requestID string) (*models.CashbackAward, error) {
	var award models.CashbackAward
	if err := s.GetDB(ctx).Preload("Items").First(&award, "request_id = ?", requestID).Error; err != nil {
		return nil, translateError(err)
	}
	return &award, nil
}

// GetForUpdate row-locks the award for the rest of the transaction.
func (s *AwardStore) GetForUpdate(ctx context.Context, id string) (*models.CashbackAward, error) {
	var award models.CashbackAward
	err := s.GetDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&award, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &award, nil
}

// MarkCanceled flips an awarded row to canceled. Already canceled rows are left untouched.
func (s *AwardStore) MarkCanceled(ctx context.Context, id, adminID, reason string, at time.Time) error {
	result := s.GetDB(ctx).Model(&models.CashbackAward{}).
		Where("id = ? AND status = ?", id, models.AwardStatusAwarded).
		Updates(map[string]interface{}{
			"status":        models.AwardStatusCanceled,
			"canceled_by":   adminID,
			"cancel_reason": reason,
			"canceled_at":   at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountForCustomerSince counts awards granted by one tenant to one customer.
func (s *AwardStore) CountForCustomerSince(ctx context.Context, tenantID, customerID string, since time.Time) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.CashbackAward{}).
		Where("tenant_id = ? AND customer_id = ? AND created_at >= ?", tenantID, customerID, since).
		Count(&count).Error
	return count, err
}

func (s *AwardStore) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*models.CashbackAward, error) {
	var awards []*models.CashbackAward
	query := s.GetDB(ctx).Preload("Items").Where("customer_id = ?", customerID)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Order("created_at DESC").Find(&awards).Error; err != nil {
		return nil, err
	}
	return awards, nil
}

// DailyTotals sums awards per day in the given IANA zone for awards created in [from, to).
func (s *AwardStore) DailyTotals(ctx context.Context, tenantID string, from, to time.Time, timezone string) ([]models.DailyAwardTotal, error) {
	var totals []models.DailyAwardTotal
	query := s.GetDB(ctx).Model(&models.CashbackAward{}).
		Select(`date_trunc('day', created_at AT TIME ZONE ?) AS day,
			COUNT(*) AS awarded_count,
			COALESCE(SUM(amount), 0) AS awarded_amount,
			COUNT(*) FILTER (WHERE status = ?) AS canceled_count,
			COALESCE(SUM(amount) FILTER (WHERE status = ?), 0) AS canceled_amount`,
			timezone, models.AwardStatusCanceled, models.AwardStatusCanceled).
		Where("created_at >= ? AND created_at < ?", from, to)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.Group("day").Order("day").Scan(&totals).Error; err != nil {
		return nil, err
	}
	return totals, nil
}
