package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/malwarebo/cashback/models"
	"gorm.io/gorm"
)

type VerificationStore struct {
	BaseStore
}

func CreateVerificationStore(db *gorm.DB) *VerificationStore {
	return &VerificationStore{BaseStore: BaseStore{db: db}}
}

// Create inserts a new request. A second row for the same receipt key yields ErrDuplicate.
func (s *VerificationStore) Create(ctx context.Context, req *models.VerificationRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.VerificationStatusPending
	}
	return translateError(s.GetDB(ctx).Create(req).Error)
}

func (s *VerificationStore) Update(ctx context.Context, req *models.VerificationRequest) error {
	return translateError(s.GetDB(ctx).Save(req).Error)
}

func (s *VerificationStore) GetByID(ctx context.Context, id string) (*models.VerificationRequest, error) {
	var req models.VerificationRequest
	if err := s.GetDB(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (s *VerificationStore) List(ctx context.Context, filter models.VerificationFilter) ([]*models.VerificationRequest, int64, error) {
	var requests []*models.VerificationRequest
	var total int64

	query := s.GetDB(ctx).Model(&models.VerificationRequest{})

	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// HasBlockingRequest reports whether the receipt key already has an in-flight or
// successful request, in any tenant.
func (s *VerificationStore) HasBlockingRequest(ctx context.Context, key models.ReceiptKey) (bool, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.VerificationRequest{}).
		Where("fn = ? AND fd = ? AND fp = ?", key.FiscalStorageNumber, key.FiscalDocumentNumber, key.FiscalSign).
		Where("status IN ?", []models.VerificationStatus{
			models.VerificationStatusPending,
			models.VerificationStatusProcessing,
			models.VerificationStatusSuccess,
		}).
		Count(&count).Error
	return count > 0, err
}

func (s *VerificationStore) CountSuccessfulSince(ctx context.Context, customerID string, since time.Time) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.VerificationRequest{}).
		Where("customer_id = ? AND status = ? AND updated_at >= ?", customerID, models.VerificationStatusSuccess, since).
		Count(&count).Error
	return count, err
}

// HasSameDeclaration reports whether the customer already declared this amount and date.
// Amounts are compared in minor units so "250" and "250.00" are the same declaration.
func (s *VerificationStore) HasSameDeclaration(ctx context.Context, customerID string, sumMinor int64, receiptDate, since time.Time) (bool, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.VerificationRequest{}).
		Where("customer_id = ? AND sum_minor = ? AND receipt_date = ? AND created_at >= ?", customerID, sumMinor, receiptDate, since).
		Count(&count).Error
	return count > 0, err
}

// CountCreatedSince counts submissions across all tenants.
func (s *VerificationStore) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.VerificationRequest{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

// CountByStatus groups submissions created in [from, to). An empty tenantID spans all tenants.
func (s *VerificationStore) CountByStatus(ctx context.Context, tenantID string, from, to time.Time) ([]models.StatusCount, error) {
	var counts []models.StatusCount
	query := s.GetDB(ctx).Model(&models.VerificationRequest{}).
		Select("status, COUNT(*) AS count").
		Where("created_at >= ? AND created_at < ?", from, to)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

// LockAdvisory serializes admission for key until the surrounding transaction ends.
func (s *VerificationStore) LockAdvisory(ctx context.Context, key string) error {
	return s.GetDB(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

const claimPendingSQL = `
UPDATE verification_requests
SET status = ?, attempts = attempts + 1, last_attempt_at = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM verification_requests
	WHERE status = ?
	  AND attempts < ?
	  AND (last_attempt_at IS NULL OR last_attempt_at < ?)
	ORDER BY created_at
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimPending moves up to limit eligible pending rows to processing and
// consumes one attempt on each. Rows locked by another worker are skipped.
func (s *VerificationStore) ClaimPending(ctx context.Context, maxAttempts, limit int, retryAfter time.Duration, now time.Time) ([]*models.VerificationRequest, error) {
	var claimed []*models.VerificationRequest
	err := s.GetDB(ctx).Raw(claimPendingSQL,
		models.VerificationStatusProcessing, now, now,
		models.VerificationStatusPending,
		maxAttempts,
		now.Add(-retryAfter),
		limit,
	).Scan(&claimed).Error
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RequeueStale returns rows stuck in processing (e.g. after a crash) to pending,
// or fails them once their attempts are spent.
func (s *VerificationStore) RequeueStale(ctx context.Context, maxAttempts int, olderThan time.Time) (int64, error) {
	var affected int64
	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		failed := s.GetDB(txCtx).Model(&models.VerificationRequest{}).
			Where("status = ? AND last_attempt_at < ? AND attempts >= ?", models.VerificationStatusProcessing, olderThan, maxAttempts).
			Updates(map[string]interface{}{
				"status":     models.VerificationStatusFailed,
				"error_code": "stale",
				"last_error": "processing abandoned",
			})
		if failed.Error != nil {
			return failed.Error
		}

		requeued := s.GetDB(txCtx).Model(&models.VerificationRequest{}).
			Where("status = ? AND last_attempt_at < ?", models.VerificationStatusProcessing, olderThan).
			Update("status", models.VerificationStatusPending)
		if requeued.Error != nil {
			return requeued.Error
		}

		affected = failed.RowsAffected + requeued.RowsAffected
		return nil
	})
	return affected, err
}

// MarkAwarded records the credited cashback and finalizes the request as success.
func (s *VerificationStore) MarkAwarded(ctx context.Context, id string, amount int64) error {
	valid := true
	result := s.GetDB(ctx).Model(&models.VerificationRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.VerificationStatusSuccess,
			"cashback_amount":  amount,
			"cashback_awarded": true,
			"is_valid":         &valid,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
