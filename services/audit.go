package services

import (
	"context"
	"time"

	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
)

type AuditStore interface {
	List(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int64, error)
	ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*models.AuditLog, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AuditService reads the award audit trail written by the ledger.
type AuditService struct {
	store AuditStore
}

func CreateAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) GetAuditLogs(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int64, error) {
	if tenantID := utils.GetTenantID(ctx); tenantID != "" {
		filter.TenantID = tenantID
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.store.List(ctx, filter)
}

func (s *AuditService) GetAwardHistory(ctx context.Context, awardID string, limit int) ([]*models.AuditLog, error) {
	return s.store.ListByResource(ctx, string(models.AuditResourceAward), awardID, limit)
}

func (s *AuditService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	return s.store.CleanupOld(ctx, retention)
}
