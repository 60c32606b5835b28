package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID           string            `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID     *string           `json:"tenant_id" gorm:"type:uuid;index"`
	ActorID      string            `json:"actor_id" gorm:"not null"`
	Action       AuditAction       `json:"action" gorm:"not null"`
	ResourceType AuditResourceType `json:"resource_type" gorm:"not null"`
	ResourceID   string            `json:"resource_id" gorm:"index"`
	Reason       string            `json:"reason"`
	Metadata     datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at" gorm:"autoCreateTime"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

type AuditAction string

const (
	AuditActionAwardCancel AuditAction = "award.cancel"
	AuditActionAward       AuditAction = "award.create"
)

type AuditResourceType string

const (
	AuditResourceAward   AuditResourceType = "cashback_award"
	AuditResourceRequest AuditResourceType = "verification_request"
)

type AuditLogFilter struct {
	TenantID     string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}
