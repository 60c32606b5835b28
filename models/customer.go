package models

import (
	"time"
)

// Customer balance is held in whole bonus units.
type Customer struct {
	ID         string    `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID   string    `json:"tenant_id" gorm:"type:uuid;not null;index"`
	ExternalID string    `json:"external_id" gorm:"index"`
	Phone      string    `json:"phone"`
	Balance    int64     `json:"balance" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
