package models

import (
	"time"
)

const DefaultTenantDailyAwardCap = 10

// Tenant is an independently branded pharmacy network running its own promotion.
type Tenant struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid"`
	Name          string    `json:"name" gorm:"not null"`
	APIKeyHash    string    `json:"-" gorm:"column:api_key_hash;uniqueIndex;not null"`
	WebhookURL    string    `json:"webhook_url"`
	WebhookSecret string    `json:"-"`
	DailyAwardCap int       `json:"daily_award_cap" gorm:"not null;default:10"`
	IsActive      bool      `json:"is_active" gorm:"default:true"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (t *Tenant) EffectiveDailyAwardCap() int {
	if t == nil || t.DailyAwardCap <= 0 {
		return DefaultTenantDailyAwardCap
	}
	return t.DailyAwardCap
}
