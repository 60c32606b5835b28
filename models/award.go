package models

import (
	"time"
)

type AwardStatus string

const (
	AwardStatusAwarded  AwardStatus = "awarded"
	AwardStatusCanceled AwardStatus = "canceled"
)

type CashbackAward struct {
	ID           string              `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID    string              `json:"request_id" gorm:"type:uuid;not null;uniqueIndex"`
	CustomerID   string              `json:"customer_id" gorm:"type:uuid;not null;index"`
	TenantID     string              `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Amount       int64               `json:"amount" gorm:"not null"`
	Status       AwardStatus         `json:"status" gorm:"not null;default:'awarded'"`
	CanceledBy   *string             `json:"canceled_by,omitempty"`
	CancelReason *string             `json:"cancel_reason,omitempty"`
	CanceledAt   *time.Time          `json:"canceled_at,omitempty"`
	Items        []CashbackAwardItem `json:"items" gorm:"foreignKey:AwardID"`
	CreatedAt    time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
}

type CashbackAwardItem struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid"`
	AwardID       string    `json:"award_id" gorm:"type:uuid;not null;index"`
	ProductID     string    `json:"product_id" gorm:"type:uuid;not null"`
	OfferID       string    `json:"offer_id" gorm:"type:uuid;not null;index"`
	ItemName      string    `json:"item_name"`
	MatchedAmount int64     `json:"matched_amount" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

type CancelAwardRequest struct {
	Reason string `json:"reason"`
}

type CancelAwardResponse struct {
	AwardID        string `json:"awardId"`
	RefundedAmount int64  `json:"refundedAmount"`
}
