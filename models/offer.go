package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProfitType string

const (
	ProfitTypeStatic ProfitType = "static"
	ProfitTypeFrom   ProfitType = "from"
)

type ConditionType string

const (
	ConditionTypeQuantity ConditionType = "quantity"
	ConditionTypeAmount   ConditionType = "amount"
)

type ConditionComparator string

const (
	ComparatorFrom   ConditionComparator = "from"
	ComparatorTo     ConditionComparator = "to"
	ComparatorFromTo ConditionComparator = "from_to"
)

type Product struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID  string    `json:"tenant_id" gorm:"type:uuid;not null;index"`
	SKU       string    `json:"sku" gorm:"index"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// OfferCondition gates an offer on the matched line's quantity or total.
// Amount bounds are in major currency units.
type OfferCondition struct {
	Type       ConditionType       `json:"type" gorm:"column:condition_type"`
	Comparator ConditionComparator `json:"comparator" gorm:"column:condition_comparator"`
	From       *decimal.Decimal    `json:"from,omitempty" gorm:"column:condition_from;type:numeric(14,2)"`
	To         *decimal.Decimal    `json:"to,omitempty" gorm:"column:condition_to;type:numeric(14,2)"`
}

func (c OfferCondition) IsSet() bool {
	return c.Type != "" && c.Comparator != ""
}

type Offer struct {
	ID         string          `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID   string          `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name       string          `json:"name"`
	Profit     decimal.Decimal `json:"profit" gorm:"type:numeric(14,2);not null"`
	ProfitType ProfitType      `json:"profit_type" gorm:"not null"`
	DateFrom   time.Time       `json:"date_from" gorm:"not null"`
	DateTo     time.Time       `json:"date_to" gorm:"not null"`
	Condition  OfferCondition  `json:"condition" gorm:"embedded"`
	Products   []Product       `json:"products" gorm:"many2many:offer_products"`
	CreatedAt  time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (o *Offer) IsActiveAt(t time.Time) bool {
	return !t.Before(o.DateFrom) && !t.After(o.DateTo)
}
