package models

import (
	"encoding/json"
	"time"
)

type RegistryToken struct {
	ID        int       `json:"-" gorm:"primaryKey"`
	Token     string    `json:"token" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (RegistryToken) TableName() string {
	return "registry_tokens"
}

// ReceiptQuery is what the registry needs to locate a receipt. Sum is in kopecks.
type ReceiptQuery struct {
	Key           ReceiptKey
	SumMinor      int64
	Date          time.Time
	OperationType string
}

type OutcomeStatus string

const (
	OutcomePending    OutcomeStatus = "pending"
	OutcomeProcessing OutcomeStatus = "processing"
	OutcomeSuccess    OutcomeStatus = "success"
	OutcomeRejected   OutcomeStatus = "rejected"
	OutcomeFailed     OutcomeStatus = "failed"
)

func (s OutcomeStatus) IsTerminal() bool {
	return s == OutcomeSuccess || s == OutcomeRejected || s == OutcomeFailed
}

// RegistryOutcome is the classified result of polling a verification ticket.
type RegistryOutcome struct {
	Status       OutcomeStatus   `json:"status"`
	ResultCode   int             `json:"result_code,omitempty"`
	Message      string          `json:"message,omitempty"`
	Items        []ReceiptItem   `json:"items,omitempty"`
	TotalSum     int64           `json:"total_sum,omitempty"`
	IsReturn     bool            `json:"is_return"`
	IsFake       bool            `json:"is_fake"`
	Inconclusive bool            `json:"inconclusive"`
	Ticket       json.RawMessage `json:"ticket,omitempty"`
}
