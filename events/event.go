// Package events carries domain notifications out of the pipeline after commit.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeVerificationCompleted Type = "verification.completed"
	TypeCashbackAwarded       Type = "cashback.awarded"
	TypeCashbackCanceled      Type = "cashback.canceled"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	AwardID    string    `json:"award_id,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEvent(eventType Type, tenantID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Failures never roll back the state change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

// MultiPublisher fans an event out to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
