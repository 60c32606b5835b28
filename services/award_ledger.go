package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malwarebo/cashback/events"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/stores"
	"github.com/malwarebo/cashback/utils"
)

const systemActor = "system"

type AwardRequest struct {
	RequestID  string
	CustomerID string
	TenantID   string
	Amount     int64
	Items      []AwardItem
}

// AwardLedger credits and reverts cashback. Every balance change happens in the
// same transaction as the award row it belongs to.
type AwardLedger struct {
	tx        Transactor
	awards    AwardRepository
	customers CustomerRepository
	requests  VerificationRepository
	audit     AuditRepository
	publisher events.Publisher
	now       func() time.Time
	logger    *utils.Logger
}

func CreateAwardLedger(tx Transactor, awards AwardRepository, customers CustomerRepository, requests VerificationRepository, audit AuditRepository, publisher events.Publisher) *AwardLedger {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &AwardLedger{
		tx:        tx,
		awards:    awards,
		customers: customers,
		requests:  requests,
		audit:     audit,
		publisher: publisher,
		now:       time.Now,
		logger:    utils.CreateLogger("award-ledger"),
	}
}

// Award creates the award, credits the customer and marks the request awarded.
// Awarding a request twice returns the existing award id without crediting again.
func (l *AwardLedger) Award(ctx context.Context, req AwardRequest) (string, error) {
	if req.RequestID == "" || req.CustomerID == "" || req.Amount <= 0 || len(req.Items) == 0 {
		return "", ErrInvalidAward
	}
	var itemsTotal int64
	for _, item := range req.Items {
		itemsTotal += item.MatchedAmount
	}
	if itemsTotal != req.Amount {
		return "", fmt.Errorf("%w: amount %d, items %d", ErrAwardMismatch, req.Amount, itemsTotal)
	}

	var awardID string
	created := false

	err := l.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := l.awards.GetByRequestID(txCtx, req.RequestID)
		if err == nil {
			awardID = existing.ID
			return nil
		}
		if !errors.Is(err, stores.ErrNotFound) {
			return err
		}

		award := &models.CashbackAward{
			RequestID:  req.RequestID,
			CustomerID: req.CustomerID,
			TenantID:   req.TenantID,
			Amount:     req.Amount,
			Status:     models.AwardStatusAwarded,
			Items:      make([]models.CashbackAwardItem, 0, len(req.Items)),
		}
		for _, item := range req.Items {
			award.Items = append(award.Items, models.CashbackAwardItem{
				ProductID:     item.ProductID,
				OfferID:       item.OfferID,
				ItemName:      item.ItemName,
				MatchedAmount: item.MatchedAmount,
			})
		}

		if err := l.awards.Create(txCtx, award); err != nil {
			return fmt.Errorf("create award: %w", err)
		}
		if err := l.customers.AdjustBalance(txCtx, req.CustomerID, req.Amount); err != nil {
			return fmt.Errorf("credit customer %s: %w", req.CustomerID, err)
		}
		if err := l.requests.MarkAwarded(txCtx, req.RequestID, req.Amount); err != nil {
			return fmt.Errorf("mark request awarded: %w", err)
		}
		if err := l.audit.Create(txCtx, &models.AuditLog{
			TenantID:     stringPtr(req.TenantID),
			ActorID:      systemActor,
			Action:       models.AuditActionAward,
			ResourceType: models.AuditResourceAward,
			ResourceID:   award.ID,
			Metadata: map[string]interface{}{
				"request_id": req.RequestID,
				"amount":     req.Amount,
			},
		}); err != nil {
			return fmt.Errorf("write audit log: %w", err)
		}

		awardID = award.ID
		created = true
		return nil
	})
	if err != nil {
		return "", err
	}

	if created {
		monitoring.CashbackAwarded.Add(float64(req.Amount))

		event := events.NewEvent(events.TypeCashbackAwarded, req.TenantID)
		event.CustomerID = req.CustomerID
		event.RequestID = req.RequestID
		event.AwardID = awardID
		event.Amount = req.Amount
		event.Status = string(models.AwardStatusAwarded)
		l.publish(ctx, event)
	}

	return awardID, nil
}

// Cancel reverts an award. The customer must still hold at least the awarded amount.
func (l *AwardLedger) Cancel(ctx context.Context, awardID, adminID, reason string) (int64, error) {
	var award *models.CashbackAward

	err := l.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		award, err = l.awards.GetForUpdate(txCtx, awardID)
		if errors.Is(err, stores.ErrNotFound) {
			return ErrAwardNotFound
		}
		if err != nil {
			return err
		}
		if tenantID := utils.GetTenantID(ctx); tenantID != "" && tenantID != award.TenantID {
			return ErrAwardNotFound
		}
		if award.Status == models.AwardStatusCanceled {
			return ErrAlreadyCanceled
		}

		customer, err := l.customers.GetForUpdate(txCtx, award.CustomerID)
		if err != nil {
			return fmt.Errorf("lock customer %s: %w", award.CustomerID, err)
		}
		if customer.Balance < award.Amount {
			return ErrInsufficientBalance
		}

		if err := l.customers.AdjustBalance(txCtx, award.CustomerID, -award.Amount); err != nil {
			return fmt.Errorf("debit customer %s: %w", award.CustomerID, err)
		}
		if err := l.awards.MarkCanceled(txCtx, award.ID, adminID, reason, l.now()); err != nil {
			return fmt.Errorf("mark award canceled: %w", err)
		}
		return l.audit.Create(txCtx, &models.AuditLog{
			TenantID:     stringPtr(award.TenantID),
			ActorID:      adminID,
			Action:       models.AuditActionAwardCancel,
			ResourceType: models.AuditResourceAward,
			ResourceID:   award.ID,
			Reason:       reason,
			Metadata: map[string]interface{}{
				"request_id":  award.RequestID,
				"customer_id": award.CustomerID,
				"amount":      award.Amount,
			},
		})
	})
	if err != nil {
		return 0, err
	}

	monitoring.CashbackCanceled.Add(float64(award.Amount))
	l.logger.Info(ctx, "Cashback award canceled", map[string]interface{}{
		"award_id": award.ID,
		"admin_id": adminID,
		"amount":   award.Amount,
	})

	event := events.NewEvent(events.TypeCashbackCanceled, award.TenantID)
	event.CustomerID = award.CustomerID
	event.RequestID = award.RequestID
	event.AwardID = award.ID
	event.Amount = award.Amount
	event.Status = string(models.AwardStatusCanceled)
	l.publish(ctx, event)

	return award.Amount, nil
}

func (l *AwardLedger) GetAward(ctx context.Context, awardID string) (*models.CashbackAward, error) {
	award, err := l.awards.GetByID(ctx, awardID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrAwardNotFound
	}
	if err != nil {
		return nil, err
	}
	if tenantID := utils.GetTenantID(ctx); tenantID != "" && tenantID != award.TenantID {
		return nil, ErrAwardNotFound
	}
	return award, nil
}

func (l *AwardLedger) publish(ctx context.Context, event events.Event) {
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Warn(ctx, "Failed to publish ledger event", map[string]interface{}{
			"event_type": event.Type,
			"award_id":   event.AwardID,
			"error":      err.Error(),
		})
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
