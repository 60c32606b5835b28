package services

import (
	"context"
	"time"

	"github.com/malwarebo/cashback/models"
)

// Transactor runs fn inside one database transaction carried by the context.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

type VerificationRepository interface {
	Create(ctx context.Context, req *models.VerificationRequest) error
	Update(ctx context.Context, req *models.VerificationRequest) error
	GetByID(ctx context.Context, id string) (*models.VerificationRequest, error)
	List(ctx context.Context, filter models.VerificationFilter) ([]*models.VerificationRequest, int64, error)
	HasBlockingRequest(ctx context.Context, key models.ReceiptKey) (bool, error)
	CountSuccessfulSince(ctx context.Context, customerID string, since time.Time) (int64, error)
	HasSameDeclaration(ctx context.Context, customerID string, sumMinor int64, receiptDate, since time.Time) (bool, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
	LockAdvisory(ctx context.Context, key string) error
	ClaimPending(ctx context.Context, maxAttempts, limit int, retryAfter time.Duration, now time.Time) ([]*models.VerificationRequest, error)
	RequeueStale(ctx context.Context, maxAttempts int, olderThan time.Time) (int64, error)
	MarkAwarded(ctx context.Context, id string, amount int64) error
}

type AwardRepository interface {
	Create(ctx context.Context, award *models.CashbackAward) error
	GetByID(ctx context.Context, id string) (*models.CashbackAward, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.CashbackAward, error)
	GetForUpdate(ctx context.Context, id string) (*models.CashbackAward, error)
	MarkCanceled(ctx context.Context, id, adminID, reason string, at time.Time) error
	CountForCustomerSince(ctx context.Context, tenantID, customerID string, since time.Time) (int64, error)
}

type CustomerRepository interface {
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	GetForUpdate(ctx context.Context, id string) (*models.Customer, error)
	AdjustBalance(ctx context.Context, id string, delta int64) error
}

type OfferRepository interface {
	ActiveAt(ctx context.Context, tenantID string, at time.Time) ([]*models.Offer, error)
}

type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// TokenSource hands out registry session tokens.
type TokenSource interface {
	GetValid(ctx context.Context) (string, error)
	Invalidate()
}
