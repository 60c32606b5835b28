package services

import (
	"context"
	"time"

	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
)

const (
	ReasonReceiptAlreadySubmitted = "receipt_already_submitted"
	ReasonHourlyLimit             = "hourly_success_limit"
	ReasonRepeatedDeclaration     = "repeated_declaration"
	ReasonTenantDailyCap          = "tenant_daily_award_cap"
	ReasonGuardUnavailable        = "guard_unavailable"
)

type GuardConfig struct {
	HourlySuccessLimit int
	Window             time.Duration
	AwardWindow        time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		HourlySuccessLimit: 5,
		Window:             time.Hour,
		AwardWindow:        24 * time.Hour,
	}
}

type AdmissionDecision struct {
	Allowed bool
	Reason  string
}

// DuplicateGuard decides whether a receipt submission may enter the queue.
// Any storage failure denies admission.
type DuplicateGuard struct {
	requests VerificationRepository
	awards   AwardRepository
	tenants  TenantRepository
	config   GuardConfig
	now      func() time.Time
	logger   *utils.Logger
}

func CreateDuplicateGuard(requests VerificationRepository, awards AwardRepository, tenants TenantRepository, config GuardConfig) *DuplicateGuard {
	defaults := DefaultGuardConfig()
	if config.HourlySuccessLimit <= 0 {
		config.HourlySuccessLimit = defaults.HourlySuccessLimit
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.AwardWindow <= 0 {
		config.AwardWindow = defaults.AwardWindow
	}

	return &DuplicateGuard{
		requests: requests,
		awards:   awards,
		tenants:  tenants,
		config:   config,
		now:      time.Now,
		logger:   utils.CreateLogger("duplicate-guard"),
	}
}

func (g *DuplicateGuard) Admit(ctx context.Context, customerID, tenantID string, key models.ReceiptKey, declaredMinor int64, declaredDate time.Time) bool {
	return g.Check(ctx, customerID, tenantID, key, declaredMinor, declaredDate).Allowed
}

// Check runs the admission rules in order and reports the first one that denies.
// Anonymous submissions (empty customerID) are only checked for duplicates.
func (g *DuplicateGuard) Check(ctx context.Context, customerID, tenantID string, key models.ReceiptKey, declaredMinor int64, declaredDate time.Time) AdmissionDecision {
	blocked, err := g.requests.HasBlockingRequest(ctx, key)
	if err != nil {
		return g.unavailable(ctx, "receipt lookup", err)
	}
	if blocked {
		return deny(ReasonReceiptAlreadySubmitted)
	}

	if customerID == "" {
		return AdmissionDecision{Allowed: true}
	}

	now := g.now()
	since := now.Add(-g.config.Window)

	successes, err := g.requests.CountSuccessfulSince(ctx, customerID, since)
	if err != nil {
		return g.unavailable(ctx, "success count", err)
	}
	if successes >= int64(g.config.HourlySuccessLimit) {
		return deny(ReasonHourlyLimit)
	}

	repeated, err := g.requests.HasSameDeclaration(ctx, customerID, declaredMinor, declaredDate, since)
	if err != nil {
		return g.unavailable(ctx, "declaration lookup", err)
	}
	if repeated {
		return deny(ReasonRepeatedDeclaration)
	}

	tenant, err := g.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return g.unavailable(ctx, "tenant lookup", err)
	}
	awarded, err := g.awards.CountForCustomerSince(ctx, tenantID, customerID, now.Add(-g.config.AwardWindow))
	if err != nil {
		return g.unavailable(ctx, "award count", err)
	}
	if awarded >= int64(tenant.EffectiveDailyAwardCap()) {
		return deny(ReasonTenantDailyCap)
	}

	return AdmissionDecision{Allowed: true}
}

func (g *DuplicateGuard) unavailable(ctx context.Context, check string, err error) AdmissionDecision {
	g.logger.Error(ctx, "Admission check failed, denying submission", map[string]interface{}{
		"check": check,
		"error": err.Error(),
	})
	return deny(ReasonGuardUnavailable)
}

func deny(reason string) AdmissionDecision {
	return AdmissionDecision{Allowed: false, Reason: reason}
}
