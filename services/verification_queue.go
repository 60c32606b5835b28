package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/malwarebo/cashback/events"
	"github.com/malwarebo/cashback/fiscal"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/providers"
	"github.com/malwarebo/cashback/stores"
	"github.com/malwarebo/cashback/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const (
	errorCodeInconclusive = "inconclusive"
	errorCodeReturn       = "return"
	errorCodeInternal     = "internal"

	dailyCapLockKey = "verification:daily-cap"
)

type QueueConfig struct {
	MaxAttempts        int
	BatchSize          int
	Workers            int
	RetryAfter         time.Duration
	PollAttempts       int
	RequestTimeout     time.Duration
	StaleAfter         time.Duration
	DailySubmissionCap int
	Location           *time.Location
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxAttempts:        3,
		BatchSize:          10,
		Workers:            3,
		RetryAfter:         5 * time.Minute,
		PollAttempts:       10,
		RequestTimeout:     3 * time.Minute,
		StaleAfter:         15 * time.Minute,
		DailySubmissionCap: 1000,
		Location:           time.Local,
	}
}

type EnqueueRequest struct {
	Payload    fiscal.QRPayload
	TenantID   string
	CustomerID string
}

type DrainStats struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued"`
}

func (s *DrainStats) record(status models.VerificationStatus) {
	switch status {
	case models.VerificationStatusSuccess:
		s.Succeeded++
	case models.VerificationStatusRejected:
		s.Rejected++
	case models.VerificationStatusFailed:
		s.Failed++
	default:
		s.Requeued++
	}
}

// VerificationQueue owns the lifecycle of verification requests, from
// admission through registry verification to the cashback award.
type VerificationQueue struct {
	tx        Transactor
	requests  VerificationRepository
	customers CustomerRepository
	offers    OfferRepository
	guard     *DuplicateGuard
	registry  providers.RegistryClient
	tokens    TokenSource
	engine    *CashbackEngine
	ledger    *AwardLedger
	publisher events.Publisher
	config    QueueConfig
	now       func() time.Time
	logger    *utils.Logger
}

func CreateVerificationQueue(
	tx Transactor,
	requests VerificationRepository,
	customers CustomerRepository,
	offers OfferRepository,
	guard *DuplicateGuard,
	registry providers.RegistryClient,
	tokens TokenSource,
	engine *CashbackEngine,
	ledger *AwardLedger,
	publisher events.Publisher,
	config QueueConfig,
) *VerificationQueue {
	defaults := DefaultQueueConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = defaults.RetryAfter
	}
	if config.PollAttempts <= 0 {
		config.PollAttempts = defaults.PollAttempts
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.DailySubmissionCap <= 0 {
		config.DailySubmissionCap = defaults.DailySubmissionCap
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &VerificationQueue{
		tx:        tx,
		requests:  requests,
		customers: customers,
		offers:    offers,
		guard:     guard,
		registry:  registry,
		tokens:    tokens,
		engine:    engine,
		ledger:    ledger,
		publisher: publisher,
		config:    config,
		now:       time.Now,
		logger:    utils.CreateLogger("verification-queue"),
	}
}

// Enqueue admits a decoded receipt and stores it as pending. Admission is
// re-checked under an advisory lock so concurrent submissions cannot both pass.
func (q *VerificationQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*models.VerificationRequest, error) {
	key := req.Payload.Key()
	receiptDate := req.Payload.Time()

	row := &models.VerificationRequest{
		FN:            key.FiscalStorageNumber,
		FD:            key.FiscalDocumentNumber,
		FP:            key.FiscalSign,
		Sum:           req.Payload.Sum,
		SumMinor:      req.Payload.SumMinor(),
		ReceiptDate:   receiptDate,
		OperationType: req.Payload.TypeOperation,
		TenantID:      req.TenantID,
		Status:        models.VerificationStatusPending,
	}
	if req.CustomerID != "" {
		customerID := req.CustomerID
		row.CustomerID = &customerID
	}

	lockKey := "receipt:" + key.String()
	if req.CustomerID != "" {
		lockKey = "customer:" + req.CustomerID
		if err := q.checkCustomer(ctx, req.CustomerID); err != nil {
			return nil, err
		}
	}

	err := q.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := q.requests.LockAdvisory(txCtx, lockKey); err != nil {
			return fmt.Errorf("acquire admission lock: %w", err)
		}

		decision := q.guard.Check(txCtx, req.CustomerID, req.TenantID, key, req.Payload.SumMinor(), receiptDate)
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrDuplicateOrOverLimit, decision.Reason)
		}

		if err := q.requests.LockAdvisory(txCtx, dailyCapLockKey); err != nil {
			return fmt.Errorf("acquire daily cap lock: %w", err)
		}
		submitted, err := q.requests.CountCreatedSince(txCtx, q.startOfDay())
		if err != nil {
			return fmt.Errorf("%w: daily cap unavailable", ErrDuplicateOrOverLimit)
		}
		if submitted >= int64(q.config.DailySubmissionCap) {
			return fmt.Errorf("%w: daily submission cap reached", ErrDuplicateOrOverLimit)
		}

		if err := q.requests.Create(txCtx, row); err != nil {
			if errors.Is(err, stores.ErrDuplicate) {
				return fmt.Errorf("%w: %s", ErrDuplicateOrOverLimit, ReasonReceiptAlreadySubmitted)
			}
			if errors.Is(err, stores.ErrMissingReference) {
				return ErrUnknownCustomer
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info(ctx, "Receipt queued for verification", map[string]interface{}{
		"request_id": row.ID,
		"tenant_id":  row.TenantID,
	})
	return row, nil
}

func (q *VerificationQueue) checkCustomer(ctx context.Context, customerID string) error {
	_, err := q.customers.GetByID(ctx, customerID)
	if errors.Is(err, stores.ErrNotFound) {
		return ErrUnknownCustomer
	}
	if err != nil {
		return fmt.Errorf("look up customer: %w", err)
	}
	return nil
}

// Get returns a request, hiding requests that belong to another tenant.
func (q *VerificationQueue) Get(ctx context.Context, id string) (*models.VerificationRequest, error) {
	req, err := q.requests.GetByID(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if tenantID := utils.GetTenantID(ctx); tenantID != "" && tenantID != req.TenantID {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

func (q *VerificationQueue) List(ctx context.Context, filter models.VerificationFilter) ([]*models.VerificationRequest, int64, error) {
	if tenantID := utils.GetTenantID(ctx); tenantID != "" {
		filter.TenantID = tenantID
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return q.requests.List(ctx, filter)
}

// DrainOnce claims a batch of pending requests and processes them on a
// bounded worker pool. One request failing never affects the others.
func (q *VerificationQueue) DrainOnce(ctx context.Context) (DrainStats, error) {
	start := time.Now()
	defer func() {
		monitoring.DrainDuration.Observe(time.Since(start).Seconds())
	}()

	var stats DrainStats

	if released, err := q.requests.RequeueStale(ctx, q.config.MaxAttempts, q.now().Add(-q.config.StaleAfter)); err != nil {
		q.logger.Warn(ctx, "Failed to requeue stale requests", map[string]interface{}{"error": err.Error()})
	} else if released > 0 {
		q.logger.Warn(ctx, "Requeued stale processing requests", map[string]interface{}{"count": released})
	}

	claimed, err := q.requests.ClaimPending(ctx, q.config.MaxAttempts, q.config.BatchSize, q.config.RetryAfter, q.now())
	if err != nil {
		return stats, fmt.Errorf("claim pending requests: %w", err)
	}
	stats.Claimed = len(claimed)
	if len(claimed) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(q.config.Workers)

	for _, req := range claimed {
		g.Go(func() error {
			status := q.processSafely(ctx, req)
			mu.Lock()
			stats.record(status)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	q.logger.Info(ctx, "Verification drain finished", map[string]interface{}{
		"claimed":   stats.Claimed,
		"succeeded": stats.Succeeded,
		"rejected":  stats.Rejected,
		"failed":    stats.Failed,
		"requeued":  stats.Requeued,
	})
	return stats, nil
}

func (q *VerificationQueue) processSafely(parent context.Context, req *models.VerificationRequest) (status models.VerificationStatus) {
	// detached: a scheduler shutdown must not abandon a request mid-poll
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), q.config.RequestTimeout)
	defer cancel()
	ctx = utils.WithCorrelationID(ctx, req.ID)

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error(ctx, "Panic while processing verification request", map[string]interface{}{
				"request_id": req.ID,
				"panic":      fmt.Sprint(r),
			})
			status = q.retryLater(ctx, req, errorCodeInternal, fmt.Sprintf("panic: %v", r), true)
		}
	}()

	return q.process(ctx, req)
}

func (q *VerificationQueue) process(ctx context.Context, req *models.VerificationRequest) models.VerificationStatus {
	token, err := q.tokens.GetValid(ctx)
	if err != nil {
		return q.handleRegistryError(ctx, req, err)
	}

	query := models.ReceiptQuery{
		Key:           req.Key(),
		SumMinor:      req.SumMinor,
		Date:          req.ReceiptDate,
		OperationType: req.OperationType,
	}
	ticketID, err := q.registry.Submit(ctx, query, token)
	if err != nil {
		return q.handleRegistryError(ctx, req, err)
	}
	req.TicketID = ticketID

	outcome, err := q.registry.WaitForResult(ctx, ticketID, token, q.config.PollAttempts)
	if err != nil {
		return q.handleRegistryError(ctx, req, err)
	}

	return q.applyOutcome(ctx, req, outcome)
}

func (q *VerificationQueue) handleRegistryError(ctx context.Context, req *models.VerificationRequest, err error) models.VerificationStatus {
	code := string(providers.ErrorCode(err))

	switch {
	case errors.Is(err, providers.ErrAuthUnavailable):
		// not the receipt's fault, so the attempt is refunded
		if req.Attempts > 0 {
			req.Attempts--
		}
		return q.retryLater(ctx, req, code, err.Error(), false)
	case errors.Is(err, providers.ErrRateLimited), errors.Is(err, providers.ErrTransport):
		return q.retryLater(ctx, req, code, err.Error(), true)
	case errors.Is(err, providers.ErrAuthRejected):
		q.tokens.Invalidate()
	}

	return q.finish(ctx, req, models.VerificationStatusFailed, code, err.Error())
}

// retryLater returns the request to pending, or fails it once its attempts are spent.
func (q *VerificationQueue) retryLater(ctx context.Context, req *models.VerificationRequest, code, message string, consumed bool) models.VerificationStatus {
	if consumed && req.Attempts >= q.config.MaxAttempts {
		return q.finish(ctx, req, models.VerificationStatusFailed, code, message)
	}

	req.Status = models.VerificationStatusPending
	req.ErrorCode = code
	req.LastError = message
	if err := q.requests.Update(ctx, req); err != nil {
		q.logger.Error(ctx, "Failed to requeue verification request", map[string]interface{}{
			"request_id": req.ID,
			"error":      err.Error(),
		})
	}
	q.logger.Warn(ctx, "Verification attempt deferred", map[string]interface{}{
		"request_id": req.ID,
		"attempts":   req.Attempts,
		"code":       code,
	})
	return models.VerificationStatusPending
}

// retryInternal defers a receipt the registry already verified. Our own storage
// failed, so the attempt is refunded and the receipt cannot run out of attempts.
func (q *VerificationQueue) retryInternal(ctx context.Context, req *models.VerificationRequest, message string) models.VerificationStatus {
	if req.Attempts > 0 {
		req.Attempts--
	}
	return q.retryLater(ctx, req, errorCodeInternal, message, false)
}

func (q *VerificationQueue) applyOutcome(ctx context.Context, req *models.VerificationRequest, outcome *models.RegistryOutcome) models.VerificationStatus {
	if raw, err := json.Marshal(outcome); err == nil {
		req.RegistryResponse = datatypes.JSON(raw)
	}
	isReturn, isFake := outcome.IsReturn, outcome.IsFake
	req.IsReturn = &isReturn
	req.IsFake = &isFake

	switch outcome.Status {
	case models.OutcomeSuccess:
		return q.award(ctx, req, outcome)
	case models.OutcomeRejected:
		valid := false
		req.IsValid = &valid
		code := ""
		switch {
		case outcome.Inconclusive:
			code = errorCodeInconclusive
		case outcome.IsReturn:
			code = errorCodeReturn
		}
		return q.finish(ctx, req, models.VerificationStatusRejected, code, outcome.Message)
	case models.OutcomeFailed:
		return q.finish(ctx, req, models.VerificationStatusFailed, "registry_failed", outcome.Message)
	default:
		return q.retryLater(ctx, req, string(providers.CodeTimeout), "registry outcome not terminal", true)
	}
}

func (q *VerificationQueue) award(ctx context.Context, req *models.VerificationRequest, outcome *models.RegistryOutcome) models.VerificationStatus {
	valid := true
	req.IsValid = &valid

	offers, err := q.offers.ActiveAt(ctx, req.TenantID, req.ReceiptDate)
	if err != nil {
		return q.retryInternal(ctx, req, fmt.Sprintf("load offers: %v", err))
	}

	result := q.engine.Calculate(outcome.Items, offers)
	req.CashbackAmount = result.Total

	if result.Total <= 0 || req.CustomerID == nil {
		req.CashbackAwarded = false
		return q.finish(ctx, req, models.VerificationStatusSuccess, "", "")
	}

	// outcome first, the ledger then flips the request to success atomically with the credit
	req.ErrorCode = ""
	req.LastError = ""
	if err := q.requests.Update(ctx, req); err != nil {
		return q.retryInternal(ctx, req, fmt.Sprintf("store outcome: %v", err))
	}

	awardID, err := q.ledger.Award(ctx, AwardRequest{
		RequestID:  req.ID,
		CustomerID: *req.CustomerID,
		TenantID:   req.TenantID,
		Amount:     result.Total,
		Items:      result.Items,
	})
	if err != nil {
		q.logger.Error(ctx, "Cashback award failed", map[string]interface{}{
			"request_id": req.ID,
			"amount":     result.Total,
			"error":      err.Error(),
		})
		return q.retryInternal(ctx, req, fmt.Sprintf("award: %v", err))
	}

	req.Status = models.VerificationStatusSuccess
	req.CashbackAwarded = true
	q.logger.Info(ctx, "Cashback awarded", map[string]interface{}{
		"request_id":     req.ID,
		"award_id":       awardID,
		"amount":         result.Total,
		"applied_offers": result.AppliedOfferIDs,
	})
	q.completed(ctx, req)
	return models.VerificationStatusSuccess
}

func (q *VerificationQueue) finish(ctx context.Context, req *models.VerificationRequest, status models.VerificationStatus, code, message string) models.VerificationStatus {
	req.Status = status
	req.ErrorCode = code
	req.LastError = message
	if err := q.requests.Update(ctx, req); err != nil {
		q.logger.Error(ctx, "Failed to store verification result", map[string]interface{}{
			"request_id": req.ID,
			"status":     status,
			"error":      err.Error(),
		})
	}
	q.completed(ctx, req)
	return status
}

func (q *VerificationQueue) completed(ctx context.Context, req *models.VerificationRequest) {
	monitoring.VerificationOutcomes.WithLabelValues(string(req.Status)).Inc()

	event := events.NewEvent(events.TypeVerificationCompleted, req.TenantID)
	event.RequestID = req.ID
	event.Status = string(req.Status)
	event.Amount = req.CashbackAmount
	if req.CustomerID != nil {
		event.CustomerID = *req.CustomerID
	}
	if err := q.publisher.Publish(ctx, event); err != nil {
		q.logger.Warn(ctx, "Failed to publish verification event", map[string]interface{}{
			"request_id": req.ID,
			"error":      err.Error(),
		})
	}
}

func (q *VerificationQueue) startOfDay() time.Time {
	now := q.now().In(q.config.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, q.config.Location)
}
