// Package analytics summarises verification and cashback activity for operators.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownPeriod = errors.New("unknown report period")

const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

var periodDays = map[string]int{PeriodDaily: 1, PeriodWeekly: 7, PeriodMonthly: 30}

type StatusCounter interface {
	CountByStatus(ctx context.Context, tenantID string, from, to time.Time) ([]models.StatusCount, error)
}

type AwardTotaler interface {
	DailyTotals(ctx context.Context, tenantID string, from, to time.Time, timezone string) ([]models.DailyAwardTotal, error)
}

type CashbackReport struct {
	Period         string                              `json:"period"`
	TenantID       string                              `json:"tenant_id,omitempty"`
	From           time.Time                           `json:"from"`
	To             time.Time                           `json:"to"`
	Scans          map[models.VerificationStatus]int64 `json:"scans"`
	TotalScans     int64                               `json:"total_scans"`
	SuccessRate    float64                             `json:"success_rate"`
	AwardCount     int64                               `json:"award_count"`
	AwardedAmount  int64                               `json:"awarded_amount"`
	CanceledCount  int64                               `json:"canceled_count"`
	CanceledAmount int64                               `json:"canceled_amount"`
	NetAmount      int64                               `json:"net_amount"`
	AverageAward   float64                             `json:"average_award"`
	Breakdown      []models.DailyAwardTotal            `json:"breakdown"`
}

type Reporter struct {
	requests StatusCounter
	awards   AwardTotaler
	location *time.Location
	now      func() time.Time
}

func CreateReporter(requests StatusCounter, awards AwardTotaler, location *time.Location) *Reporter {
	if location == nil {
		location = time.UTC
	}
	return &Reporter{
		requests: requests,
		awards:   awards,
		location: location,
		now:      time.Now,
	}
}

// GetCashbackReport covers whole local days ending today: one day for daily,
// seven for weekly and thirty for monthly. The tenant comes from ctx; an
// admin without a tenant sees every tenant.
func (r *Reporter) GetCashbackReport(ctx context.Context, period string) (*CashbackReport, error) {
	if period == "" {
		period = PeriodDaily
	}
	days, ok := periodDays[period]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}

	now := r.now().In(r.location)
	to := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, r.location)
	from := to.AddDate(0, 0, -days)
	tenantID := utils.GetTenantID(ctx)

	var counts []models.StatusCount
	var totals []models.DailyAwardTotal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = r.requests.CountByStatus(gctx, tenantID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		totals, err = r.awards.DailyTotals(gctx, tenantID, from, to, r.location.String())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build %s report: %w", period, err)
	}

	report := &CashbackReport{
		Period:    period,
		TenantID:  tenantID,
		From:      from,
		To:        to,
		Scans:     make(map[models.VerificationStatus]int64, len(counts)),
		Breakdown: totals,
	}
	if report.Breakdown == nil {
		report.Breakdown = []models.DailyAwardTotal{}
	}

	for _, c := range counts {
		report.Scans[c.Status] += c.Count
		report.TotalScans += c.Count
	}
	decided := report.Scans[models.VerificationStatusSuccess] +
		report.Scans[models.VerificationStatusRejected] +
		report.Scans[models.VerificationStatusFailed]
	if decided > 0 {
		report.SuccessRate = float64(report.Scans[models.VerificationStatusSuccess]) / float64(decided)
	}

	for _, day := range totals {
		report.AwardCount += day.AwardedCount
		report.AwardedAmount += day.AwardedAmount
		report.CanceledCount += day.CanceledCount
		report.CanceledAmount += day.CanceledAmount
	}
	report.NetAmount = report.AwardedAmount - report.CanceledAmount
	if report.AwardCount > 0 {
		report.AverageAward = float64(report.AwardedAmount) / float64(report.AwardCount)
	}

	return report, nil
}
