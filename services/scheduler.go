package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/malwarebo/cashback/utils"
)

// Drainer is the part of the queue the scheduler drives.
type Drainer interface {
	DrainOnce(ctx context.Context) (DrainStats, error)
}

// Scheduler drains the verification queue on a fixed interval. A tick that
// fires while the previous drain is still running is skipped.
type Scheduler struct {
	queue    Drainer
	interval time.Duration
	running  atomic.Bool
	last     atomic.Pointer[DrainStats]
	logger   *utils.Logger
}

func CreateScheduler(queue Drainer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		queue:    queue,
		interval: interval,
		logger:   utils.CreateLogger("scheduler"),
	}
}

// Tick runs one drain unless one is already in progress. It reports whether it ran.
func (s *Scheduler) Tick(ctx context.Context) (DrainStats, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "Previous drain still running, skipping tick")
		return DrainStats{}, false
	}
	defer s.running.Store(false)

	stats, err := s.queue.DrainOnce(ctx)
	if err != nil {
		s.logger.Error(ctx, "Verification drain failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.last.Store(&stats)
	return stats, true
}

// LastStats returns the counters of the most recent completed drain.
func (s *Scheduler) LastStats() DrainStats {
	if stats := s.last.Load(); stats != nil {
		return *stats
	}
	return DrainStats{}
}

// AlertMetrics exposes the last drain to alert rules.
func (s *Scheduler) AlertMetrics(ctx context.Context) map[string]float64 {
	stats := s.LastStats()
	metrics := map[string]float64{
		"drain_claimed":  float64(stats.Claimed),
		"drain_failed":   float64(stats.Failed),
		"drain_requeued": float64(stats.Requeued),
	}
	if stats.Claimed > 0 {
		metrics["drain_requeue_ratio"] = float64(stats.Requeued) / float64(stats.Claimed)
	}
	return metrics
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Verification scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "Verification scheduler stopped")
			return
		case <-ticker.C:
			go s.Tick(ctx)
		}
	}
}
