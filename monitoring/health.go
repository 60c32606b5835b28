package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
	Degraded  HealthStatus = "degraded"
)

type HealthCheck struct {
	Name     string       `json:"name"`
	Status   HealthStatus `json:"status"`
	Duration string       `json:"duration"`
	Error    string       `json:"error,omitempty"`
}

type check struct {
	fn       func(context.Context) error
	critical bool
}

// HealthService runs dependency checks concurrently. A failing critical check
// makes the service unhealthy, a failing optional one only degrades it.
type HealthService struct {
	mu        sync.RWMutex
	checks    map[string]check
	timeout   time.Duration
	startTime time.Time
	version   string
}

type SystemHealth struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
}

func CreateHealthService(version string) *HealthService {
	return &HealthService{
		checks:    make(map[string]check),
		timeout:   5 * time.Second,
		startTime: time.Now(),
		version:   version,
	}
}

func (hs *HealthService) AddCheck(name string, fn func(context.Context) error) {
	hs.add(name, fn, true)
}

func (hs *HealthService) AddOptionalCheck(name string, fn func(context.Context) error) {
	hs.add(name, fn, false)
}

func (hs *HealthService) add(name string, fn func(context.Context) error, critical bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checks[name] = check{fn: fn, critical: critical}
}

func (hs *HealthService) GetHealth(ctx context.Context) SystemHealth {
	hs.mu.RLock()
	checks := make(map[string]check, len(hs.checks))
	for name, c := range hs.checks {
		checks[name] = c
	}
	hs.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]HealthCheck, len(checks))
		status  = Healthy
	)

	for name, c := range checks {
		wg.Add(1)
		go func(name string, c check) {
			defer wg.Done()
			result := hs.run(ctx, name, c)

			mu.Lock()
			defer mu.Unlock()
			results[name] = result
			if result.Status == Unhealthy {
				if c.critical {
					status = Unhealthy
				} else if status == Healthy {
					status = Degraded
				}
			}
		}(name, c)
	}
	wg.Wait()

	return SystemHealth{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    results,
		Uptime:    time.Since(hs.startTime).Round(time.Second).String(),
		Version:   hs.version,
	}
}

func (hs *HealthService) run(ctx context.Context, name string, c check) HealthCheck {
	checkCtx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(checkCtx)
	result := HealthCheck{
		Name:     name,
		Status:   Healthy,
		Duration: time.Since(start).String(),
	}
	if err != nil {
		result.Status = Unhealthy
		result.Error = err.Error()
	}
	return result
}
