package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	TierScan    = "scan"
	TierAdmin   = "admin"
	TierDefault = "default"
)

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	cleanup  *time.Timer
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
}

func CreateRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
	rl.startCleanup()
	return rl
}

func (rl *RateLimiter) limiter(key string, config RateLimitConfig) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Allow(key string, config RateLimitConfig) bool {
	return rl.limiter(key, config).Allow()
}

// GetStats reports the tokens left for key and how long until the next one.
func (rl *RateLimiter) GetStats(key string) (int, time.Duration, bool) {
	rl.mu.Lock()
	limiter, exists := rl.limiters[key]
	rl.mu.Unlock()
	if !exists {
		return 0, 0, false
	}

	tokens := limiter.Tokens()
	var next time.Duration
	if tokens < 1 && limiter.Limit() > 0 {
		next = time.Duration((1 - tokens) / float64(limiter.Limit()) * float64(time.Second))
	}
	return int(tokens), next, true
}

func (rl *RateLimiter) startCleanup() {
	rl.cleanup = time.AfterFunc(5*time.Minute, func() {
		rl.mu.Lock()
		now := time.Now()
		for key, limiter := range rl.limiters {
			if limiter.TokensAt(now) >= float64(limiter.Burst()) {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()

		rl.startCleanup()
	})
}

func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.cleanup != nil {
		rl.cleanup.Stop()
	}
}

// TieredRateLimiter applies a per-tier budget. Unknown tiers fall back to "default".
type TieredRateLimiter struct {
	tiers map[string]RateLimitConfig
	rl    *RateLimiter
}

func CreateTieredRateLimiter(tiers map[string]RateLimitConfig) *TieredRateLimiter {
	return &TieredRateLimiter{
		tiers: tiers,
		rl:    CreateRateLimiter(),
	}
}

func (trl *TieredRateLimiter) config(tier string) (string, RateLimitConfig) {
	if config, exists := trl.tiers[tier]; exists {
		return tier, config
	}
	return TierDefault, trl.tiers[TierDefault]
}

func (trl *TieredRateLimiter) Allow(key, tier string) bool {
	tier, config := trl.config(tier)
	return trl.rl.Allow(tier+":"+key, config)
}

func (trl *TieredRateLimiter) GetStats(key, tier string) (int, time.Duration, bool) {
	tier, _ = trl.config(tier)
	return trl.rl.GetStats(tier + ":" + key)
}

func (trl *TieredRateLimiter) Close() {
	trl.rl.Close()
}
