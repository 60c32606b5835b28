package app

import (
	"context"
	"testing"

	"github.com/malwarebo/cashback/config"
	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/security"
)

func TestRateLimitTiers(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.SecurityConfig
		wantScan  float64
		wantAdmin float64
		wantBurst int
	}{
		{"configured", config.SecurityConfig{RateLimitEnabled: true, RateLimitRPS: 10, RateLimitBurst: 20}, 10, 50, 20},
		{"burst derived", config.SecurityConfig{RateLimitEnabled: true, RateLimitRPS: 4}, 4, 20, 8},
		{"disabled", config.SecurityConfig{RateLimitRPS: 10, RateLimitBurst: 20}, 1000, 5000, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers := rateLimitTiers(tt.cfg)
			if got := tiers[security.TierScan].RequestsPerSecond; got != tt.wantScan {
				t.Errorf("scan rps = %v, want %v", got, tt.wantScan)
			}
			if got := tiers[security.TierAdmin].RequestsPerSecond; got != tt.wantAdmin {
				t.Errorf("admin rps = %v, want %v", got, tt.wantAdmin)
			}
			if got := tiers[security.TierScan].Burst; got != tt.wantBurst {
				t.Errorf("scan burst = %d, want %d", got, tt.wantBurst)
			}
		})
	}
}

func TestDrainAlertRules(t *testing.T) {
	tests := []struct {
		name    string
		metrics map[string]float64
		want    int
	}{
		{"quiet drain", map[string]float64{"drain_claimed": 10, "drain_requeue_ratio": 0.1}, 0},
		{"failures", map[string]float64{"drain_claimed": 2, "drain_failed": 1}, 1},
		{"requeue storm", map[string]float64{"drain_claimed": 10, "drain_requeued": 8, "drain_requeue_ratio": 0.8}, 1},
		{"small batch ignored", map[string]float64{"drain_claimed": 2, "drain_requeue_ratio": 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := tt.metrics
			am := monitoring.CreateAlertManager(func(context.Context) map[string]float64 { return metrics })
			addDrainAlertRules(am)
			if got := am.Evaluate(context.Background()); got != tt.want {
				t.Errorf("Evaluate() = %d, want %d", got, tt.want)
			}
		})
	}
}
