package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/malwarebo/cashback/utils"
)

type AlertLevel int

const (
	Info AlertLevel = iota
	Warning
	Critical
)

func (al AlertLevel) String() string {
	switch al {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

type Alert struct {
	ID         string
	RuleID     string
	Level      AlertLevel
	Title      string
	Message    string
	Timestamp  time.Time
	Resolved   bool
	ResolvedAt *time.Time
	Metadata   map[string]interface{}
}

type AlertRule struct {
	ID        string
	Name      string
	Condition func(metrics map[string]float64) bool
	Level     AlertLevel
	Cooldown  time.Duration
	Enabled   bool

	lastTriggered time.Time
}

type AlertChannel interface {
	Send(ctx context.Context, alert *Alert) error
}

// LogAlertChannel writes alerts to the structured log.
type LogAlertChannel struct {
	logger *utils.Logger
}

func CreateLogAlertChannel() *LogAlertChannel {
	return &LogAlertChannel{logger: utils.CreateLogger("alerting")}
}

func (c *LogAlertChannel) Send(ctx context.Context, alert *Alert) error {
	fields := map[string]interface{}{
		"alert_id": alert.ID,
		"rule_id":  alert.RuleID,
		"level":    alert.Level.String(),
	}
	for k, v := range alert.Metadata {
		fields[k] = v
	}
	if alert.Level >= Critical {
		c.logger.Error(ctx, alert.Title+": "+alert.Message, fields)
	} else {
		c.logger.Warn(ctx, alert.Title+": "+alert.Message, fields)
	}
	return nil
}

// MetricsSource returns the current values alert rules are evaluated against.
type MetricsSource func(ctx context.Context) map[string]float64

type AlertManager struct {
	mu       sync.RWMutex
	alerts   map[string]*Alert
	rules    map[string]*AlertRule
	channels []AlertChannel
	source   MetricsSource
	now      func() time.Time
	seq      int
}

func CreateAlertManager(source MetricsSource, channels ...AlertChannel) *AlertManager {
	return &AlertManager{
		alerts:   make(map[string]*Alert),
		rules:    make(map[string]*AlertRule),
		channels: channels,
		source:   source,
		now:      time.Now,
	}
}

func (am *AlertManager) AddRule(rule *AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules[rule.ID] = rule
}

func (am *AlertManager) TriggerAlert(ctx context.Context, alert *Alert) {
	am.mu.Lock()
	am.seq++
	alert.ID = fmt.Sprintf("alert_%d_%d", am.now().Unix(), am.seq)
	alert.Timestamp = am.now()
	am.alerts[alert.ID] = alert
	channels := append([]AlertChannel(nil), am.channels...)
	am.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Send(ctx, alert); err != nil {
			utils.Warn(ctx, "Failed to send alert", map[string]interface{}{
				"alert_id": alert.ID,
				"error":    err.Error(),
			})
		}
	}
}

func (am *AlertManager) ResolveAlert(alertID string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, exists := am.alerts[alertID]
	if !exists {
		return fmt.Errorf("alert not found: %s", alertID)
	}

	now := am.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	return nil
}

func (am *AlertManager) GetAlerts(resolved bool) []*Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var alerts []*Alert
	for _, alert := range am.alerts {
		if alert.Resolved == resolved {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// Evaluate checks every enabled rule once against the current metrics.
func (am *AlertManager) Evaluate(ctx context.Context) int {
	if am.source == nil {
		return 0
	}
	metrics := am.source(ctx)

	am.mu.Lock()
	var fired []*AlertRule
	now := am.now()
	for _, rule := range am.rules {
		if !rule.Enabled || now.Sub(rule.lastTriggered) < rule.Cooldown {
			continue
		}
		if rule.Condition(metrics) {
			rule.lastTriggered = now
			fired = append(fired, rule)
		}
	}
	am.mu.Unlock()

	for _, rule := range fired {
		meta := make(map[string]interface{}, len(metrics))
		for k, v := range metrics {
			meta[k] = v
		}
		am.TriggerAlert(ctx, &Alert{
			RuleID:   rule.ID,
			Level:    rule.Level,
			Title:    rule.Name,
			Message:  fmt.Sprintf("rule %s triggered", rule.ID),
			Metadata: meta,
		})
	}
	return len(fired)
}

func (am *AlertManager) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.Evaluate(ctx)
		}
	}
}
