package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/malwarebo/cashback/events"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
)

const deliveryTimeout = 10 * time.Second

type TenantLookup interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

// WebhookManager posts pipeline events to the tenant's configured webhook URL.
type WebhookManager struct {
	tenants TenantLookup
	client  *http.Client
	retry   *utils.RetryConfig
	logger  *utils.Logger
}

func CreateWebhookManager(tenants TenantLookup) *WebhookManager {
	retry := utils.CreateDefaultRetryConfig()
	retry.BaseDelay = time.Second
	retry.MaxDelay = 10 * time.Second

	return &WebhookManager{
		tenants: tenants,
		client:  &http.Client{Timeout: deliveryTimeout},
		retry:   retry,
		logger:  utils.CreateLogger("webhooks"),
	}
}

// Publish delivers in the background so webhook latency never holds up the pipeline.
func (wm *WebhookManager) Publish(ctx context.Context, event events.Event) error {
	go func() {
		bg := context.WithoutCancel(ctx)
		if err := wm.Deliver(bg, event); err != nil {
			wm.logger.Warn(bg, "Webhook delivery failed", map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
				"tenant_id":  event.TenantID,
				"error":      err.Error(),
			})
		}
	}()
	return nil
}

// Deliver sends one event, retrying transient failures.
func (wm *WebhookManager) Deliver(ctx context.Context, event events.Event) error {
	tenant, err := wm.tenants.GetByID(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("resolve tenant webhook: %w", err)
	}
	if tenant.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	signature := generateSignature(payload, tenant.WebhookSecret)

	return utils.CreateRetry(ctx, wm.retry, func() error {
		return wm.deliverWebhook(ctx, tenant.WebhookURL, payload, signature)
	})
}

func (wm *WebhookManager) deliverWebhook(ctx context.Context, url string, payload []byte, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := createRequest(ctx, url, payload, signature)
	if err != nil {
		return utils.CreatePermanentError(err)
	}

	resp, err := wm.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	default:
		return utils.CreatePermanentError(fmt.Errorf("webhook endpoint returned %d", resp.StatusCode))
	}
}

func createRequest(ctx context.Context, url string, payload []byte, signature string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	return req, nil
}

func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature lets receivers and tests check a delivered payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
