package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malwarebo/cashback/events"
	"github.com/malwarebo/cashback/models"
)

type stubTenants map[string]*models.Tenant

func (s stubTenants) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant, ok := s[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return tenant, nil
}

func createTestManager(url string) *WebhookManager {
	wm := CreateWebhookManager(stubTenants{
		"tenant-1": {ID: "tenant-1", WebhookURL: url, WebhookSecret: "whsec"},
		"tenant-2": {ID: "tenant-2"},
	})
	wm.retry.BaseDelay = time.Millisecond
	wm.retry.MaxDelay = time.Millisecond
	return wm
}

func TestWebhookManager_DeliverSignsPayload(t *testing.T) {
	var verified atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified.Store(VerifySignature(body, "whsec", r.Header.Get("X-Webhook-Signature")))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wm := createTestManager(server.URL)
	event := events.NewEvent(events.TypeCashbackAwarded, "tenant-1")

	if err := wm.Deliver(context.Background(), event); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if !verified.Load() {
		t.Error("Deliver() signature did not verify")
	}
}

func TestWebhookManager_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	wm := createTestManager(server.URL)
	if err := wm.Deliver(context.Background(), events.NewEvent(events.TypeCashbackCanceled, "tenant-1")); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Deliver() calls = %d, want 3", calls.Load())
	}
}

func TestWebhookManager_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	wm := createTestManager(server.URL)
	if err := wm.Deliver(context.Background(), events.NewEvent(events.TypeCashbackAwarded, "tenant-1")); err == nil {
		t.Error("Deliver() error = nil, want error")
	}
	if calls.Load() != 1 {
		t.Errorf("Deliver() calls = %d, want 1", calls.Load())
	}
}

func TestWebhookManager_SkipsTenantWithoutURL(t *testing.T) {
	wm := createTestManager("")
	if err := wm.Deliver(context.Background(), events.NewEvent(events.TypeCashbackAwarded, "tenant-2")); err != nil {
		t.Errorf("Deliver() error = %v, want nil", err)
	}
}
