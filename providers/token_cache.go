package providers

import (
	"context"
	"sync"
	"time"

	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/utils"
	"golang.org/x/sync/singleflight"
)

const (
	tokenExpiryMargin   = 60 * time.Second
	tokenRefreshTimeout = 30 * time.Second
	tokenFlightKey      = "registry-token"
)

type Authenticator interface {
	Authenticate(ctx context.Context) (string, time.Time, error)
}

// TokenStore persists the registry session token across restarts.
// LoadToken returns an empty token when nothing is stored.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, time.Time, error)
	SaveToken(ctx context.Context, token string, expiresAt time.Time) error
}

type TokenCache struct {
	auth   Authenticator
	store  TokenStore
	group  singleflight.Group
	logger *utils.Logger
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	recovered bool
}

func CreateTokenCache(auth Authenticator, store TokenStore) *TokenCache {
	return &TokenCache{
		auth:   auth,
		store:  store,
		logger: utils.CreateLogger("token-cache"),
		now:    time.Now,
	}
}

// GetValid returns a token that stays valid for at least the expiry margin.
func (c *TokenCache) GetValid(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}
	return c.flight(ctx, false)
}

// Refresh always obtains a fresh token from the registry.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	return c.flight(ctx, true)
}

// Invalidate drops the cached token, e.g. after the registry rejected it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.recovered = true
}

func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" && c.isFresh(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *TokenCache) isFresh(expiresAt time.Time) bool {
	return c.now().Before(expiresAt.Add(-tokenExpiryMargin))
}

func (c *TokenCache) flight(ctx context.Context, force bool) (string, error) {
	ch := c.group.DoChan(tokenFlightKey, func() (interface{}, error) {
		// detached so one caller's cancellation does not fail everyone sharing the flight
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenRefreshTimeout)
		defer cancel()
		return c.obtain(flightCtx, force)
	})

	select {
	case <-ctx.Done():
		return "", newRegistryError(CodeAuthUnavailable, "token refresh abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) obtain(ctx context.Context, force bool) (string, error) {
	if !force {
		if token, ok := c.cached(); ok {
			return token, nil
		}
		if token, ok := c.recover(ctx); ok {
			return token, nil
		}
	}

	token, expiresAt, err := c.auth.Authenticate(ctx)
	if err == nil && !c.isFresh(expiresAt) {
		err = newRegistryError(CodeTransport, "registry issued an already expiring token", nil)
	}
	if err != nil {
		monitoring.RegistryTokenRefresh.WithLabelValues("failure").Inc()
		c.logger.Error(ctx, "Registry token refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
		return "", newRegistryError(CodeAuthUnavailable, err.Error(), nil)
	}

	c.mu.Lock()
	c.token = token
	c.expiresAt = expiresAt
	c.recovered = true
	c.mu.Unlock()
	monitoring.RegistryTokenRefresh.WithLabelValues("success").Inc()

	if c.store != nil {
		if err := c.store.SaveToken(ctx, token, expiresAt); err != nil {
			c.logger.Warn(ctx, "Failed to persist registry token", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	c.logger.Info(ctx, "Registry token refreshed", map[string]interface{}{
		"expires_at": expiresAt,
	})
	return token, nil
}

// recover loads the persisted token once per process.
func (c *TokenCache) recover(ctx context.Context) (string, bool) {
	c.mu.Lock()
	done := c.recovered
	c.recovered = true
	c.mu.Unlock()

	if done || c.store == nil {
		return "", false
	}

	token, expiresAt, err := c.store.LoadToken(ctx)
	if err != nil {
		c.logger.Warn(ctx, "Failed to load persisted registry token", map[string]interface{}{
			"error": err.Error(),
		})
		return "", false
	}
	if token == "" || !c.isFresh(expiresAt) {
		return "", false
	}

	c.mu.Lock()
	c.token = token
	c.expiresAt = expiresAt
	c.mu.Unlock()
	monitoring.RegistryTokenRefresh.WithLabelValues("recovered").Inc()
	return token, true
}
