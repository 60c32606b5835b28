package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const registryTokenKey = "cashback:registry:token"

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration // Default TTL for cache entries
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func CreateRedisCache(config RedisConfig) (*RedisCache, error) {
	// Convert port to string
	portStr := strconv.Itoa(config.Port)

	addr := config.Host + ":" + portStr
	if config.Port == 0 {
		addr = config.Host + ":6379" // Default Redis port
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// SetWithTTL stores value under key. A non-positive ttl falls back to the configured default.
func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

type storedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoadToken returns the persisted registry token, or an empty token if none is stored.
func (c *RedisCache) LoadToken(ctx context.Context) (string, time.Time, error) {
	raw, err := c.client.Get(ctx, registryTokenKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}

	var stored storedToken
	if err := json.Unmarshal(raw, &stored); err != nil {
		return "", time.Time{}, err
	}
	return stored.Token, stored.ExpiresAt, nil
}

// SaveToken keeps the token until it expires.
func (c *RedisCache) SaveToken(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return c.Delete(ctx, registryTokenKey)
	}

	raw, err := json.Marshal(storedToken{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	return c.SetWithTTL(ctx, registryTokenKey, raw, ttl)
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
