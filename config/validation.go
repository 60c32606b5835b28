package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Security.Validate(c.IsProduction()); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("guard config: %w", err)
	}

	if c.Kafka.Enabled && c.Kafka.BootstrapServers == "" {
		return fmt.Errorf("kafka config: bootstrap servers are required when kafka is enabled")
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.EnableTLS && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when tls is enabled")
	}
	return nil
}

func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *SecurityConfig) Validate(production bool) error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required - set JWT_SECRET environment variable")
	}
	if production && len(c.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 characters in production")
	}
	if c.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("encryption key must be 32 bytes, base64 encoded")
		}
	}
	return nil
}

func (c *RegistryConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required - set REGISTRY_BASE_URL environment variable")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("base url is invalid: %w", err)
	}
	if c.MasterToken == "" {
		return fmt.Errorf("master token is required - set REGISTRY_MASTER_TOKEN environment variable")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	return nil
}

func (c *QueueConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.DrainInterval < time.Second {
		return fmt.Errorf("drain interval must be at least 1s")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", c.Timezone)
	}
	return nil
}

func (c *GuardConfig) Validate() error {
	if c.HourlySuccessLimit < 1 {
		return fmt.Errorf("hourly success limit must be at least 1")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1]")
	}
	return nil
}
