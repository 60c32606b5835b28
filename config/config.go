package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string           `json:"environment" env:"ENVIRONMENT"`
	Database    DatabaseConfig   `json:"database"`
	Server      ServerConfig     `json:"server"`
	Redis       RedisConfig      `json:"redis"`
	Security    SecurityConfig   `json:"security"`
	Registry    RegistryConfig   `json:"registry"`
	Queue       QueueConfig      `json:"queue"`
	Guard       GuardConfig      `json:"guard"`
	Kafka       KafkaConfig      `json:"kafka"`
	Monitoring  MonitoringConfig `json:"monitoring"`
}

type DatabaseConfig struct {
	Host         string        `json:"host" env:"DB_HOST"`
	Port         int           `json:"port" env:"DB_PORT"`
	User         string        `json:"user" env:"DB_USER"`
	Password     string        `json:"password" env:"DB_PASSWORD"`
	DBName       string        `json:"dbname" env:"DB_NAME"`
	SSLMode      string        `json:"sslmode" env:"DB_SSLMODE"`
	MaxOpenConns int           `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns int           `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	MaxLifetime  time.Duration `json:"max_lifetime" env:"DB_MAX_LIFETIME"`
	MaxIdleTime  time.Duration `json:"max_idle_time" env:"DB_MAX_IDLE_TIME"`
	ReplicaDSNs  []string      `json:"replica_dsns" env:"DB_REPLICA_DSNS" envSeparator:";"`
}

type ServerConfig struct {
	Port           string        `json:"port" env:"SERVER_PORT"`
	ReadTimeout    time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `json:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	MaxHeaderBytes int           `json:"max_header_bytes" env:"SERVER_MAX_HEADER_BYTES"`
	EnableTLS      bool          `json:"enable_tls" env:"SERVER_ENABLE_TLS"`
	TLSCertFile    string        `json:"tls_cert_file" env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile     string        `json:"tls_key_file" env:"SERVER_TLS_KEY_FILE"`
	AllowedOrigins []string      `json:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS" envSeparator:","`
}

type RedisConfig struct {
	Enabled  bool          `json:"enabled" env:"REDIS_ENABLED"`
	Host     string        `json:"host" env:"REDIS_HOST"`
	Port     int           `json:"port" env:"REDIS_PORT"`
	Password string        `json:"password" env:"REDIS_PASSWORD"`
	DB       int           `json:"db" env:"REDIS_DB"`
	TTL      time.Duration `json:"ttl" env:"REDIS_TTL"`
}

type SecurityConfig struct {
	JWTSecret        string        `json:"jwt_secret" env:"JWT_SECRET"`
	EncryptionKey    string        `json:"encryption_key" env:"ENCRYPTION_KEY"`
	JWTExpiration    time.Duration `json:"jwt_expiration" env:"JWT_EXPIRATION"`
	RateLimitEnabled bool          `json:"rate_limit_enabled" env:"RATE_LIMIT_ENABLED"`
	RateLimitRPS     float64       `json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RegistryConfig holds the tax registry endpoint and credentials.
type RegistryConfig struct {
	BaseURL            string        `json:"base_url" env:"REGISTRY_BASE_URL"`
	AuthURL            string        `json:"auth_url" env:"REGISTRY_AUTH_URL"`
	MasterToken        string        `json:"master_token" env:"REGISTRY_MASTER_TOKEN"`
	UserToken          string        `json:"user_token" env:"REGISTRY_USER_TOKEN"`
	Timeout            time.Duration `json:"timeout" env:"REGISTRY_TIMEOUT"`
	RequestsPerSecond  float64       `json:"requests_per_second" env:"REGISTRY_RPS"`
	Burst              int           `json:"burst" env:"REGISTRY_BURST"`
	PollAttempts       int           `json:"poll_attempts" env:"REGISTRY_POLL_ATTEMPTS"`
	BreakerMaxFailures int           `json:"breaker_max_failures" env:"REGISTRY_BREAKER_MAX_FAILURES"`
	BreakerTimeout     time.Duration `json:"breaker_timeout" env:"REGISTRY_BREAKER_TIMEOUT"`
}

type QueueConfig struct {
	DrainInterval      time.Duration `json:"drain_interval" env:"QUEUE_DRAIN_INTERVAL"`
	MaxAttempts        int           `json:"max_attempts" env:"QUEUE_MAX_ATTEMPTS"`
	BatchSize          int           `json:"batch_size" env:"QUEUE_BATCH_SIZE"`
	Workers            int           `json:"workers" env:"QUEUE_WORKERS"`
	RetryAfter         time.Duration `json:"retry_after" env:"QUEUE_RETRY_AFTER"`
	RequestTimeout     time.Duration `json:"request_timeout" env:"QUEUE_REQUEST_TIMEOUT"`
	StaleAfter         time.Duration `json:"stale_after" env:"QUEUE_STALE_AFTER"`
	DailySubmissionCap int           `json:"daily_submission_cap" env:"QUEUE_DAILY_SUBMISSION_CAP"`
	Timezone           string        `json:"timezone" env:"QUEUE_TIMEZONE"`
}

type GuardConfig struct {
	HourlySuccessLimit  int           `json:"hourly_success_limit" env:"GUARD_HOURLY_SUCCESS_LIMIT"`
	Window              time.Duration `json:"window" env:"GUARD_WINDOW"`
	AwardWindow         time.Duration `json:"award_window" env:"GUARD_AWARD_WINDOW"`
	SimilarityThreshold float64       `json:"similarity_threshold" env:"GUARD_SIMILARITY_THRESHOLD"`
}

type KafkaConfig struct {
	Enabled          bool   `json:"enabled" env:"KAFKA_ENABLED"`
	BootstrapServers string `json:"bootstrap_servers" env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic            string `json:"topic" env:"KAFKA_TOPIC"`
	ClientID         string `json:"client_id" env:"KAFKA_CLIENT_ID"`
}

type MonitoringConfig struct {
	Enabled         bool   `json:"enabled" env:"MONITORING_ENABLED"`
	AlertingEnabled bool   `json:"alerting_enabled" env:"ALERTING_ENABLED"`
	LogLevel        string `json:"log_level" env:"LOG_LEVEL"`
	LogFormat       string `json:"log_format" env:"LOG_FORMAT"`
}

// LoadConfig reads config/config.json, applies .env and environment overrides,
// then fills per-environment defaults.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(filepath.Join("config", "config.json"))
}

func LoadConfigFrom(configPath string) (*Config, error) {
	config := &Config{}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// a missing .env is normal outside local development
	_ = godotenv.Load()

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if config.Environment == "" {
		config.Environment = "development"
	}
	config.Kafka.BootstrapServers = strings.Trim(config.Kafka.BootstrapServers, "\"")

	config.setDefaults()
	config.setEnvironmentDefaults()

	return config, nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Security.JWTExpiration == 0 {
		c.Security.JWTExpiration = 12 * time.Hour
	}

	if c.Registry.Timeout == 0 {
		c.Registry.Timeout = 30 * time.Second
	}
	if c.Registry.RequestsPerSecond == 0 {
		c.Registry.RequestsPerSecond = 5
	}
	if c.Registry.Burst == 0 {
		c.Registry.Burst = 1
	}
	if c.Registry.PollAttempts == 0 {
		c.Registry.PollAttempts = 10
	}
	if c.Registry.BreakerMaxFailures == 0 {
		c.Registry.BreakerMaxFailures = 5
	}
	if c.Registry.BreakerTimeout == 0 {
		c.Registry.BreakerTimeout = time.Minute
	}

	if c.Queue.DrainInterval == 0 {
		c.Queue.DrainInterval = 30 * time.Second
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 3
	}
	if c.Queue.RetryAfter == 0 {
		c.Queue.RetryAfter = 5 * time.Minute
	}
	if c.Queue.RequestTimeout == 0 {
		c.Queue.RequestTimeout = 3 * time.Minute
	}
	if c.Queue.StaleAfter == 0 {
		c.Queue.StaleAfter = 15 * time.Minute
	}
	if c.Queue.DailySubmissionCap == 0 {
		c.Queue.DailySubmissionCap = 1000
	}
	if c.Queue.Timezone == "" {
		c.Queue.Timezone = "Europe/Moscow"
	}

	if c.Guard.HourlySuccessLimit == 0 {
		c.Guard.HourlySuccessLimit = 5
	}
	if c.Guard.Window == 0 {
		c.Guard.Window = time.Hour
	}
	if c.Guard.AwardWindow == 0 {
		c.Guard.AwardWindow = 24 * time.Hour
	}
	if c.Guard.SimilarityThreshold == 0 {
		c.Guard.SimilarityThreshold = 0.6
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "cashback-events"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "cashback-service"
	}

	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
}

func (c *Config) setEnvironmentDefaults() {
	switch c.Environment {
	case "production":
		c.setProductionDefaults()
	case "staging":
		c.setStagingDefaults()
	default: // development
		c.setDevelopmentDefaults()
	}
}

func (c *Config) setDevelopmentDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 100.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 200
	}
}

func (c *Config) setStagingDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 12 * time.Hour
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 50.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 100
	}
}

func (c *Config) setProductionDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 20
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = time.Hour
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = 10 * time.Minute
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 20.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 40
	}
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Location is the time zone the daily submission cap resets in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Queue.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}
