// Package app assembles the cashback service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/cashback/analytics"
	"github.com/malwarebo/cashback/api"
	"github.com/malwarebo/cashback/cache"
	"github.com/malwarebo/cashback/config"
	dbsetup "github.com/malwarebo/cashback/config/db"
	"github.com/malwarebo/cashback/events"
	"github.com/malwarebo/cashback/middleware"
	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/providers"
	"github.com/malwarebo/cashback/security"
	"github.com/malwarebo/cashback/services"
	"github.com/malwarebo/cashback/stores"
	"github.com/malwarebo/cashback/utils"
	"github.com/malwarebo/cashback/webhooks"
)

const (
	Version = "1.0.0"

	jwtIssuer   = "cashback"
	jwtAudience = "cashback-api"

	alertInterval   = time.Minute
	shutdownTimeout = 30 * time.Second
)

type App struct {
	Config    *config.Config
	DB        *dbsetup.DB
	Redis     *cache.RedisCache
	Tokens    *providers.TokenCache
	Tenants   *services.TenantService
	Customers *stores.CustomerStore
	Awards    *stores.AwardStore
	Audit     *services.AuditService
	Queue     *services.VerificationQueue
	Ledger    *services.AwardLedger
	Scheduler *services.Scheduler
	Reports   *analytics.Reporter
	Health    *monitoring.HealthService
	Alerts    *monitoring.AlertManager
	JWT       *security.JWTManager
	Router    *mux.Router

	limiter *security.TieredRateLimiter
	kafka   *events.KafkaPublisher
	logger  *utils.Logger
}

// Build connects to the database and optional backends and wires every component.
// The returned App owns those connections until Close.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: utils.CreateLogger("app")}

	database, err := dbsetup.CreateDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.DB = database
	gdb := database.GetDB()

	if cfg.Redis.Enabled {
		redisCache, err := cache.CreateRedisCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			a.logger.Warn(ctx, "Redis unavailable, continuing without cache", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			a.Redis = redisCache
		}
	}

	verificationStore := stores.CreateVerificationStore(gdb)
	awardStore := stores.CreateAwardStore(gdb)
	customerStore := stores.CreateCustomerStore(gdb)
	offerStore := stores.CreateOfferStore(gdb)
	tenantStore := stores.CreateTenantStore(gdb)
	auditStore := stores.CreateAuditStore(gdb)

	var tenantCache services.KeyValueCache
	var tokenStore providers.TokenStore = stores.CreateRegistryTokenStore(gdb)
	if a.Redis != nil {
		tenantCache = a.Redis
		tokenStore = a.Redis
	}
	if cfg.Security.EncryptionKey != "" {
		key, err := security.ParseEncryptionKey(cfg.Security.EncryptionKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		sealer, err := security.CreateEncryptionManager(key)
		if err != nil {
			a.Close()
			return nil, err
		}
		tokenStore = providers.CreateSealedTokenStore(tokenStore, sealer)
	}
	a.Tenants = services.CreateTenantService(tenantStore, tenantCache)
	a.Customers = customerStore
	a.Awards = awardStore
	a.Audit = services.CreateAuditService(auditStore)

	publishers := events.MultiPublisher{webhooks.CreateWebhookManager(tenantStore)}
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.CreateKafkaPublisher(events.KafkaConfig{
			BootstrapServers: cfg.Kafka.BootstrapServers,
			Topic:            cfg.Kafka.Topic,
			ClientID:         cfg.Kafka.ClientID,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		a.kafka = kafkaPublisher
		publishers = append(publishers, kafkaPublisher)
	}

	registry := providers.CreateSOAPRegistryClient(providers.RegistryConfig{
		BaseURL:            cfg.Registry.BaseURL,
		AuthURL:            cfg.Registry.AuthURL,
		MasterToken:        cfg.Registry.MasterToken,
		UserToken:          cfg.Registry.UserToken,
		Timeout:            cfg.Registry.Timeout,
		RequestsPerSecond:  cfg.Registry.RequestsPerSecond,
		Burst:              cfg.Registry.Burst,
		BreakerMaxFailures: cfg.Registry.BreakerMaxFailures,
		BreakerTimeout:     cfg.Registry.BreakerTimeout,
	})
	a.Tokens = providers.CreateTokenCache(registry, tokenStore)

	guard := services.CreateDuplicateGuard(verificationStore, awardStore, tenantStore, services.GuardConfig{
		HourlySuccessLimit: cfg.Guard.HourlySuccessLimit,
		Window:             cfg.Guard.Window,
		AwardWindow:        cfg.Guard.AwardWindow,
	})
	engine := services.CreateCashbackEngine(cfg.Guard.SimilarityThreshold)
	a.Ledger = services.CreateAwardLedger(verificationStore, awardStore, customerStore, verificationStore, auditStore, publishers)
	a.Queue = services.CreateVerificationQueue(
		verificationStore,
		verificationStore,
		customerStore,
		offerStore,
		guard,
		registry,
		a.Tokens,
		engine,
		a.Ledger,
		publishers,
		services.QueueConfig{
			MaxAttempts:        cfg.Queue.MaxAttempts,
			BatchSize:          cfg.Queue.BatchSize,
			Workers:            cfg.Queue.Workers,
			RetryAfter:         cfg.Queue.RetryAfter,
			PollAttempts:       cfg.Registry.PollAttempts,
			RequestTimeout:     cfg.Queue.RequestTimeout,
			StaleAfter:         cfg.Queue.StaleAfter,
			DailySubmissionCap: cfg.Queue.DailySubmissionCap,
			Location:           cfg.Location(),
		},
	)
	a.Scheduler = services.CreateScheduler(a.Queue, cfg.Queue.DrainInterval)
	a.Reports = analytics.CreateReporter(verificationStore, awardStore, cfg.Location())

	a.Health = monitoring.CreateHealthService(Version)
	a.Health.AddCheck("database", func(ctx context.Context) error {
		_, err := a.DB.Health(ctx)
		return err
	})
	if a.Redis != nil {
		a.Health.AddOptionalCheck("redis", a.Redis.Ping)
	}
	a.Health.AddOptionalCheck("registry", registry.CheckAvailable)

	if cfg.Monitoring.Enabled {
		monitoring.Register()
	}
	if cfg.Monitoring.AlertingEnabled {
		a.Alerts = monitoring.CreateAlertManager(a.Scheduler.AlertMetrics, monitoring.CreateLogAlertChannel())
		addDrainAlertRules(a.Alerts)
	}

	a.JWT = security.CreateJWTManager(cfg.Security.JWTSecret, jwtIssuer, jwtAudience)
	a.limiter = security.CreateTieredRateLimiter(rateLimitTiers(cfg.Security))

	a.Router = api.CreateRouter(
		api.Handlers{
			Receipts: api.CreateReceiptHandler(services.CreateScanService(a.Queue), a.Queue),
			Admin:    api.CreateAdminHandler(a.Queue, a.Ledger),
			Audit:    api.CreateAuditHandler(a.Audit),
			Reports:  api.CreateReportHandler(a.Reports),
			Health:   api.CreateHealthHandler(a.Health),
		},
		middleware.CreateTenantMiddleware(a.Tenants),
		middleware.CreateAuthMiddleware(a.JWT, a.limiter),
		cfg.Server.AllowedOrigins,
	)

	return a, nil
}

func rateLimitTiers(cfg config.SecurityConfig) map[string]security.RateLimitConfig {
	rps, burst := cfg.RateLimitRPS, cfg.RateLimitBurst
	if !cfg.RateLimitEnabled || rps <= 0 {
		rps, burst = 1000, 2000
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return map[string]security.RateLimitConfig{
		security.TierScan:    {RequestsPerSecond: rps, Burst: burst, Window: time.Minute},
		security.TierAdmin:   {RequestsPerSecond: rps * 5, Burst: burst * 5, Window: time.Minute},
		security.TierDefault: {RequestsPerSecond: rps, Burst: burst, Window: time.Minute},
	}
}

func addDrainAlertRules(am *monitoring.AlertManager) {
	am.AddRule(&monitoring.AlertRule{
		ID:   "drain_failures",
		Name: "Verification Failures",
		Condition: func(metrics map[string]float64) bool {
			return metrics["drain_failed"] > 0
		},
		Level:    monitoring.Warning,
		Cooldown: 5 * time.Minute,
		Enabled:  true,
	})
	am.AddRule(&monitoring.AlertRule{
		ID:   "high_requeue_ratio",
		Name: "High Requeue Ratio",
		Condition: func(metrics map[string]float64) bool {
			return metrics["drain_claimed"] >= 5 && metrics["drain_requeue_ratio"] > 0.5
		},
		Level:    monitoring.Critical,
		Cooldown: 15 * time.Minute,
		Enabled:  true,
	})
}

// Run serves HTTP and drains the queue until ctx is canceled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:           ":" + a.Config.Server.Port,
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}

	go a.Scheduler.Start(ctx)
	if a.Alerts != nil {
		go a.Alerts.Start(ctx, alertInterval)
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if a.Config.Server.EnableTLS {
			err = server.ListenAndServeTLS(a.Config.Server.TLSCertFile, a.Config.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn(context.Background(), "Failed to close redis", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Warn(context.Background(), "Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}
}
