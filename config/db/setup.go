package db

import (
	"context"
	"fmt"
	"time"

	"github.com/malwarebo/cashback/config"
	"github.com/malwarebo/cashback/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

type DB struct {
	*gorm.DB
	replicas int
}

func (db *DB) GetDB() *gorm.DB {
	return db.DB
}

// CreateDB opens the primary connection and registers any read replicas.
// Reads outside a transaction are routed to replicas by dbresolver.
func CreateDB(ctx context.Context, cfg *config.Config) (*DB, error) {
	log := utils.CreateLogger("db")

	gormConfig := &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogLevel(cfg),
			IgnoreRecordNotFoundError: true,
		}),
	}

	var conn *gorm.DB
	retry := utils.CreateDefaultRetryConfig()
	retry.MaxAttempts = 5
	retry.BaseDelay = 500 * time.Millisecond
	err := utils.CreateRetry(ctx, retry, func() error {
		var openErr error
		conn, openErr = gorm.Open(postgres.Open(cfg.GetDSN()), gormConfig)
		if openErr != nil {
			log.Warn(ctx, "Database not reachable yet", map[string]interface{}{"error": openErr.Error()})
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %w", err)
	}

	dbCfg := cfg.Database
	if len(dbCfg.ReplicaDSNs) > 0 {
		resolverConfig := dbresolver.Config{}
		for _, replicaDSN := range dbCfg.ReplicaDSNs {
			resolverConfig.Replicas = append(resolverConfig.Replicas, postgres.Open(replicaDSN))
		}

		err = conn.Use(dbresolver.Register(resolverConfig).
			SetConnMaxIdleTime(dbCfg.MaxIdleTime).
			SetConnMaxLifetime(dbCfg.MaxLifetime).
			SetMaxIdleConns(dbCfg.MaxIdleConns).
			SetMaxOpenConns(dbCfg.MaxOpenConns))
		if err != nil {
			return nil, fmt.Errorf("failed to configure read replicas: %w", err)
		}

		log.Info(ctx, "Configured read replicas", map[string]interface{}{"count": len(dbCfg.ReplicaDSNs)})
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dbCfg.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(dbCfg.MaxIdleTime)

	log.Info(ctx, "Connected to database")
	return &DB{DB: conn, replicas: len(dbCfg.ReplicaDSNs)}, nil
}

func gormLogLevel(cfg *config.Config) logger.LogLevel {
	if cfg.IsDevelopment() && cfg.Monitoring.LogLevel == "debug" {
		return logger.Info
	}
	return logger.Warn
}

// Health pings the primary and reports pool usage.
func (db *DB) Health(ctx context.Context) (map[string]interface{}, error) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats := sqlDB.Stats()
	details := map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"replicas":         db.replicas,
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return details, fmt.Errorf("primary database ping failed: %w", err)
	}
	return details, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
