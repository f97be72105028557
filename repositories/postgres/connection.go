package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/upb/audit-quota/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// Wrap adapts an already opened pool, e.g. one created by sqlmock in tests
func Wrap(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

// InitSchema creates the ledger tables and the increment_quota_used procedure
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Subscribers table (quota ledger, keyed by tenant email)
		CREATE TABLE IF NOT EXISTS subscribers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) NOT NULL UNIQUE,
			monthly_quota INTEGER CHECK (monthly_quota >= 0),
			quota_used INTEGER CHECK (quota_used >= 0),
			subscription_tier VARCHAR(50) DEFAULT 'free',
			subscribed BOOLEAN NOT NULL DEFAULT false,
			quota_reset_date DATE,
			subscription_end TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Audit jobs table
		CREATE TABLE IF NOT EXISTS audits (
			id UUID PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			url TEXT NOT NULL,
			email VARCHAR(255) NOT NULL,
			status VARCHAR(100) NOT NULL DEFAULT 'pending',
			audit_type VARCHAR(20) NOT NULL DEFAULT 'manual',
			webhook_id VARCHAR(255),
			delivery_method VARCHAR(50),
			results_json JSONB,
			score_global DOUBLE PRECISION,
			error_message TEXT,
			is_public BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMPTZ
		);

		-- Profiles table
		CREATE TABLE IF NOT EXISTS profiles (
			id VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			full_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Atomic ledger increment
		-- Unknown tenants get a free-tier row with the default allowance of 10
		CREATE OR REPLACE FUNCTION increment_quota_used(user_email TEXT, increment_by INTEGER)
		RETURNS VOID AS $$
		BEGIN
			INSERT INTO subscribers (email, monthly_quota, quota_used, subscription_tier)
			VALUES (user_email, 10, increment_by, 'free')
			ON CONFLICT (email) DO UPDATE
			SET quota_used = COALESCE(subscribers.quota_used, 0) + EXCLUDED.quota_used,
			    updated_at = CURRENT_TIMESTAMP;
		END;
		$$ LANGUAGE plpgsql;

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_audits_user_id ON audits(user_id);
		CREATE INDEX IF NOT EXISTS idx_audits_webhook_id ON audits(webhook_id);
		CREATE INDEX IF NOT EXISTS idx_audits_created_at ON audits(created_at);
		CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
