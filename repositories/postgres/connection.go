package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/coach-accounts/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

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

// WrapDB wraps an already opened pool (used with sqlmock in tests)
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
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

// InitSchema creates the accounts and auth_events tables when missing
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			username VARCHAR(30) NOT NULL,
			first_name VARCHAR(50) NOT NULL DEFAULT '',
			last_name VARCHAR(50) NOT NULL DEFAULT '',
			password_hash VARCHAR(255),
			auth_provider VARCHAR(10) NOT NULL DEFAULT 'local',
			google_id VARCHAR(255),
			role VARCHAR(10) NOT NULL DEFAULT 'user',
			is_active BOOLEAN NOT NULL DEFAULT true,
			is_email_verified BOOLEAN NOT NULL DEFAULT false,
			email_verification_token VARCHAR(64),
			password_reset_token VARCHAR(64),
			password_reset_expires TIMESTAMPTZ,
			token_version INTEGER NOT NULL DEFAULT 0,
			last_login TIMESTAMPTZ,
			height NUMERIC(5, 2),
			weight NUMERIC(5, 2),
			date_of_birth DATE,
			gender VARCHAR(10),
			activity_level VARCHAR(20),
			fitness_goal VARCHAR(20),
			body_fat_percentage NUMERIC(4, 2),
			bio VARCHAR(500),
			phone VARCHAR(20),
			avatar VARCHAR(500),
			bmi NUMERIC(5, 2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT accounts_email_key UNIQUE (email),
			CONSTRAINT accounts_username_key UNIQUE (username),
			CONSTRAINT accounts_google_id_key UNIQUE (google_id),
			CONSTRAINT accounts_role_check CHECK (role IN ('user', 'coach', 'admin')),
			CONSTRAINT accounts_provider_check CHECK (auth_provider IN ('local', 'oauth')),
			CONSTRAINT accounts_password_check CHECK (
				(auth_provider = 'local' AND password_hash IS NOT NULL) OR
				(auth_provider = 'oauth' AND password_hash IS NULL)
			),
			CONSTRAINT accounts_reset_pair_check CHECK (
				(password_reset_token IS NULL) = (password_reset_expires IS NULL)
			),
			CONSTRAINT accounts_gender_check CHECK (gender IN ('male', 'female', 'other')),
			CONSTRAINT accounts_activity_check CHECK (activity_level IN (
				'sedentary', 'lightly_active', 'moderately_active', 'very_active', 'extremely_active'
			)),
			CONSTRAINT accounts_goal_check CHECK (fitness_goal IN (
				'lose_weight', 'maintain_weight', 'gain_weight', 'build_muscle', 'improve_endurance', 'general_fitness'
			))
		);

		CREATE TABLE IF NOT EXISTS auth_events (
			id UUID PRIMARY KEY,
			account_id BIGINT REFERENCES accounts(id) ON DELETE SET NULL,
			action VARCHAR(50) NOT NULL,
			ip_address VARCHAR(45),
			user_agent TEXT,
			request_id VARCHAR(255),
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_role ON accounts(role);
		CREATE INDEX IF NOT EXISTS idx_accounts_is_active ON accounts(is_active);
		CREATE INDEX IF NOT EXISTS idx_accounts_created_at ON accounts(created_at);
		CREATE INDEX IF NOT EXISTS idx_accounts_verification_token ON accounts(email_verification_token);
		CREATE INDEX IF NOT EXISTS idx_accounts_reset_token ON accounts(password_reset_token);

		CREATE INDEX IF NOT EXISTS idx_auth_events_account_id ON auth_events(account_id);
		CREATE INDEX IF NOT EXISTS idx_auth_events_action ON auth_events(action);
		CREATE INDEX IF NOT EXISTS idx_auth_events_created_at ON auth_events(created_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
