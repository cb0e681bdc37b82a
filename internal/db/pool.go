package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// Pool is the global database connection pool
var Pool *pgxpool.Pool

// Init initializes the database connection pool
func Init(cfg models.DatabaseConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("no database configuration")
	}

	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	}
	config.MinConns = 2
	if cfg.MinConns > 0 {
		config.MinConns = int32(cfg.MinConns)
	}
	config.MaxConnLifetime = 1 * time.Hour
	if cfg.MaxConnLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.MaxConnLifetime)
		if err != nil {
			return fmt.Errorf("invalid max_conn_lifetime: %w", err)
		}
		config.MaxConnLifetime = lifetime
	}
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	Pool = pool
	slog.Info("database connection pool initialized",
		"max_conns", config.MaxConns, "min_conns", config.MinConns)
	return nil
}

// Close closes the database connection pool
func Close() {
	if Pool != nil {
		Pool.Close()
		slog.Info("database connection pool closed")
	}
}

// GetPool returns the current connection pool
func GetPool() *pgxpool.Pool {
	return Pool
}

// Ping verifies the database is reachable.
func Ping(ctx context.Context) error {
	if Pool == nil {
		return fmt.Errorf("database not initialized")
	}
	return Pool.Ping(ctx)
}
