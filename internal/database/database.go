// Package database opens the PostgreSQL pool backing the target registry.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nmslite/targetwatch/internal/config"
)

// Connect creates a pgx pool from configuration and verifies connectivity
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool := cfg.Pool
	pool.ApplyDefaults()
	poolCfg.MaxConns = int32(pool.MaxConns)
	poolCfg.MinConns = int32(pool.MinConns)
	poolCfg.MaxConnLifetime = pool.MaxConnLifetime()
	poolCfg.MaxConnIdleTime = pool.MaxConnIdleTime()
	poolCfg.HealthCheckPeriod = pool.HealthCheckPeriod()

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return p, nil
}
