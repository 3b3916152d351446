package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	maxRetries    = 10
	retryInterval = 2 * time.Second
)

// NewPool 建立 pgx 連線池，連線失敗時重試
func NewPool(ctx context.Context, cfg Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgxpool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgxpool: %w", err)
	}

	for i := 0; i < maxRetries; i++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		if i < maxRetries-1 {
			log.Warn().Err(err).
				Int("attempt", i+1).
				Int("max_attempts", maxRetries).
				Dur("retry_in", retryInterval).
				Msg("failed to connect to postgres, retrying")
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}
	pool.Close()
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, err)
}
