// Package db owns the single Postgres connection pool for the process.
// pgx/v5 supplies the driver and pooling; sqlx wraps it for struct
// scanning. Pool sizing falls back to built-in defaults when unset; the
// only check before use is that a URL is present.
package db

import (
	"context"
	"fmt"
	"time"

	// registers the "pgx" driver name with database/sql so sqlx.Open can
	// use it without importing pgx directly at call sites.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Config holds the pool settings as a single DSN plus sizing limits; the
// values come from the YAML config, not from DB_* env vars. DefaultConfig
// is the only constructor; there is no env loader or Validate method.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Open establishes the pool and verifies connectivity with a bounded ping.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("db: URL is required")
	}

	conn, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	conn.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	conn.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return conn, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
