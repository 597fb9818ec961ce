// Package store persists recognition results in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// Config holds connection settings.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"` // 0 disables result reuse
}

// DefaultConfig returns pool settings sized for a single service.
func DefaultConfig() Config {
	return Config{MaxOpenConns: 10, MaxIdleConns: 10, ConnMaxLifetime: time.Hour}
}

// Enabled reports whether a DSN is configured.
func (c Config) Enabled() bool { return c.DSN != "" }

// Validate checks pool settings.
func (c Config) Validate() error {
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.New("connection limits must not be negative")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache_ttl must not be negative")
	}
	return nil
}

// Open connects through the pgx driver, tunes the pool and pings the
// server.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is empty")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Schema creates the recognitions table.
const Schema = `
create table if not exists recognitions (
  id           uuid primary key,
  created_at   timestamptz not null default now(),
  job_id       text not null default '',
  image_hash   text not null,
  template     text not null,
  source       text not null default '',
  status       text not null,
  fields       jsonb,
  error        text,
  inliers      integer not null default 0,
  duration_ms  bigint not null default 0,
  unique (image_hash, template)
)`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
