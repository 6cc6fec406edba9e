// Package db opens the Postgres pool a service's repositories share and
// applies the schema migrations shipped with the binary.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/config"
)

var ErrNoDatabaseURL = errors.New("DATABASE_URL is empty")

// Pool sizes the *sql.DB of one service.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func PoolFrom(cfg config.Config) Pool {
	return Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// normalize fills zero values and keeps idle connections within the open limit.
func (p Pool) normalize() Pool {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 10
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = p.MaxOpenConns / 2
	}
	p.MaxIdleConns = min(p.MaxIdleConns, p.MaxOpenConns)
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 30 * time.Minute
	}
	if p.PingTimeout <= 0 {
		p.PingTimeout = 3 * time.Second
	}
	return p
}

// Open returns a pgx-backed *sql.DB once a ping succeeds.
func Open(ctx context.Context, url string, pool Pool) (*sql.DB, error) {
	if url == "" {
		return nil, ErrNoDatabaseURL
	}
	pool = pool.normalize()

	conn, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}
