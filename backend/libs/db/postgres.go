package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Options tunes the pool. Zero values take the defaults below.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
	PingTimeout  time.Duration
}

const (
	defaultMaxOpenConns = 4
	defaultMaxIdleConns = 2
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 30 * time.Minute
	defaultPingTimeout  = 5 * time.Second
)

// NewPostgresDB creates a pgx/stdlib backed *sql.DB pool and validates the connection.
func NewPostgresDB(dsn string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(orDefault(opts.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(opts.MaxIdleConns, defaultMaxIdleConns))
	lifetime := opts.ConnLifetime
	if lifetime <= 0 {
		lifetime = defaultConnLifetime
	}
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(defaultConnIdleTime)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
