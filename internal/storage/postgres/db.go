package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// DB is the subset of *pgxpool.Pool used by this package.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, config *Config) (*pgxpool.Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "postgres", config.String(), err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "database_url", RedactURL(config.DatabaseURL), err)
	}
	poolConfig.MaxConns = config.MaxConns

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeConnectionFailed, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.StorageError(apperrors.CodeConnectionFailed, "ping", err)
	}

	logger.WithComponent("postgres").WithFields(logger.Fields{
		"database":  RedactURL(config.DatabaseURL),
		"max_conns": config.MaxConns,
	}).Info("Connected to PostgreSQL")

	return pool, nil
}
