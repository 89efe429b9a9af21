package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polofeed/logger"
)

// ErrNoRows is returned by Row.Scan when a lookup matches nothing.
var ErrNoRows = pgx.ErrNoRows

// Row is a single-row query result.
type Row interface {
	Scan(dest ...any) error
}

// Store is the storage collaborator every upsert goes through.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Entry
}

// NewPostgresStore opens a pool against dsn and pings it.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log := logger.GetLogger().WithComponent("store")
	log.WithFields(logger.Fields{
		"host":      poolCfg.ConnConfig.Host,
		"database":  poolCfg.ConnConfig.Database,
		"max_conns": poolCfg.MaxConns,
	}).Info("postgres pool ready")

	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

func (s *PostgresStore) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return s.pool.QueryRow(ctx, sql, args...)
}

// EnsureSchema creates the tables and unique keys the upserts rely on.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, s)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema runs the schema statements against store in order.
func EnsureSchema(ctx context.Context, store Store) error {
	if store == nil {
		return errors.New("sink: nil store")
	}
	for _, stmt := range schemaStatements {
		if err := store.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
