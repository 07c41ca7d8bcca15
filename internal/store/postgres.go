package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/config"
	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

//go:embed sql/postgres_schema.sql
var postgresSchemaSQL string

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	quote:       func(ident string) string { return pgx.Identifier{ident}.Sanitize() },
}

// execer is the subset of *pgxpool.Pool the store writes through.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a tempest.Sink backed by a pgx connection pool.
// Supabase projects expose a plain Postgres endpoint and work unchanged.
type PostgresStore struct {
	db     execer
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dbConfig.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if dbConfig.MaxDBConnections > 0 {
		cfg.MaxConns = int32(dbConfig.MaxDBConnections)
	}
	if dbConfig.MinDBConnections > 0 {
		cfg.MinConns = int32(dbConfig.MinDBConnections)
	}
	if dbConfig.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = dbConfig.MaxConnLifetime
	}
	if dbConfig.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = dbConfig.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go monitorConnections(ctx, pool, logger)

	return &PostgresStore{
		db:     pool,
		pool:   pool,
		logger: logger,
	}, nil
}

// monitorConnections periodically refreshes pool gauges until ctx is cancelled.
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row tempest.Row) (tempest.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("insert_" + table).Observe(time.Since(start).Seconds())
	}()

	query := postgresDialect.insert(table, row.Names())
	if _, err := s.db.Exec(ctx, query, row.Values()...); err != nil {
		if isPgUniqueViolation(err) {
			return tempest.OutcomeDuplicate, nil
		}
		return tempest.OutcomeFailed, fmt.Errorf("insert into %s: %w", table, err)
	}
	return tempest.OutcomeStored, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, table string, row tempest.Row, conflictKey ...string) (tempest.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("upsert_" + table).Observe(time.Since(start).Seconds())
	}()

	if len(conflictKey) == 0 {
		conflictKey = tempest.TableKeys[table]
	}
	if len(conflictKey) == 0 {
		return tempest.OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	query := postgresDialect.upsert(table, row.Names(), conflictKey)
	if _, err := s.db.Exec(ctx, query, row.Values()...); err != nil {
		return tempest.OutcomeFailed, fmt.Errorf("upsert into %s: %w", table, err)
	}
	return tempest.OutcomeStored, nil
}

// ListDevices returns every stored device.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]tempest.Device, error) {
	rows, err := s.pool.Query(ctx, selectDevicesSQL)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tempest.Device, error) {
		return scanDevice(row.Scan)
	})
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return devices, nil
}

// Migrate creates any missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
