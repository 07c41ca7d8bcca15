package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/config"
	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

//go:embed sql/sqlite_schema.sql
var sqliteSchemaSQL string

// SQLiteStore is a tempest.Sink backed by a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database file named by cfg.
func OpenSQLite(cfg config.DBConfig, logger *zap.Logger) (*SQLiteStore, error) {
	dsn, err := buildSQLiteDSN(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// Writes come from a single dispatch context.
	db.SetMaxOpenConns(1)
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return NewSQLiteStore(db, logger), nil
}

// NewSQLiteStore wraps an already open database.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) Insert(ctx context.Context, table string, row tempest.Row) (tempest.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("insert_" + table).Observe(time.Since(start).Seconds())
	}()

	query := sqliteDialect.insert(table, row.Names())
	if _, err := s.db.ExecContext(ctx, query, row.Values()...); err != nil {
		if isSQLiteUniqueViolation(err) {
			return tempest.OutcomeDuplicate, nil
		}
		return tempest.OutcomeFailed, fmt.Errorf("insert into %s: %w", table, err)
	}
	return tempest.OutcomeStored, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, table string, row tempest.Row, conflictKey ...string) (tempest.Outcome, error) {
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

	query := sqliteDialect.upsert(table, row.Names(), conflictKey)
	if _, err := s.db.ExecContext(ctx, query, row.Values()...); err != nil {
		return tempest.OutcomeFailed, fmt.Errorf("upsert into %s: %w", table, err)
	}
	return tempest.OutcomeStored, nil
}

// ListDevices returns every stored device.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]tempest.Device, error) {
	rows, err := s.db.QueryContext(ctx, selectDevicesSQL)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []tempest.Device
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Migrate creates any missing tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close sqlite", zap.Error(err))
	}
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func buildSQLiteDSN(path string) (string, error) {
	if path == ":memory:" {
		return "file::memory:?cache=shared", nil
	}

	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
