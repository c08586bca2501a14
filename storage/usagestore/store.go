// Package usagestore implements storage.Store on SQLite or PostgreSQL.
package usagestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/storage"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id             TEXT PRIMARY KEY,
	operation      TEXT NOT NULL,
	duration_ns    INTEGER NOT NULL,
	memory_delta   INTEGER NOT NULL,
	failed         BOOLEAN NOT NULL DEFAULT FALSE,
	recorded_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_recorded_at ON usage_records (recorded_at_ns);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id             UUID PRIMARY KEY,
	operation      TEXT NOT NULL,
	duration_ns    BIGINT NOT NULL,
	memory_delta   BIGINT NOT NULL,
	failed         BOOLEAN NOT NULL DEFAULT FALSE,
	recorded_at_ns BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_recorded_at ON usage_records (recorded_at_ns);
`

// Config selects the database.
type Config struct {
	Driver string
	DSN    string
	// MaxOpenConns applies to postgres only; sqlite always uses one connection.
	MaxOpenConns int
}

// Store is a storage.Store backed by sqlx.
type Store struct {
	db      *sqlx.DB
	driver  string
	logger  *slog.Logger
	metrics *metric.Metrics
}

var _ storage.Store = (*Store)(nil)

type row struct {
	ID           string `db:"id"`
	Operation    string `db:"operation"`
	DurationNS   int64  `db:"duration_ns"`
	MemoryDelta  int64  `db:"memory_delta"`
	Failed       bool   `db:"failed"`
	RecordedAtNS int64  `db:"recorded_at_ns"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records query durations and failures.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Open connects to the database and creates the schema.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	var schema string
	switch cfg.Driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported driver %q", errors.ErrInvalidConfig, cfg.Driver),
			"usagestore", "Open", "driver selection")
	}
	if cfg.DSN == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "usagestore", "Open", "dsn required")
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"usagestore", "Open", fmt.Sprintf("connect to %s", cfg.Driver))
	}

	if cfg.Driver == DriverSQLite {
		// a single connection serializes writers and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, errors.WrapTransient(err, "usagestore", "Open", "set busy timeout")
		}
	} else {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(min(maxOpen, 5))
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "usagestore", "Open", "create schema")
	}

	s := &Store{db: db, driver: cfg.Driver, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "usagestore", "driver", cfg.Driver)
	s.logger.Debug("Usage store opened")

	return s, nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation("usagestore."+op, time.Since(start), err != nil)
	}
}

// Append stores rec. An empty ID gets a random UUID; a zero RecordedAt gets now.
func (s *Store) Append(ctx context.Context, rec storage.UsageRecord) (err error) {
	defer func(start time.Time) { s.observe("append", start, err) }(time.Now())

	if rec.Operation == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "usagestore", "Append", "operation name required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO usage_records (id, operation, duration_ns, memory_delta, failed, recorded_at_ns)
		VALUES (:id, :operation, :duration_ns, :memory_delta, :failed, :recorded_at_ns)`,
		row{
			ID:           rec.ID,
			Operation:    rec.Operation,
			DurationNS:   int64(rec.Duration),
			MemoryDelta:  rec.MemoryDelta,
			Failed:       rec.Failed,
			RecordedAtNS: rec.RecordedAt.UnixNano(),
		})
	if err != nil {
		return errors.WrapTransient(err, "usagestore", "Append", "insert record")
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM usage_records`); err != nil {
		return 0, errors.WrapTransient(err, "usagestore", "Count", "count records")
	}
	return n, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]storage.UsageRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []row
	query := s.db.Rebind(`
		SELECT id, operation, duration_ns, memory_delta, failed, recorded_at_ns
		FROM usage_records ORDER BY recorded_at_ns DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, errors.WrapTransient(err, "usagestore", "Recent", "select records")
	}

	records := make([]storage.UsageRecord, len(rows))
	for i, r := range rows {
		records[i] = storage.UsageRecord{
			ID:          r.ID,
			Operation:   r.Operation,
			Duration:    time.Duration(r.DurationNS),
			MemoryDelta: r.MemoryDelta,
			Failed:      r.Failed,
			RecordedAt:  time.Unix(0, r.RecordedAtNS),
		}
	}
	return records, nil
}

// OptimizeStorage runs PRAGMA optimize and VACUUM on sqlite, VACUUM ANALYZE on postgres.
func (s *Store) OptimizeStorage(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("optimize", start, err) }(time.Now())

	statements := []string{"VACUUM ANALYZE usage_records"}
	if s.driver == DriverSQLite {
		statements = []string{"PRAGMA optimize", "VACUUM"}
	}

	for _, stmt := range statements {
		if _, err = s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapTransient(err, "usagestore", "OptimizeStorage", stmt)
		}
	}
	s.logger.Debug("Usage store optimized")
	return nil
}

// DeleteRecordsOlderThan removes records recorded strictly before cutoff.
func (s *Store) DeleteRecordsOlderThan(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	defer func(start time.Time) { s.observe("delete_older_than", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM usage_records WHERE recorded_at_ns < ?`), cutoff.UnixNano())
	if err != nil {
		return 0, errors.WrapTransient(err, "usagestore", "DeleteRecordsOlderThan", "delete records")
	}
	deleted, err = res.RowsAffected()
	if err != nil {
		return 0, errors.WrapTransient(err, "usagestore", "DeleteRecordsOlderThan", "rows affected")
	}
	return deleted, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
