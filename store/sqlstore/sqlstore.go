/*
Package sqlstore provides a database/sql implementation of commission.TxStore.

PURPOSE:
  Persists every commission record in SQLite (mattn/go-sqlite3) or
  PostgreSQL (pgx stdlib). Both dialects share the same queries, written
  with "?" placeholders and rebound to "$n" for PostgreSQL.

KEY TABLES:
  projects, employees, area_mix_entries
  department_allocations:  (project, department), replaced as a set
  payment_stages:          ordered by stage_date then seq, one-way used flag
  employee_distributions:  (project, department, employee) unique
  payment_records:         insert/delete only
  project_additions:       append-only, (project, seq) unique
  config_documents:        coefficient documents (coefficients.BlobStore)

ENCODING:
  Identifiers are TEXT (uuid), money and ratios are decimal TEXT, timestamps
  are RFC 3339 TEXT and stage dates are YYYY-MM-DD. Sums are computed in Go
  with exact decimals, never in SQL.

MIGRATIONS:
  Versioned SQL files are embedded per dialect and applied by
  golang-migrate on Open.

CONCURRENCY:
  SQLite is opened with a single connection, WAL and foreign keys on, so
  transactions serialize. Inside WithTx every read and write goes through
  the transaction handle.

USAGE:
  st, err := sqlstore.Open(ctx, sqlstore.SQLite, "./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// Driver selects the SQL dialect.
type Driver string

const (
	SQLite   Driver = "sqlite"
	Postgres Driver = "postgres"
)

// ParseDriver accepts the driver names used in settings.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unknown database driver %q", s)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements commission.TxStore and coefficients.BlobStore.
type Store struct {
	db     *sql.DB
	q      querier
	driver Driver
}

// Open connects, migrates the schema and returns the store. For SQLite the
// dsn is a file path or ":memory:"; for PostgreSQL it is a connection URL.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case SQLite:
		db, err = sql.Open("sqlite3", sqliteDSN(dsn))
		if err == nil {
			// One connection keeps ":memory:" databases alive and
			// serializes writers.
			db.SetMaxOpenConns(1)
		}
	case Postgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, q: db, driver: driver}
	if err := s.migrate(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info(ctx, "database ready", "driver", string(driver))
	return s, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=on&_journal_mode=WAL"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the dialect in use.
func (s *Store) Driver() Driver { return s.driver }

// migrate applies every pending embedded migration.
func (s *Store) migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(s.driver))
	if err != nil {
		return err
	}
	defer src.Close()

	var m *migrate.Migrate
	switch s.driver {
	case SQLite:
		// The sqlite3 driver reuses s.db; closing m would close it too.
		drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if err != nil {
			return err
		}
		if m, err = migrate.NewWithInstance("iofs", src, "sqlite3", drv); err != nil {
			return err
		}
	case Postgres:
		drv := &migratepgx.Postgres{}
		target, err := drv.Open(pgxMigrateURL(dsn))
		if err != nil {
			return err
		}
		defer target.Close()
		if m, err = migrate.NewWithInstance("iofs", src, "pgx5", target); err != nil {
			return err
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// pgxMigrateURL rewrites a postgres URL to the scheme the migrate pgx/v5
// driver registers.
func pgxMigrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// rebind converts "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes a function within a database transaction. The Store handed
// to fn routes every statement through the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, driver: s.driver}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDate(s string) time.Time {
	t, err := time.Parse(commission.DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// affected reports whether a statement changed at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ commission.TxStore = (*Store)(nil)
