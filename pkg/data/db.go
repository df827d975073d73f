// Package data persists detection runs and their ranked findings in
// SQLite or PostgreSQL.
package data

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DataFileName = "data.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	migrationDir = "sql"
	dirMode      = 0700

	createVersionTableSQL = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`
	selectVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM schema_version`
	insertVersionSQL = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`
)

var (
	//go:embed sql/*
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")

	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is a run history database.
type Store struct {
	db     *sql.DB
	driver string
}

// Driver returns the database/sql driver name for dsn. PostgreSQL URLs
// and key/value DSNs select postgres; anything else is a SQLite file path.
func Driver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return driverPostgres
	default:
		return driverSQLite
	}
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn not specified")
	}

	driver := Driver(dsn)
	if driver == driverSQLite {
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, dirMode); err != nil {
				return nil, errors.Wrapf(err, "failed to create database dir: %s", dir)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", driver)
	}
	if driver == driverSQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("database ready", "driver", driver)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Version returns the highest applied migration.
func (s *Store) Version(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errDBNotInitialized
	}
	var v int
	if err := s.db.QueryRowContext(ctx, selectVersionSQL).Scan(&v); err != nil {
		return 0, errors.Wrap(err, "failed to read schema version")
	}
	return v, nil
}

type migration struct {
	version int
	name    string
}

func migrations() ([]migration, error) {
	entries, err := fs.ReadDir(f, migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list migrations")
	}

	list := make([]migration, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Errorf("migration %s has no version prefix", name)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid migration version: %s", name)
		}
		list = append(list, migration{version: v, name: name})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].version < list[j].version
	})
	return list, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createVersionTableSQL); err != nil {
		return errors.Wrap(err, "failed to create schema version table")
	}

	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	list, err := migrations()
	if err != nil {
		return err
	}

	for _, m := range list {
		if m.version <= current {
			continue
		}

		b, err := f.ReadFile(migrationDir + "/" + m.name)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration: %s", m.name)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin migration transaction")
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "failed to apply migration: %s", m.name)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(insertVersionSQL), m.version, time.Now().UTC().Unix()); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "failed to record migration: %s", m.name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration: %s", m.name)
		}
		slog.Debug("migration applied", "version", m.version, "name", m.name)
	}

	return nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != driverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
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

func rollbackTransaction(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("error rolling back transaction", "error", err)
	}
}
