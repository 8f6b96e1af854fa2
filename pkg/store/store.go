package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/log"
)

const busyTimeoutMs = 5000

// Store owns the single SQLite connection described in this package
type Store struct {
	db *sql.DB
}

// Open opens path in WAL mode with a 5s busy timeout and brings the schema
// up to the last version listed in migrations, running any pending ones.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.New(errs.Configuration, "store.Open", err)
	}
	// A single writer connection; readers that need concurrency open
	// their own Store against the same path.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.Configuration, "store.Open", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.Transient, "store.WithTx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.Transient, "store.WithTx", err)
	}
	return nil
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		version, err := s.schemaVersion()
		if err != nil {
			return err
		}
		if m.version <= version {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, errs.New(errs.Transient, "store.schemaVersion", err)
	}
	v, perr := strconv.Atoi(raw)
	if perr != nil {
		return 0, errs.New(errs.Invariant, "store.schemaVersion", perr)
	}
	return v, nil
}

// applyMigration runs m's DDL inside an EXCLUSIVE transaction. A
// busy/locked failure is not an error: the process sleeps 6s and
// re-checks the version, treating a concurrent migrator's success as
// its own.
func (s *Store) applyMigration(m migration) error {
	for {
		err := s.tryMigration(m)
		if err == nil {
			log.WithComponent("store").Info().Int("version", m.version).Msg("applied migration")
			return nil
		}
		if !isBusy(err) {
			return errs.New(errs.Configuration, "store.applyMigration", err)
		}

		time.Sleep(6 * time.Second)
		version, verr := s.schemaVersion()
		if verr != nil {
			return verr
		}
		if version >= m.version {
			return nil
		}
	}
}

func (s *Store) tryMigration(m migration) error {
	if _, err := s.db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return err
	}
	for _, stmt := range m.stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			s.db.Exec("ROLLBACK")
			return err
		}
	}
	versionStmt := `INSERT INTO meta(key, value) VALUES('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.Exec(versionStmt, strconv.Itoa(m.version)); err != nil {
		s.db.Exec("ROLLBACK")
		return err
	}
	if _, err := s.db.Exec("COMMIT"); err != nil {
		return err
	}
	return nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
