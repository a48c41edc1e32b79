package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// migrations upgrade the execution log; migrations[i] takes the database
// from user_version i to i+1.
var migrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_navq_executions_fingerprint ON navq_executions(fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_navq_executions_outcome ON navq_executions(outcome, seq)`,
}

// Store is the relational database queries run against: the entity tables
// created from a catalog plus an execution log.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at path, or a private one in
// memory for MemoryPath.
//
// File databases run in WAL mode with synchronous=NORMAL. Every database
// gets a 5 second busy timeout.
//
// Foreign keys are not enforced: seed rows of self-referencing tables
// (Gear.Leader, Weapon.SynergyWith) arrive in file order.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// An in-memory database lives in one connection, and SQLite allows a
	// single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = OFF",
	}
	if !s.InMemory() {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create execution log: %w", err)
	}
	return s.migrate()
}

// migrate applies the migrations past the database's user_version, each
// in its own transaction.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		err := s.Tx(context.Background(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[v]); err != nil {
				return err
			}
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// SchemaVersion is the user_version a freshly opened store reports.
func SchemaVersion() int {
	return len(migrations)
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// InMemory reports whether the database lives in memory.
func (s *Store) InMemory() bool {
	return s.path == MemoryPath || s.path == ""
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Tx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
