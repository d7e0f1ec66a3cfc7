// Package store keeps the synchronized catalog in a local SQL database:
// one entities table keyed by (class, key), the references between entities
// and the singleton filter rule set.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pimsync/runtime/internal/database"
	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/pkg/catalog"
)

// ErrNotFound is returned when a looked up entity or rule set does not exist.
var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the local catalog store. A Store returned by Begin runs every
// operation inside that transaction.
type Store struct {
	db     *sql.DB
	driver string
	q      querier
}

// Open connects to the database described by cfg and applies the schema.
func Open(ctx context.Context, cfg database.Config) (*Store, error) {
	db, driver, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, q: db}
}

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ph(n int) string {
	return database.FormatPlaceholder(s.driver, n)
}

func (s *Store) classify(err error, op, query string, args int) error {
	if err == nil {
		return nil
	}
	return database.ClassifyDatabaseError(err, s.driver, op, query, args)
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == database.DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return s.classify(err, "migrate", stmt, 0)
		}
	}
	logger.Debug("store schema applied", slog.String("driver", s.driver))
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class TEXT NOT NULL,
		key TEXT NOT NULL,
		code TEXT NOT NULL,
		parent_code TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (class, key)
	)`,
	`CREATE TABLE IF NOT EXISTS entity_references (
		from_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		to_id INTEGER NOT NULL REFERENCES entities(id),
		PRIMARY KEY (from_id, to_id)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_references_to_id ON entity_references (to_id)`,
	`CREATE TABLE IF NOT EXISTS filter_rules (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		document TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id BIGSERIAL PRIMARY KEY,
		class TEXT NOT NULL,
		key TEXT NOT NULL,
		code TEXT NOT NULL,
		parent_code TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (class, key)
	)`,
	`CREATE TABLE IF NOT EXISTS entity_references (
		from_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		to_id BIGINT NOT NULL REFERENCES entities(id),
		PRIMARY KEY (from_id, to_id)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_references_to_id ON entity_references (to_id)`,
	`CREATE TABLE IF NOT EXISTS filter_rules (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		document TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Tx is a Store bound to an open transaction.
type Tx struct {
	*Store
	tx   *sql.Tx
	done bool
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if s.db == nil {
		return nil, database.NewTransactionError("store is bound to a transaction already", nil)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classify(err, "begin", "", 0)
	}
	return &Tx{Store: &Store{driver: s.driver, q: tx}, tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return database.NewTransactionError("transaction already finished", nil)
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return t.classify(err, "commit", "", 0)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op once the transaction has
// been committed or rolled back, so it can be deferred.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.classify(err, "rollback", "", 0)
	}
	return nil
}

// Savepoint runs fn inside a savepoint. When fn fails the work it did is
// rolled back and the transaction stays usable. The name is quoted, so SQL
// keywords are valid names.
func (t *Tx) Savepoint(ctx context.Context, name string, fn func() error) error {
	ident := quoteIdent(name)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return t.classify(err, "savepoint", name, 0)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return errors.Join(err, t.classify(rbErr, "savepoint", name, 0))
		}
		_, _ = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident)
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return t.classify(err, "savepoint", name, 0)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// WithTx runs fn in a transaction, committing when it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// IDsNotIn looks the delete candidates up inside a savepoint: a failed lookup
// must not abort the enclosing postgres transaction.
func (t *Tx) IDsNotIn(ctx context.Context, class catalog.EntityClass, keep []string) ([]int64, error) {
	var ids []int64
	err := t.Savepoint(ctx, "reconcile_delete", func() error {
		var err error
		ids, err = t.Store.IDsNotIn(ctx, class, keep)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteByIDs deletes inside a savepoint so a rejected delete leaves the
// rest of the transaction intact.
func (t *Tx) DeleteByIDs(ctx context.Context, ids []int64) (int, error) {
	var deleted int
	err := t.Savepoint(ctx, "reconcile_delete", func() error {
		var err error
		deleted, err = t.Store.DeleteByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
