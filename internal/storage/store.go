// Package storage persists interview records as JSON documents keyed by id.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("record not found")

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a database/sql backed document store. The same queries serve
// SQLite and Postgres; only placeholders differ.
type Store struct {
	db      *sql.DB
	dialect goose.Dialect
	closers []func()
}

// Open connects to driver ("sqlite" or "postgres") and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func newStore(ctx context.Context, db *sql.DB, dialect goose.Dialect, closers ...func()) (*Store, error) {
	s := &Store{db: db, dialect: dialect, closers: closers}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
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

// Get returns the stored document for id.
func (s *Store) Get(ctx context.Context, id int64) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM interviews WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interview %d: %w", id, err)
	}
	return []byte(data), nil
}

// Put inserts or replaces the document for id.
func (s *Store) Put(ctx context.Context, id int64, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO interviews(id, data) VALUES(?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`),
		id, string(data),
	)
	if err != nil {
		return fmt.Errorf("put interview %d: %w", id, err)
	}
	return nil
}

// IDs lists stored ids in ascending order.
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM interviews ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan interview id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks the connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	for _, c := range s.closers {
		c()
	}
	return err
}
