// Package sqlite is a store.Registry persisted in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const columns = `uuid, name, description, kind, parameters, properties, created_at, updated_at`

const (
	selectByName = `SELECT ` + columns + ` FROM definitions WHERE name = ?`
	selectByUUID = `SELECT ` + columns + ` FROM definitions WHERE uuid = ?`
	selectAll    = `SELECT ` + columns + ` FROM definitions ORDER BY name`
	insertDef    = `INSERT INTO definitions (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	updateDef    = `UPDATE definitions SET name = ?, description = ?, kind = ?, parameters = ?, properties = ?, updated_at = ? WHERE uuid = ?`
	deleteByName = `DELETE FROM definitions WHERE name = ?`
)

// Store implements store.Registry on SQLite.
type Store struct {
	db     *sql.DB
	now    store.Clock
	logger *slog.Logger
}

var _ store.Registry = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := NewWithDB(db, logger)
	s.logger.Info("opened definition database", slog.String("path", path))
	return s, nil
}

// NewWithDB wraps an already migrated database connection.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, now: time.Now, logger: logger}
}

// Migrate runs all pending database migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Create stores a new definition.
func (s *Store) Create(ctx context.Context, def *definition.Definition) (*definition.Definition, error) {
	d, err := store.Prepare(def)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := scanOne(tx.QueryRowContext(ctx, selectByName, d.Name)); err == nil {
			return fmt.Errorf("%w: %q", definition.ErrAlreadyExists, d.Name)
		} else if !errors.Is(err, definition.ErrNotFound) {
			return err
		}
		if err := uuidFree(ctx, tx, d.UUID); err != nil {
			return err
		}
		now := s.timestamp()
		d.CreatedAt = now
		d.UpdatedAt = now
		return insert(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// uuidFree reports ErrAlreadyExists when id already belongs to a stored
// definition.
func uuidFree(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := scanOne(tx.QueryRowContext(ctx, selectByUUID, id))
	switch {
	case err == nil:
		return fmt.Errorf("%w: uuid %s", definition.ErrAlreadyExists, id)
	case errors.Is(err, definition.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Save creates or replaces the definition with def's name.
func (s *Store) Save(ctx context.Context, def *definition.Definition) (*definition.Definition, error) {
	d, err := store.Prepare(def)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanOne(tx.QueryRowContext(ctx, selectByName, d.Name))
		switch {
		case errors.Is(err, definition.ErrNotFound):
			if err := uuidFree(ctx, tx, d.UUID); err != nil {
				return err
			}
			now := s.timestamp()
			d.CreatedAt = now
			d.UpdatedAt = now
			return insert(ctx, tx, d)
		case err != nil:
			return err
		}
		d.UUID = existing.UUID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = s.timestamp()
		return update(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Get retrieves a definition by its exact name.
func (s *Store) Get(ctx context.Context, name string) (*definition.Definition, error) {
	d, err := scanOne(s.db.QueryRowContext(ctx, selectByName, name))
	if err != nil {
		return nil, fmt.Errorf("get definition %q: %w", name, err)
	}
	return d, nil
}

// GetByUUID retrieves a definition by its UUID.
func (s *Store) GetByUUID(ctx context.Context, id string) (*definition.Definition, error) {
	d, err := scanOne(s.db.QueryRowContext(ctx, selectByUUID, id))
	if err != nil {
		return nil, fmt.Errorf("get definition %s: %w", id, err)
	}
	return d, nil
}

// Resolve implements definition.Resolver. Database failures are returned
// as-is so callers can tell them apart from definition.ErrNotFound.
func (s *Store) Resolve(ctx context.Context, name string) (*definition.Definition, error) {
	d, err := s.Get(ctx, name)
	if err != nil && !errors.Is(err, definition.ErrNotFound) {
		s.logger.Warn("definition lookup failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
	}
	return d, err
}

// List returns all definitions ordered by name.
func (s *Store) List(ctx context.Context) ([]*definition.Definition, error) {
	rows, err := s.db.QueryContext(ctx, selectAll)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*definition.Definition
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list definitions: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return result, nil
}

// Update replaces the definition stored under name.
func (s *Store) Update(ctx context.Context, name string, def *definition.Definition) (*definition.Definition, error) {
	d, err := store.Prepare(def)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanOne(tx.QueryRowContext(ctx, selectByName, name))
		if err != nil {
			return fmt.Errorf("%w: %q", err, name)
		}
		if d.Name != name {
			_, err := scanOne(tx.QueryRowContext(ctx, selectByName, d.Name))
			if err == nil {
				return fmt.Errorf("%w: %q", definition.ErrAlreadyExists, d.Name)
			}
			if !errors.Is(err, definition.ErrNotFound) {
				return err
			}
		}
		d.UUID = existing.UUID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = s.timestamp()
		return update(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes a definition.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, deleteByName, name)
	if err != nil {
		return fmt.Errorf("delete definition %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete definition %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", definition.ErrNotFound, name)
	}
	return nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insert(ctx context.Context, tx *sql.Tx, d *definition.Definition) error {
	params, props, err := encodeFields(d)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, insertDef,
		d.UUID, d.Name, d.Description, string(d.Kind), params, props,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert definition %q: %w", d.Name, err)
	}
	return nil
}

func update(ctx context.Context, tx *sql.Tx, d *definition.Definition) error {
	params, props, err := encodeFields(d)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, updateDef,
		d.Name, d.Description, string(d.Kind), params, props,
		formatTime(d.UpdatedAt), d.UUID)
	if err != nil {
		return fmt.Errorf("update definition %q: %w", d.Name, err)
	}
	return nil
}

func encodeFields(d *definition.Definition) (string, string, error) {
	params := d.Parameters
	if params == nil {
		params = []definition.Parameter{}
	}
	p, err := json.Marshal(params)
	if err != nil {
		return "", "", fmt.Errorf("encode parameters of %q: %w", d.Name, err)
	}
	props := d.Properties
	if props == nil {
		props = map[string]string{}
	}
	m, err := json.Marshal(props)
	if err != nil {
		return "", "", fmt.Errorf("encode properties of %q: %w", d.Name, err)
	}
	return string(p), string(m), nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanOne scans a single row, mapping sql.ErrNoRows to definition.ErrNotFound.
func scanOne(row *sql.Row) (*definition.Definition, error) {
	d, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, definition.ErrNotFound
	}
	return d, err
}

func scan(row scanner) (*definition.Definition, error) {
	var (
		d                    definition.Definition
		kind, params, props  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.UUID, &d.Name, &d.Description, &kind, &params, &props, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Kind = definition.Kind(kind)

	if err := json.Unmarshal([]byte(params), &d.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters of %q: %w", d.Name, err)
	}
	if len(d.Parameters) == 0 {
		d.Parameters = nil
	}
	if err := json.Unmarshal([]byte(props), &d.Properties); err != nil {
		return nil, fmt.Errorf("decode properties of %q: %w", d.Name, err)
	}
	if len(d.Properties) == 0 {
		d.Properties = nil
	}

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
