package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/routesphere/internal/domain"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// TenantRepository implements domain.TenantRepository using SQLite.
type TenantRepository struct {
	db *sql.DB
}

var _ domain.TenantRepository = (*TenantRepository)(nil)

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*TenantRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready repository.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*TenantRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &TenantRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *TenantRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *TenantRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

// List returns every tenant, parents before children: ordered by level,
// then by insertion.
func (r *TenantRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, level, COALESCE(parent_id, ''), status, properties
		 FROM tenants ORDER BY level, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		var (
			t      domain.Tenant
			level  int
			status string
			props  string
		)
		if err := rows.Scan(&t.ID, &t.Name, &level, &t.ParentID, &status, &props); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		t.Level = domain.Level(level)
		t.Status = domain.Status(status)
		if err := json.Unmarshal([]byte(props), &t.Properties); err != nil {
			return nil, fmt.Errorf("decoding properties of tenant %s: %w", t.ID, err)
		}
		if t.Properties == nil {
			t.Properties = make(map[string]string)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Save inserts t or replaces the stored copy. Child lists are derived and
// not stored.
func (r *TenantRepository) Save(ctx context.Context, t domain.Tenant) error {
	props, err := json.Marshal(t.Properties)
	if err != nil {
		return fmt.Errorf("encoding properties: %w", err)
	}
	if t.Properties == nil {
		props = []byte("{}")
	}
	var parent any
	if t.ParentID != "" {
		parent = t.ParentID
	}
	now := time.Now().UTC().Format(timeFormat)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, level, parent_id, status, properties, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   level = excluded.level,
		   parent_id = excluded.parent_id,
		   status = excluded.status,
		   properties = excluded.properties,
		   updated_at = excluded.updated_at`,
		t.ID, t.Name, int(t.Level), parent, string(t.Status), string(props), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving tenant: %w", err)
	}
	return nil
}

// UpdateStatus changes the stored status of id.
func (r *TenantRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("updating tenant status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// Delete removes the given tenants in one statement, so a parent and its
// children can go together. It fails with ErrTenantNotFound when none of
// the ids is stored.
func (r *TenantRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting tenants: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}
