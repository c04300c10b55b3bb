// Package tokenstoresqlite stores the authorizations in a local SQLite file.
// It is the default backend for development setups.
package tokenstoresqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
	migrations "github.com/openkcm/auth-bridge/sql"
)

const (
	driverName   = "sqlite"
	gooseDialect = "sqlite3"
)

type Repository struct {
	db *sql.DB
}

var _ = tokenstore.Repository(&Repository{})

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// Open opens the database file at path, creating the parent directory and
// applying pending migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies the embedded SQLite migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, migrations.SQLiteDir); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

func (r *Repository) Put(ctx context.Context, kind tokenstore.Kind, id, accessToken string) error {
	var query string
	switch kind {
	case tokenstore.KindSite:
		query = `INSERT INTO site_authorizations (site_id, access_token, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (site_id)
	DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at;`
	case tokenstore.KindUser:
		query = `INSERT INTO user_authorizations (user_id, access_token, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (user_id)
	DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at;`
	default:
		return fmt.Errorf("unknown authorization kind %q", kind)
	}

	if _, err := r.db.ExecContext(ctx, query, id, accessToken); err != nil {
		return fmt.Errorf("upserting %s authorization: %w", kind, err)
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, kind tokenstore.Kind, id string) (accessToken string, _ error) {
	var query string
	switch kind {
	case tokenstore.KindSite:
		query = `SELECT access_token FROM site_authorizations WHERE site_id = ?;`
	case tokenstore.KindUser:
		query = `SELECT access_token FROM user_authorizations WHERE user_id = ?;`
	default:
		return "", fmt.Errorf("unknown authorization kind %q", kind)
	}

	if err := r.db.QueryRowContext(ctx, query, id).Scan(&accessToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", serviceerr.ErrNotFound
		}

		return "", fmt.Errorf("selecting %s authorization: %w", kind, err)
	}

	return accessToken, nil
}

func (r *Repository) ClearAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM site_authorizations;`); err != nil {
		return fmt.Errorf("deleting from site_authorizations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_authorizations;`); err != nil {
		return fmt.Errorf("deleting from user_authorizations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}
