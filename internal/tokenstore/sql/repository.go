package tokenstoresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
)

// Repository stores the authorizations in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var _ = tokenstore.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Put(ctx context.Context, kind tokenstore.Kind, id, accessToken string) error {
	query, err := upsertQuery(kind)
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, query, id, accessToken); err != nil {
		return fmt.Errorf("upserting %s authorization: %w", kind, err)
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, kind tokenstore.Kind, id string) (accessToken string, _ error) {
	query, err := selectQuery(kind)
	if err != nil {
		return "", err
	}

	if err := r.db.QueryRow(ctx, query, id).Scan(&accessToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", serviceerr.ErrNotFound
		}

		return "", fmt.Errorf("selecting %s authorization: %w", kind, err)
	}

	return accessToken, nil
}

func (r *Repository) ClearAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM site_authorizations;`); err != nil {
		return fmt.Errorf("deleting from site_authorizations: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM user_authorizations;`); err != nil {
		return fmt.Errorf("deleting from user_authorizations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func upsertQuery(kind tokenstore.Kind) (string, error) {
	switch kind {
	case tokenstore.KindSite:
		return `INSERT INTO site_authorizations (site_id, access_token, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (site_id)
	DO UPDATE SET (access_token, updated_at) = (EXCLUDED.access_token, EXCLUDED.updated_at);`, nil
	case tokenstore.KindUser:
		return `INSERT INTO user_authorizations (user_id, access_token, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (user_id)
	DO UPDATE SET (access_token, updated_at) = (EXCLUDED.access_token, EXCLUDED.updated_at);`, nil
	default:
		return "", fmt.Errorf("unknown authorization kind %q", kind)
	}
}

func selectQuery(kind tokenstore.Kind) (string, error) {
	switch kind {
	case tokenstore.KindSite:
		return `SELECT access_token FROM site_authorizations WHERE site_id = $1;`, nil
	case tokenstore.KindUser:
		return `SELECT access_token FROM user_authorizations WHERE user_id = $1;`, nil
	default:
		return "", fmt.Errorf("unknown authorization kind %q", kind)
	}
}
