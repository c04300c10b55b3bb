// Package tokenstore keeps the platform access tokens obtained through the
// OAuth flow, keyed by the site or the user they were granted for.
//
// Access tokens never leave the server. Writes replace any previous token for
// the same identifier and there is no expiry: a token is kept until the next
// authorization for the same site or user overwrites it.
package tokenstore

import (
	"context"
	"fmt"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
)

// Kind selects the identifier space of a stored token.
type Kind string

const (
	KindSite Kind = "site"
	KindUser Kind = "user"
)

func (k Kind) Valid() bool {
	return k == KindSite || k == KindUser
}

// Repository is implemented by the storage backends. Put must be an atomic
// single row upsert. Get returns serviceerr.ErrNotFound for unknown ids.
type Repository interface {
	Put(ctx context.Context, kind Kind, id, accessToken string) error
	Get(ctx context.Context, kind Kind, id string) (string, error)
	ClearAll(ctx context.Context) error
}

// Store validates identifiers and exposes the site and user mappings on top
// of a Repository.
type Store struct {
	repo Repository
}

func New(repo Repository) *Store {
	return &Store{repo: repo}
}

func (s *Store) InsertSiteAuthorization(ctx context.Context, siteID, accessToken string) error {
	return s.put(ctx, KindSite, siteID, accessToken)
}

func (s *Store) SiteAccessToken(ctx context.Context, siteID string) (string, error) {
	return s.get(ctx, KindSite, siteID)
}

func (s *Store) InsertUserAuthorization(ctx context.Context, userID, accessToken string) error {
	return s.put(ctx, KindUser, userID, accessToken)
}

func (s *Store) UserAccessToken(ctx context.Context, userID string) (string, error) {
	return s.get(ctx, KindUser, userID)
}

// Clear removes every stored authorization. Callers are responsible for
// restricting it to development deployments.
func (s *Store) Clear(ctx context.Context) error {
	slogctx.Warn(ctx, "Clearing all stored authorizations")

	if err := s.repo.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing authorizations: %w", err)
	}

	return nil
}

func (s *Store) put(ctx context.Context, kind Kind, id, accessToken string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s id: %w", kind, serviceerr.ErrInvalidID)
	}

	if accessToken == "" {
		return fmt.Errorf("empty access token for %s %s", kind, id)
	}

	if err := s.repo.Put(ctx, kind, id, accessToken); err != nil {
		return fmt.Errorf("storing %s authorization: %w", kind, err)
	}

	slogctx.Debug(ctx, "Stored authorization", "kind", kind, "id", id)

	return nil
}

func (s *Store) get(ctx context.Context, kind Kind, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%s id: %w", kind, serviceerr.ErrInvalidID)
	}

	token, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return "", fmt.Errorf("loading %s authorization: %w", kind, err)
	}

	return token, nil
}
