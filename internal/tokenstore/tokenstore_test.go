package tokenstore_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
	tokenstoremock "github.com/openkcm/auth-bridge/internal/tokenstore/mock"
)

var errStorage = errors.New("storage unavailable")

func TestKind_Valid(t *testing.T) {
	assert.True(t, tokenstore.KindSite.Valid())
	assert.True(t, tokenstore.KindUser.Valid())
	assert.False(t, tokenstore.Kind("workspace").Valid())
}

func TestStore_InsertSiteAuthorization(t *testing.T) {
	tests := []struct {
		name        string
		repo        *tokenstoremock.Repository
		siteID      string
		accessToken string
		assertErr   assert.ErrorAssertionFunc
	}{
		{
			name:        "Success",
			repo:        tokenstoremock.NewInMemRepository(),
			siteID:      "site-1",
			accessToken: "token-1",
			assertErr:   assert.NoError,
		},
		{
			name:        "Replaces an existing token",
			repo:        tokenstoremock.NewInMemRepository(tokenstoremock.WithSite("site-1", "old")),
			siteID:      "site-1",
			accessToken: "token-1",
			assertErr:   assert.NoError,
		},
		{
			name:        "Empty site id",
			repo:        tokenstoremock.NewInMemRepository(),
			siteID:      " ",
			accessToken: "token-1",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrInvalidID, msgAndArgs...)
			},
		},
		{
			name:        "Empty access token",
			repo:        tokenstoremock.NewInMemRepository(),
			siteID:      "site-1",
			accessToken: "",
			assertErr:   assert.Error,
		},
		{
			name:        "Repository failure",
			repo:        tokenstoremock.NewInMemRepository(tokenstoremock.WithPutError(errStorage)),
			siteID:      "site-1",
			accessToken: "token-1",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, errStorage, msgAndArgs...)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tokenstore.New(tt.repo)

			err := s.InsertSiteAuthorization(t.Context(), tt.siteID, tt.accessToken)
			if !tt.assertErr(t, err, fmt.Sprintf("Store.InsertSiteAuthorization() error = %v", err)) || err != nil {
				return
			}

			got, ok := tt.repo.TGet(tokenstore.KindSite, tt.siteID)
			require.True(t, ok)
			assert.Equal(t, tt.accessToken, got)
		})
	}
}

func TestStore_SiteAccessToken(t *testing.T) {
	tests := []struct {
		name      string
		repo      *tokenstoremock.Repository
		siteID    string
		want      string
		assertErr assert.ErrorAssertionFunc
	}{
		{
			name:      "Success",
			repo:      tokenstoremock.NewInMemRepository(tokenstoremock.WithSite("site-1", "token-1")),
			siteID:    "site-1",
			want:      "token-1",
			assertErr: assert.NoError,
		},
		{
			name:   "Not found",
			repo:   tokenstoremock.NewInMemRepository(),
			siteID: "site-1",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrNotFound, msgAndArgs...)
			},
		},
		{
			name:   "User mapping does not leak into sites",
			repo:   tokenstoremock.NewInMemRepository(tokenstoremock.WithUser("site-1", "token-1")),
			siteID: "site-1",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrNotFound, msgAndArgs...)
			},
		},
		{
			name:   "Empty site id",
			repo:   tokenstoremock.NewInMemRepository(),
			siteID: "",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrInvalidID, msgAndArgs...)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tokenstore.New(tt.repo)

			got, err := s.SiteAccessToken(t.Context(), tt.siteID)
			if !tt.assertErr(t, err, fmt.Sprintf("Store.SiteAccessToken() error = %v", err)) || err != nil {
				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_UserAuthorization(t *testing.T) {
	repo := tokenstoremock.NewInMemRepository()
	s := tokenstore.New(repo)

	require.NoError(t, s.InsertUserAuthorization(t.Context(), "user-1", "token-a"))
	require.NoError(t, s.InsertUserAuthorization(t.Context(), "user-1", "token-b"))

	got, err := s.UserAccessToken(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "token-b", got, "last write wins")
	assert.Equal(t, 1, repo.Len(tokenstore.KindUser))

	_, err = s.UserAccessToken(t.Context(), "user-2")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestStore_Clear(t *testing.T) {
	t.Run("removes sites and users", func(t *testing.T) {
		repo := tokenstoremock.NewInMemRepository(
			tokenstoremock.WithSite("site-1", "token-1"),
			tokenstoremock.WithUser("user-1", "token-1"),
		)

		err := tokenstore.New(repo).Clear(t.Context())
		require.NoError(t, err)

		assert.Zero(t, repo.Len(tokenstore.KindSite))
		assert.Zero(t, repo.Len(tokenstore.KindUser))
	})

	t.Run("propagates repository error", func(t *testing.T) {
		repo := tokenstoremock.NewInMemRepository(tokenstoremock.WithClearError(errStorage))

		err := tokenstore.New(repo).Clear(t.Context())
		assert.ErrorIs(t, err, errStorage)
	})
}
