//go:build integration

package integration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"

	tokenstoresqlite "github.com/openkcm/auth-bridge/internal/tokenstore/sqlite"
)

func TestClear(t *testing.T) {
	const cmdName = "clear"

	tests := []struct {
		name        string
		environment string
		wantErr     assert.ErrorAssertionFunc
		wantCleared bool
	}{
		{name: "development", environment: "development", wantErr: assert.NoError, wantCleared: true},
		{name: "production", environment: "production", wantErr: assert.Error, wantCleared: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()

			istat := initInfra(t, cmdName+"-"+tt.name)
			defer istat.Close(ctx)

			istat.Cfg.Application.Environment = tt.environment
			istat.PrepareConfig(t)

			db, err := tokenstoresqlite.Open(ctx, istat.Cfg.SQLite.Path)
			require.NoError(t, err)
			store := tokenstore.New(tokenstoresqlite.NewRepository(db))
			require.NoError(t, store.InsertSiteAuthorization(ctx, "site-1", "token-1"))
			require.NoError(t, db.Close())

			tt.wantErr(t, istat.Run(t, cmdName))

			db, err = tokenstoresqlite.Open(ctx, istat.Cfg.SQLite.Path)
			require.NoError(t, err)
			defer db.Close()

			_, err = tokenstore.New(tokenstoresqlite.NewRepository(db)).SiteAccessToken(ctx, "site-1")
			if tt.wantCleared {
				assert.ErrorIs(t, err, serviceerr.ErrNotFound)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
