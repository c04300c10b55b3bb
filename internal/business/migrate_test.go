package business

import (
	"path/filepath"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-bridge/internal/config"
)

func TestMigrateMain_InvalidDatabaseConfig(t *testing.T) {
	cfg := &config.Config{
		TokenStore: config.TokenStore{Backend: config.BackendPostgres},
		Database: config.Database{
			Host:     commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
			Port:     "5432",
			Name:     "testdb",
			User:     commoncfg.SourceRef{Source: "embedded", Value: "user"},
			Password: commoncfg.SourceRef{Source: "embedded", Value: "pass"},
		},
	}

	err := MigrateMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "making connection string from config")
}

func TestMigrateMain_InvalidUserRef(t *testing.T) {
	cfg := &config.Config{
		TokenStore: config.TokenStore{Backend: config.BackendPostgres},
		Database: config.Database{
			Host:     commoncfg.SourceRef{Source: "embedded", Value: "localhost"},
			Port:     "5432",
			Name:     "testdb",
			User:     commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
			Password: commoncfg.SourceRef{Source: "embedded", Value: "pass"},
		},
	}

	err := MigrateMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "making connection string from config")
}

func TestMigrateMain_InvalidPasswordRef(t *testing.T) {
	cfg := &config.Config{
		TokenStore: config.TokenStore{Backend: config.BackendPostgres},
		Database: config.Database{
			Host:     commoncfg.SourceRef{Source: "embedded", Value: "localhost"},
			Port:     "5432",
			Name:     "testdb",
			User:     commoncfg.SourceRef{Source: "embedded", Value: "user"},
			Password: commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
		},
	}

	err := MigrateMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "making connection string from config")
}

func TestMigrateMain_SQLite(t *testing.T) {
	cfg := &config.Config{
		TokenStore: config.TokenStore{Backend: config.BackendSQLite},
		SQLite:     config.SQLite{Path: filepath.Join(t.TempDir(), "db", "data.sqlite")},
	}

	require.NoError(t, MigrateMain(t.Context(), cfg))
	assert.FileExists(t, cfg.SQLite.Path)

	// Applying twice is a no-op.
	assert.NoError(t, MigrateMain(t.Context(), cfg))
}

func TestMigrateMain_Backends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr assert.ErrorAssertionFunc
	}{
		{name: "valkey has no schema", backend: config.BackendValkey, wantErr: assert.NoError},
		{name: "unknown backend", backend: "mongo", wantErr: assert.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{TokenStore: config.TokenStore{Backend: tt.backend}}

			tt.wantErr(t, MigrateMain(t.Context(), cfg))
		})
	}
}
