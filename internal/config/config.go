// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

const (
	EnvironmentDevelopment = "development"

	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendValkey   = "valkey"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	TokenStore TokenStore `yaml:"tokenStore"`
	Database   Database   `yaml:"database"`
	SQLite     SQLite     `yaml:"sqlite"`
	ValKey     ValKey     `yaml:"valkey"`

	Webflow      Webflow         `yaml:"webflow"`
	SessionToken SessionToken    `yaml:"sessionToken"`
	AuthFlow     AuthFlow        `yaml:"authFlow"`
	Audit        commoncfg.Audit `yaml:"audit"`
}

// IsDevelopment reports whether maintenance operations and error details
// are enabled.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Application.Environment, EnvironmentDevelopment)
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	// AllowedOrigin is the frontend origin allowed to call the API with
	// credentials.
	AllowedOrigin string `yaml:"allowedOrigin" default:"http://localhost:1337"`
}

type TokenStore struct {
	Backend string `yaml:"backend" default:"sqlite"`
}

func (t TokenStore) Validate() error {
	switch t.Backend {
	case BackendPostgres, BackendSQLite, BackendValkey:
		return nil
	default:
		return fmt.Errorf("unsupported token store backend %q", t.Backend)
	}
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	// SSLMode is passed through as the libpq sslmode parameter when set.
	SSLMode string `yaml:"sslMode"`
}

type SQLite struct {
	Path string `yaml:"path" default:"./db/data.sqlite"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"auth-bridge"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Webflow struct {
	ClientID     string              `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	RedirectURL  string              `yaml:"redirectURL"`
	Scopes       []string            `yaml:"scopes"`
	AuthorizeURL string              `yaml:"authorizeURL" default:"https://webflow.com/oauth/authorize"`
	TokenURL     string              `yaml:"tokenURL" default:"https://api.webflow.com/oauth/access_token"`
	APIBaseURL   string              `yaml:"apiBaseURL" default:"https://api.webflow.com"`
	Timeout      time.Duration       `yaml:"timeout" default:"10s"`
}

type SessionToken struct {
	// SigningSecret must hold at least 32 bytes. When empty, development
	// deployments fall back to the Webflow client secret.
	SigningSecret commoncfg.SourceRef `yaml:"signingSecret"`
	Duration      time.Duration       `yaml:"duration" default:"24h"`
}

type AuthFlow struct {
	DashboardURL      string `yaml:"dashboardURL" default:"https://webflow.com/dashboard"`
	DesignerDomain    string `yaml:"designerDomain" default:"design.webflow.com"`
	FanOutConcurrency int    `yaml:"fanOutConcurrency" default:"8"`
}
