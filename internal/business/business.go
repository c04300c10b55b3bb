package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-bridge/internal/authflow"
	"github.com/openkcm/auth-bridge/internal/business/server"
	"github.com/openkcm/auth-bridge/internal/config"
	"github.com/openkcm/auth-bridge/internal/sessiontoken"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
	"github.com/openkcm/auth-bridge/internal/webflow"

	tokenstoresql "github.com/openkcm/auth-bridge/internal/tokenstore/sql"
	tokenstoresqlite "github.com/openkcm/auth-bridge/internal/tokenstore/sqlite"
	tokenstorevalkey "github.com/openkcm/auth-bridge/internal/tokenstore/valkey"
)

var (
	ErrNotDevelopment = errors.New("only available in development")
	ErrSigningSecret  = errors.New("session token signing secret is not configured")
)

// Main starts the HTTP API server and blocks until ctx is cancelled.
func Main(ctx context.Context, cfg *config.Config) error {
	store, closeFn, err := initTokenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the token store: %w", err)
	}

	defer closeFn()

	webflowClient, err := initWebflowClient(cfg)
	if err != nil {
		return fmt.Errorf("initialising the webflow client: %w", err)
	}

	codec, err := initSessionCodec(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session token codec: %w", err)
	}

	auditLogger, err := initAuditLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating audit logger: %w", err)
	}

	flow := authflow.NewController(webflowClient, store, codec, auditLogger, authflow.Options{
		DashboardURL:      cfg.AuthFlow.DashboardURL,
		DesignerDomain:    cfg.AuthFlow.DesignerDomain,
		FanOutConcurrency: cfg.AuthFlow.FanOutConcurrency,
	})

	return server.StartHTTPServer(ctx, cfg, server.Dependencies{
		Flow:     flow,
		Store:    store,
		Verifier: codec,
		Sites:    webflowClient,
	})
}

// ClearMain wipes every stored authorization. It refuses to run outside
// development.
func ClearMain(ctx context.Context, cfg *config.Config) error {
	if !cfg.IsDevelopment() {
		return ErrNotDevelopment
	}

	store, closeFn, err := initTokenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the token store: %w", err)
	}

	defer closeFn()

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing the token store: %w", err)
	}

	slogctx.Info(ctx, "Token store cleared", "backend", cfg.TokenStore.Backend)

	return nil
}

func initTokenStore(ctx context.Context, cfg *config.Config) (_ *tokenstore.Store, closeFn func(), _ error) {
	if err := cfg.TokenStore.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.TokenStore.Backend {
	case config.BackendPostgres:
		pool, err := newPgxPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}

		return tokenstore.New(tokenstoresql.NewRepository(pool)), pool.Close, nil
	case config.BackendValkey:
		client, err := newValkeyClient(cfg.ValKey)
		if err != nil {
			return nil, nil, err
		}

		return tokenstore.New(tokenstorevalkey.NewRepository(client, cfg.ValKey.Prefix)), client.Close, nil
	default:
		db, err := tokenstoresqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}

		closeFn := func() {
			if err := db.Close(); err != nil {
				slogctx.Error(ctx, "Failed to close sqlite database", "error", err)
			}
		}

		return tokenstore.New(tokenstoresqlite.NewRepository(db)), closeFn, nil
	}
}

func newPgxPool(ctx context.Context, dbCfg config.Database) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}

	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recording pgxpool stats: %w", err)
	}

	return pool, nil
}

func newValkeyClient(vkCfg config.ValKey) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(vkCfg.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(vkCfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(vkCfg.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if vkCfg.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&vkCfg.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

func initWebflowClient(cfg *config.Config) (*webflow.Client, error) {
	clientSecret, err := commoncfg.LoadValueFromSourceRef(cfg.Webflow.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("loading webflow client secret: %w", err)
	}

	return webflow.NewClient(webflow.Config{
		ClientID:     cfg.Webflow.ClientID,
		ClientSecret: string(clientSecret),
		RedirectURL:  cfg.Webflow.RedirectURL,
		Scopes:       cfg.Webflow.Scopes,
		AuthorizeURL: cfg.Webflow.AuthorizeURL,
		TokenURL:     cfg.Webflow.TokenURL,
		APIBaseURL:   cfg.Webflow.APIBaseURL,
		HTTPClient:   &http.Client{Timeout: cfg.Webflow.Timeout},
	}), nil
}

func initSessionCodec(ctx context.Context, cfg *config.Config) (*sessiontoken.Codec, error) {
	secret, err := loadSigningSecret(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return sessiontoken.NewCodec(secret, sessiontoken.WithDuration(cfg.SessionToken.Duration))
}

// loadSigningSecret returns the dedicated session signing secret. Only
// development deployments may fall back to the webflow client secret.
func loadSigningSecret(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.SessionToken.SigningSecret.Source != "" {
		secret, err := commoncfg.LoadValueFromSourceRef(cfg.SessionToken.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("loading session signing secret: %w", err)
		}

		return secret, nil
	}

	if !cfg.IsDevelopment() {
		return nil, ErrSigningSecret
	}

	slogctx.Warn(ctx, "No session signing secret configured, reusing the webflow client secret")

	secret, err := commoncfg.LoadValueFromSourceRef(cfg.Webflow.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("loading webflow client secret: %w", err)
	}

	return secret, nil
}

func initAuditLogger(ctx context.Context, cfg *config.Config) (*otlpaudit.AuditLogger, error) {
	if cfg.Audit.Endpoint == "" {
		slogctx.Warn(ctx, "No audit endpoint configured, audit events are disabled")
		return nil, nil
	}

	return otlpaudit.NewLogger(&cfg.Audit)
}
