// Package authflow drives the cross tier authorization: the provider redirect,
// the callback with its per site fan-out, and the exchange of a Designer
// identity token for a session token.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/sessiontoken"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
	"github.com/openkcm/auth-bridge/internal/webflow"
)

const (
	DefaultDashboardURL      = "https://webflow.com/dashboard"
	DefaultDesignerDomain    = "design.webflow.com"
	DefaultFanOutConcurrency = 8

	auditServiceName = "auth bridge"
)

// OAuthClient is the provider side of the flow.
type OAuthClient interface {
	ClientID() string
	AuthorizeURL(designer bool) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	Introspect(ctx context.Context, accessToken string) (webflow.Introspection, error)
	ListSites(ctx context.Context, accessToken string) ([]webflow.Site, error)
	ResolveIDToken(ctx context.Context, accessToken, idToken string) (webflow.User, error)
}

type TokenIssuer interface {
	Issue(user sessiontoken.User) (sessiontoken.Issued, error)
}

type Options struct {
	DashboardURL      string
	DesignerDomain    string
	FanOutConcurrency int
}

type Controller struct {
	client OAuthClient
	store  *tokenstore.Store
	issuer TokenIssuer
	audit  *otlpaudit.AuditLogger
	opts   Options
}

// CallbackResult tells the HTTP layer how to answer the provider callback.
type CallbackResult struct {
	Popup       bool
	RedirectURL string
	Sites       int
}

// SessionGrant is returned to the browser after a successful exchange.
type SessionGrant struct {
	SessionToken string `json:"sessionToken"`
	Exp          int64  `json:"exp"`
}

func NewController(client OAuthClient, store *tokenstore.Store, issuer TokenIssuer, audit *otlpaudit.AuditLogger, opts Options) *Controller {
	if opts.DashboardURL == "" {
		opts.DashboardURL = DefaultDashboardURL
	}
	if opts.DesignerDomain == "" {
		opts.DesignerDomain = DefaultDesignerDomain
	}
	if opts.FanOutConcurrency <= 0 {
		opts.FanOutConcurrency = DefaultFanOutConcurrency
	}

	return &Controller{
		client: client,
		store:  store,
		issuer: issuer,
		audit:  audit,
		opts:   opts,
	}
}

// Authorize returns the provider URL the browser is redirected to.
func (c *Controller) Authorize(ctx context.Context, designer bool) string {
	slogctx.Debug(ctx, "Starting authorization", "designer", designer, "phase", PhaseRedirected)
	return c.client.AuthorizeURL(designer)
}

// HandleCallback completes the provider side of the flow: it exchanges the
// code, stores the access token for every authorized site and decides where
// the browser goes next.
func (c *Controller) HandleCallback(ctx context.Context, code, state string) (CallbackResult, error) {
	if code == "" {
		return CallbackResult{}, fail(PhaseRedirected, serviceerr.BadRequest("No code provided"))
	}
	slogctx.Debug(ctx, "Callback received", "phase", PhaseCallbackReceived)

	accessToken, err := c.client.ExchangeCode(ctx, code)
	if err != nil {
		return CallbackResult{}, fail(PhaseCallbackReceived, fmt.Errorf("%w: %w", serviceerr.ErrUpstream, err))
	}
	slogctx.Debug(ctx, "Authorization code exchanged", "phase", PhaseExchanged)

	sites, err := c.client.ListSites(ctx, accessToken)
	if err != nil {
		return CallbackResult{}, fail(PhaseExchanged, fmt.Errorf("%w: %w", serviceerr.ErrUpstream, err))
	}

	if err := c.registerSites(ctx, sites, accessToken); err != nil {
		return CallbackResult{}, fail(PhaseExchanged, fmt.Errorf("%w: %w", serviceerr.ErrUpstream, err))
	}
	slogctx.Info(ctx, "Registered site authorizations", "sites", len(sites), "phase", PhaseSitesRegistered)

	result := CallbackResult{Sites: len(sites)}
	if state == webflow.DesignerState {
		result.Popup = true
	} else {
		result.RedirectURL = c.redirectTarget(ctx, accessToken, sites)
	}

	slogctx.Debug(ctx, "Authorization complete", "phase", PhaseComplete, "popup", result.Popup)

	return result, nil
}

// registerSites upserts one authorization per site. Each upsert is
// independent; the call succeeds only if all of them do.
func (c *Controller) registerSites(ctx context.Context, sites []webflow.Site, accessToken string) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.opts.FanOutConcurrency)

	for _, site := range sites {
		g.Go(func() error {
			if err := c.store.InsertSiteAuthorization(ctx, site.ID, accessToken); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("site %s: %w", site.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		slogctx.Error(ctx, "Failed to register site authorizations", "failed", len(errs), "sites", len(sites))
		return fmt.Errorf("registering %d of %d sites: %w", len(errs), len(sites), errors.Join(errs...))
	}

	return nil
}

// redirectTarget prefers the first authorized workspace, then the Designer
// of the first site, then the dashboard. Introspection failures only lose
// the workspace preference.
func (c *Controller) redirectTarget(ctx context.Context, accessToken string, sites []webflow.Site) string {
	introspection, err := c.client.Introspect(ctx, accessToken)
	if err != nil {
		slogctx.Warn(ctx, "Token introspection failed, falling back to site redirect", "error", err)
	} else if ws := introspection.Authorization.AuthorizedTo.WorkspaceIDs; len(ws) > 0 {
		return c.opts.DashboardURL + "?workspace=" + url.QueryEscape(ws[0])
	}

	if len(sites) > 0 && sites[0].ShortName != "" {
		u := url.URL{
			Scheme:   "https",
			Host:     sites[0].ShortName + "." + c.opts.DesignerDomain,
			RawQuery: url.Values{"app": []string{c.client.ClientID()}}.Encode(),
		}
		return u.String()
	}

	return c.opts.DashboardURL
}

// ExchangeForSession trades a Designer identity token for a session token.
// Every failure after input validation is reported as the same
// unauthorized error.
func (c *Controller) ExchangeForSession(ctx context.Context, idToken, siteID string) (SessionGrant, error) {
	if idToken == "" {
		return SessionGrant{}, serviceerr.BadRequest("ID token is required")
	}
	if siteID == "" {
		return SessionGrant{}, serviceerr.BadRequest("Site ID is required")
	}

	ctx = slogctx.With(ctx, "site_id", siteID)

	metadata, err := otlpaudit.NewEventMetadata(auditServiceName, siteID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
	}

	accessToken, err := c.store.SiteAccessToken(ctx, siteID)
	if err != nil {
		return SessionGrant{}, c.reject(ctx, metadata, siteID, "site not authorized", err)
	}

	user, err := c.client.ResolveIDToken(ctx, accessToken, idToken)
	if err != nil {
		return SessionGrant{}, c.reject(ctx, metadata, siteID, "identity token rejected", err)
	}

	issued, err := c.issuer.Issue(sessiontoken.User{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
	if err != nil {
		return SessionGrant{}, c.reject(ctx, metadata, siteID, "session token issuance failed", err)
	}

	if err := c.store.InsertUserAuthorization(ctx, user.ID, accessToken); err != nil {
		return SessionGrant{}, c.reject(ctx, metadata, siteID, "user authorization not stored", err)
	}

	slogctx.Info(ctx, "Issued session token", "user_id", user.ID)
	c.sendLoginSuccessAudit(ctx, metadata, user.ID, siteID)

	return SessionGrant{
		SessionToken: issued.Token,
		Exp:          issued.Expiry.Unix(),
	}, nil
}

func (c *Controller) reject(ctx context.Context, metadata otlpaudit.EventMetadata, siteID, reason string, err error) error {
	slogctx.Warn(ctx, "Session exchange rejected", "reason", reason, "error", err)
	c.sendLoginFailureAudit(ctx, metadata, siteID, reason)

	return serviceerr.ErrUnauthorized
}

func (c *Controller) sendLoginSuccessAudit(ctx context.Context, metadata otlpaudit.EventMetadata, userID, siteID string) {
	if c.audit == nil {
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, userID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, siteID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := c.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
	}
}

func (c *Controller) sendLoginFailureAudit(ctx context.Context, metadata otlpaudit.EventMetadata, siteID, reason string) {
	if c.audit == nil {
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, siteID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), siteID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := c.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
	}
}
