// Package webflow talks to the Webflow OAuth endpoints and the small part of
// the Data API needed to finish an authorization: token exchange,
// introspection, site listing and identity token resolution.
package webflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultAuthorizeURL = "https://webflow.com/oauth/authorize"
	DefaultTokenURL     = "https://api.webflow.com/oauth/access_token"
	DefaultAPIBaseURL   = "https://api.webflow.com"

	// DesignerState marks an authorization started from inside the Designer.
	// The callback answers it with a popup page instead of a redirect.
	DesignerState = "webflow_designer"
)

// DefaultScopes are requested on every authorization.
var DefaultScopes = []string{
	"sites:read",
	"sites:write",
	"custom_code:read",
	"custom_code:write",
	"authorized_user:read",
}

var (
	ErrExchangeFailed   = errors.New("authorization code exchange failed")
	ErrIdentityRejected = errors.New("identity token rejected")
)

// APIError is returned for non successful Data API responses. The response
// body is deliberately not kept.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webflow api %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
	HTTPClient   *http.Client
}

type Client struct {
	oauth      *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: strings.TrimSuffix(cfg.APIBaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

func (c *Client) ClientID() string {
	return c.oauth.ClientID
}

// AuthorizeURL builds the provider authorization URL. It is a pure function
// of the configuration and the designer flag.
func (c *Client) AuthorizeURL(designer bool) string {
	state := ""
	if designer {
		state = DesignerState
	}

	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades a single use authorization code for an access token.
// It is never retried.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		slogctx.Warn(ctx, "Authorization code exchange failed", "error", err)
		return "", ErrExchangeFailed
	}

	if token.AccessToken == "" {
		return "", ErrExchangeFailed
	}

	return token.AccessToken, nil
}

func (c *Client) Introspect(ctx context.Context, accessToken string) (Introspection, error) {
	var out Introspection
	if err := c.do(ctx, http.MethodGet, "/v2/token/introspect", accessToken, nil, &out); err != nil {
		return Introspection{}, fmt.Errorf("introspecting token: %w", err)
	}

	return out, nil
}

func (c *Client) ListSites(ctx context.Context, accessToken string) ([]Site, error) {
	var out struct {
		Sites []Site `json:"sites"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/sites", accessToken, nil, &out); err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}

	return out.Sites, nil
}

func (c *Client) GetSite(ctx context.Context, accessToken, siteID string) (Site, error) {
	var out Site
	if err := c.do(ctx, http.MethodGet, "/v2/sites/"+url.PathEscape(siteID), accessToken, nil, &out); err != nil {
		return Site{}, fmt.Errorf("getting site: %w", err)
	}

	return out, nil
}

// ResolveIDToken asks the platform who the Designer identity token belongs
// to. The site access token authenticates the request.
func (c *Client) ResolveIDToken(ctx context.Context, accessToken, idToken string) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodPost, "/beta/token/resolve", accessToken, map[string]string{"idToken": idToken}, &out); err != nil {
		slogctx.Warn(ctx, "Identity token resolution failed", "error", err)
		return User{}, ErrIdentityRejected
	}

	if out.ID == "" {
		return User{}, ErrIdentityRejected
	}

	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
