// Package webflowtest provides a fake Webflow OAuth and Data API server.
package webflowtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openkcm/auth-bridge/internal/webflow"
)

const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
	ValidCode    = "valid-code"
	AccessToken  = "platform-access-token"
)

type Server struct {
	*httptest.Server

	mu sync.Mutex

	sites        []webflow.Site
	workspaceIDs []string
	users        map[string]webflow.User

	failExchange   bool
	failIntrospect bool
	failSites      bool

	exchangeCalls int
	resolveCalls  int
}

type Option func(*Server)

func WithSites(sites ...webflow.Site) Option {
	return func(s *Server) { s.sites = sites }
}

func WithWorkspaces(ids ...string) Option {
	return func(s *Server) { s.workspaceIDs = ids }
}

// WithUser makes idToken resolve to user.
func WithUser(idToken string, user webflow.User) Option {
	return func(s *Server) { s.users[idToken] = user }
}

func WithFailingExchange() Option {
	return func(s *Server) { s.failExchange = true }
}

func WithFailingIntrospect() Option {
	return func(s *Server) { s.failIntrospect = true }
}

func WithFailingSites() Option {
	return func(s *Server) { s.failSites = true }
}

func NewServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	s := &Server{users: make(map[string]webflow.User)}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/access_token", s.handleToken)
	mux.HandleFunc("GET /v2/token/introspect", s.authenticated(s.handleIntrospect))
	mux.HandleFunc("GET /v2/sites", s.authenticated(s.handleListSites))
	mux.HandleFunc("GET /v2/sites/{siteId}", s.authenticated(s.handleGetSite))
	mux.HandleFunc("POST /beta/token/resolve", s.authenticated(s.handleResolve))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// Client returns a webflow.Client pointed at the fake server.
func (s *Server) Client() *webflow.Client {
	return webflow.NewClient(s.Config())
}

func (s *Server) Config() webflow.Config {
	return webflow.Config{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		AuthorizeURL: s.URL + "/oauth/authorize",
		TokenURL:     s.URL + "/oauth/access_token",
		APIBaseURL:   s.URL,
		HTTPClient:   s.Server.Client(),
	}
}

func (s *Server) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

func (s *Server) ResolveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveCalls
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.exchangeCalls++
	s.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	if s.failExchange ||
		r.PostForm.Get("code") != ValidCode ||
		r.PostForm.Get("client_id") != ClientID ||
		r.PostForm.Get("client_secret") != ClientSecret ||
		r.PostForm.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": AccessToken,
		"token_type":   "bearer",
	})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, _ *http.Request) {
	if s.failIntrospect {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	siteIDs := make([]string, 0, len(s.sites))
	for _, site := range s.sites {
		siteIDs = append(siteIDs, site.ID)
	}

	writeJSON(w, http.StatusOK, webflow.Introspection{
		Authorization: webflow.Authorization{
			ID: "authorization-1",
			AuthorizedTo: webflow.AuthorizedTo{
				SiteIDs:      siteIDs,
				WorkspaceIDs: s.workspaceIDs,
				UserIDs:      []string{},
			},
		},
	})
}

func (s *Server) handleListSites(w http.ResponseWriter, _ *http.Request) {
	if s.failSites {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sites := s.sites
	if sites == nil {
		sites = []webflow.Site{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	for _, site := range s.sites {
		if site.ID == r.PathValue("siteId") {
			writeJSON(w, http.StatusOK, site)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Requested resource not found"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.resolveCalls++
	s.mu.Unlock()

	var body struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	user, ok := s.users[body.IDToken]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid id token"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != AccessToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "not authorized"})
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
