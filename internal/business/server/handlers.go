package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-bridge/internal/authflow"
	"github.com/openkcm/auth-bridge/internal/middleware/auth"
	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
	"github.com/openkcm/auth-bridge/internal/webflow"
)

// designerStateAlias is accepted at /authorize in place of the full
// designer state value.
const designerStateAlias = "designer"

// popupPage closes the Designer authorization popup and notifies the
// opener, when there still is one, on the frontend origin only.
var popupPage = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<p>Authorization complete. You can close this window.</p>
<script>
if (window.opener) {
  window.opener.postMessage('authComplete', {{.TargetOrigin}});
}
window.close();
</script>
</body>
</html>
`))

// SiteAPI is the part of the platform API exposed through the protected
// routes.
type SiteAPI interface {
	ListSites(ctx context.Context, accessToken string) ([]webflow.Site, error)
	GetSite(ctx context.Context, accessToken, siteID string) (webflow.Site, error)
}

type authAPI struct {
	flow  *authflow.Controller
	store *tokenstore.Store
	sites SiteAPI

	// popupOrigin is the only origin the popup page posts to.
	popupOrigin string

	// development enables the maintenance routes and error details.
	development bool
	now         func() time.Time
}

type tokenRequest struct {
	IDToken string `json:"idToken"`
	SiteID  string `json:"siteId"`
}

func (a *authAPI) authorize(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	designer := state == webflow.DesignerState || state == designerStateAlias

	http.Redirect(w, r, a.flow.Authorize(r.Context(), designer), http.StatusFound)
}

func (a *authAPI) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	result, err := a.flow.HandleCallback(ctx, q.Get("code"), q.Get("state"))
	if err != nil {
		var flowErr *authflow.FlowError
		if errors.As(err, &flowErr) {
			slogctx.Error(ctx, "Authorization callback failed", "phase", flowErr.Phase, "error", flowErr.Err)
		}

		a.writeError(w, err)
		return
	}

	if result.Popup {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := popupPage.Execute(w, struct{ TargetOrigin string }{a.popupOrigin}); err != nil {
			slogctx.Error(ctx, "Failed to render the popup page", "error", err)
		}
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (a *authAPI) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		a.writeError(w, serviceerr.BadRequest("Invalid request body"))
		return
	}

	grant, err := a.flow.ExchangeForSession(r.Context(), req.IDToken, req.SiteID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

func (a *authAPI) clear(w http.ResponseWriter, r *http.Request) {
	if !a.development {
		a.writeError(w, serviceerr.ErrForbidden)
		return
	}

	if err := a.store.Clear(r.Context()); err != nil {
		a.writeError(w, fmt.Errorf("clearing token store: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Database cleared successfully"})
}

func (a *authAPI) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *authAPI) listSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessToken, ok := auth.AccessTokenFromContext(ctx)
	if !ok {
		a.writeError(w, serviceerr.ErrUnauthorized)
		return
	}

	sites, err := a.sites.ListSites(ctx, accessToken)
	if err != nil {
		slogctx.Error(ctx, "Failed to list sites", "error", err)
		a.writeError(w, fmt.Errorf("%w: %w", serviceerr.ErrUpstream, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (a *authAPI) getSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessToken, ok := auth.AccessTokenFromContext(ctx)
	if !ok {
		a.writeError(w, serviceerr.ErrUnauthorized)
		return
	}

	site, err := a.sites.GetSite(ctx, accessToken, r.PathValue("siteId"))
	if err != nil {
		slogctx.Error(ctx, "Failed to get site", "error", err)
		a.writeError(w, fmt.Errorf("%w: %w", serviceerr.ErrUpstream, err))
		return
	}

	writeJSON(w, http.StatusOK, site)
}

func (a *authAPI) writeError(w http.ResponseWriter, err error) {
	serviceerr.WriteJSON(w, err, a.development)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
