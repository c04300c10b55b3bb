// Package auth provides the request authentication middlewares that resolve
// a caller back to the platform access token stored for it.
//
// RequireSession is the full variant: it verifies a session token and loads
// the access token of the user it names. RequireAccessToken performs the same
// checks but only exposes the access token to the handler. Both answer every
// failure with the same 401 body.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/sessiontoken"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

const (
	userKey        contextKey = "user"
	accessTokenKey contextKey = "access-token"
)

var ErrMissingBearer = errors.New("missing bearer token")

type Verifier interface {
	Verify(token string) (sessiontoken.User, error)
}

// RequireSession authenticates requests carrying "Authorization: Bearer
// <session token>" and attaches the user and the user's access token to the
// request context.
func RequireSession(verifier Verifier, store *tokenstore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			user, accessToken, err := authenticate(r, verifier, store)
			if err != nil {
				unauthorized(ctx, w, err)
				return
			}

			ctx = context.WithValue(ctx, userKey, user)
			ctx = context.WithValue(ctx, accessTokenKey, accessToken)
			ctx = slogctx.With(ctx, "user_id", user.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccessToken authenticates the session like RequireSession but only
// attaches the access token. Handlers behind it see no user identity.
func RequireAccessToken(verifier Verifier, store *tokenstore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			_, accessToken, err := authenticate(r, verifier, store)
			if err != nil {
				unauthorized(ctx, w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, accessTokenKey, accessToken)))
		})
	}
}

// authenticate verifies the bearer session token and loads the access token
// stored for the user it names.
func authenticate(r *http.Request, verifier Verifier, store *tokenstore.Store) (sessiontoken.User, string, error) {
	token, err := BearerToken(r)
	if err != nil {
		return sessiontoken.User{}, "", err
	}

	user, err := verifier.Verify(token)
	if err != nil {
		return sessiontoken.User{}, "", err
	}

	accessToken, err := store.UserAccessToken(r.Context(), user.ID)
	if err != nil {
		return sessiontoken.User{}, "", err
	}

	return user, accessToken, nil
}

// BearerToken extracts the token of an Authorization header using the
// Bearer scheme.
func BearerToken(r *http.Request) (string, error) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingBearer
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingBearer
	}

	return token, nil
}

func UserFromContext(ctx context.Context) (sessiontoken.User, bool) {
	user, ok := ctx.Value(userKey).(sessiontoken.User)
	return user, ok
}

func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey).(string)
	return token, ok && token != ""
}

func unauthorized(ctx context.Context, w http.ResponseWriter, cause error) {
	slogctx.Debug(ctx, "Rejecting unauthenticated request", "error", cause)
	serviceerr.WriteJSON(w, serviceerr.ErrUnauthorized, false)
}
