package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-bridge/internal/middleware/auth"
	"github.com/openkcm/auth-bridge/internal/sessiontoken"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
	tokenstoremock "github.com/openkcm/auth-bridge/internal/tokenstore/mock"
)

const unauthorizedBody = `{"error":"unauthorized","error_description":"Unauthorized"}`

var user = sessiontoken.User{ID: "user-1", Email: "jane@example.com"}

func newCodec(t *testing.T, now time.Time) *sessiontoken.Codec {
	t.Helper()

	c, err := sessiontoken.NewCodec([]byte("0123456789abcdef0123456789abcdef"),
		sessiontoken.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	return c
}

func echoHandler(t *testing.T, called *bool) http.Handler {
	t.Helper()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true

		token, ok := auth.AccessTokenFromContext(r.Context())
		assert.True(t, ok)
		_, _ = w.Write([]byte(token))
	})
}

func TestRequireSession(t *testing.T) {
	issuedAt := time.Now()
	codec := newCodec(t, issuedAt)

	issued, err := codec.Issue(user)
	require.NoError(t, err)

	otherUser, err := codec.Issue(sessiontoken.User{ID: "user-2", Email: "john@example.com"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		verifier   auth.Verifier
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Valid session",
			header:     "Bearer " + issued.Token,
			verifier:   codec,
			wantStatus: http.StatusOK,
			wantBody:   "token-1",
		},
		{
			name:       "Lowercase scheme",
			header:     "bearer " + issued.Token,
			verifier:   codec,
			wantStatus: http.StatusOK,
			wantBody:   "token-1",
		},
		{
			name:       "Missing header",
			verifier:   codec,
			wantStatus: http.StatusUnauthorized,
			wantBody:   unauthorizedBody,
		},
		{
			name:       "Wrong scheme",
			header:     "Basic " + issued.Token,
			verifier:   codec,
			wantStatus: http.StatusUnauthorized,
			wantBody:   unauthorizedBody,
		},
		{
			name:       "Empty token",
			header:     "Bearer ",
			verifier:   codec,
			wantStatus: http.StatusUnauthorized,
			wantBody:   unauthorizedBody,
		},
		{
			name:       "Forged token",
			header:     "Bearer " + issued.Token + "x",
			verifier:   codec,
			wantStatus: http.StatusUnauthorized,
			wantBody:   unauthorizedBody,
		},
		{
			name:       "Expired token",
			header:     "Bearer " + issued.Token,
			verifier:   newCodec(t, issuedAt.Add(25*time.Hour)),
			wantStatus: http.StatusUnauthorized,
			wantBody:   unauthorizedBody,
		},
		{
			name:       "Valid token without user authorization",
			header:     "Bearer " + otherUser.Token,
			verifier:   codec,
			wantStatus: http.StatusUnauthorized,
			wantBody:   unauthorizedBody,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := tokenstoremock.NewInMemRepository(tokenstoremock.WithUser("user-1", "token-1"))

			var called bool
			handler := auth.RequireSession(tt.verifier, tokenstore.New(repo))(echoHandler(t, &called))

			req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequireSession_AttachesUser(t *testing.T) {
	codec := newCodec(t, time.Now())
	issued, err := codec.Issue(user)
	require.NoError(t, err)

	repo := tokenstoremock.NewInMemRepository(tokenstoremock.WithUser("user-1", "token-1"))

	handler := auth.RequireSession(codec, tokenstore.New(repo))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := auth.UserFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, user, got)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAccessToken(t *testing.T) {
	codec := newCodec(t, time.Now())

	issued, err := codec.Issue(user)
	require.NoError(t, err)

	unknownUser, err := codec.Issue(sessiontoken.User{ID: "user-2", Email: "john@example.com"})
	require.NoError(t, err)

	repo := tokenstoremock.NewInMemRepository(
		tokenstoremock.WithUser("user-1", "token-1"),
		tokenstoremock.WithSite("site-1", "site-token"),
	)

	var called bool
	mux := http.NewServeMux()
	mux.Handle("GET /sites/{siteId}", auth.RequireAccessToken(codec, tokenstore.New(repo))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true

			_, hasUser := auth.UserFromContext(r.Context())
			assert.False(t, hasUser, "no user identity is attached")

			token, ok := auth.AccessTokenFromContext(r.Context())
			assert.True(t, ok)
			_, _ = w.Write([]byte(token))
		}),
	))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "Valid session", header: "Bearer " + issued.Token, wantStatus: http.StatusOK},
		{name: "Missing header with a known site", wantStatus: http.StatusUnauthorized},
		{name: "Forged token", header: "Bearer " + issued.Token + "x", wantStatus: http.StatusUnauthorized},
		{name: "Valid token without user authorization", header: "Bearer " + unknownUser.Token, wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false

			req := httptest.NewRequest(http.MethodGet, "/sites/site-1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
			if tt.wantStatus != http.StatusOK {
				assert.JSONEq(t, unauthorizedBody, rec.Body.String())
			} else {
				assert.Equal(t, "token-1", rec.Body.String(), "the user's token, not the site's")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer  abc ")

	got, err := auth.BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	req.Header.Set("Authorization", "Bearer")
	_, err = auth.BearerToken(req)
	assert.ErrorIs(t, err, auth.ErrMissingBearer)
}
