package tokenstoremock

import (
	"context"
	"sync"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory tokenstore.Repository for tests.
type Repository struct {
	mu     sync.Mutex
	tokens map[tokenstore.Kind]map[string]string

	putErr, getErr, clearErr error
	putErrFor                map[string]error
}

func WithSite(siteID, accessToken string) RepositoryOption {
	return func(r *Repository) { r.tokens[tokenstore.KindSite][siteID] = accessToken }
}
func WithUser(userID, accessToken string) RepositoryOption {
	return func(r *Repository) { r.tokens[tokenstore.KindUser][userID] = accessToken }
}
func WithPutError(err error) RepositoryOption {
	return func(r *Repository) { r.putErr = err }
}

// WithPutErrorFor fails Put only for the given id.
func WithPutErrorFor(id string, err error) RepositoryOption {
	return func(r *Repository) { r.putErrFor[id] = err }
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithClearError(err error) RepositoryOption {
	return func(r *Repository) { r.clearErr = err }
}

var _ = tokenstore.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		tokens: map[tokenstore.Kind]map[string]string{
			tokenstore.KindSite: {},
			tokenstore.KindUser: {},
		},
		putErrFor: make(map[string]error),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) Put(_ context.Context, kind tokenstore.Kind, id, accessToken string) error {
	if r.putErr != nil {
		return r.putErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.putErrFor[id]; ok {
		return err
	}

	r.tokens[kind][id] = accessToken
	return nil
}

func (r *Repository) Get(_ context.Context, kind tokenstore.Kind, id string) (string, error) {
	if r.getErr != nil {
		return "", r.getErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if token, ok := r.tokens[kind][id]; ok {
		return token, nil
	}
	return "", serviceerr.ErrNotFound
}

func (r *Repository) ClearAll(_ context.Context) error {
	if r.clearErr != nil {
		return r.clearErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for kind := range r.tokens {
		r.tokens[kind] = map[string]string{}
	}
	return nil
}

// Len returns the number of stored rows of the given kind.
func (r *Repository) Len(kind tokenstore.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tokens[kind])
}

// TGet returns a stored token without error injection.
func (r *Repository) TGet(kind tokenstore.Kind, id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[kind][id]
	return token, ok
}
