package tokenstorevalkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-bridge/internal/serviceerr"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
)

const scanCount = 100

// Repository stores each authorization under <prefix>:<kind>:<id>.
type Repository struct {
	valkey valkey.Client
	prefix string
}

var _ = tokenstore.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

func (r *Repository) Put(ctx context.Context, kind tokenstore.Kind, id, accessToken string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown authorization kind %q", kind)
	}

	key := r.key(kind, id)
	if err := r.valkey.Do(ctx, r.valkey.B().Set().Key(key).Value(accessToken).Build()).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, kind tokenstore.Kind, id string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown authorization kind %q", kind)
	}

	token, err := r.valkey.Do(ctx, r.valkey.B().Get().Key(r.key(kind, id)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", serviceerr.ErrNotFound
		}

		return "", fmt.Errorf("executing get command: %w", err)
	}

	return token, nil
}

func (r *Repository) ClearAll(ctx context.Context) error {
	for _, kind := range []tokenstore.Kind{tokenstore.KindSite, tokenstore.KindUser} {
		if err := r.deleteMatching(ctx, r.key(kind, "*")); err != nil {
			return fmt.Errorf("clearing %s authorizations: %w", kind, err)
		}
	}

	return nil
}

func (r *Repository) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		scan, err := r.valkey.Do(ctx, r.valkey.B().Scan().Cursor(cursor).Match(pattern).Count(scanCount).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("executing scan command: %w", err)
		}

		if len(scan.Elements) > 0 {
			if err := r.valkey.Do(ctx, r.valkey.B().Del().Key(scan.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("executing del command: %w", err)
			}
		}

		cursor = scan.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (r *Repository) key(kind tokenstore.Kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, id)
}
