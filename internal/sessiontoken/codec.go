// Package sessiontoken issues and verifies the stateless session tokens handed
// to the browser after a successful identity exchange.
//
// A session token is an HS256 signed JWT carrying the platform user and a 24
// hour expiry. Every verification failure is reported as ErrInvalidToken so
// callers cannot tell a forged token from an expired one.
package sessiontoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	DefaultDuration = 24 * time.Hour

	// MinSecretLength is the HS256 key size.
	MinSecretLength = 32
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrWeakSecret   = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
)

// User is the identity embedded in the token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Issued is a freshly signed token and its expiry.
type Issued struct {
	Token  string
	Expiry time.Time
}

type userClaims struct {
	User *User `json:"user"`
}

type Codec struct {
	secret   []byte
	signer   jose.Signer
	duration time.Duration
	now      func() time.Time
}

type Option func(*Codec)

// WithDuration overrides the token lifetime.
func WithDuration(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.duration = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	c := &Codec{
		secret:   secret,
		signer:   signer,
		duration: DefaultDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Issue signs a token for user, valid from now for the configured duration.
func (c *Codec) Issue(user User) (Issued, error) {
	if user.ID == "" || user.Email == "" {
		return Issued{}, errors.New("user id and email are required")
	}

	now := c.now()
	expiry := now.Add(c.duration)

	standard := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(expiry),
	}

	token, err := jwt.Signed(c.signer).Claims(standard).Claims(userClaims{User: &user}).Serialize()
	if err != nil {
		return Issued{}, fmt.Errorf("signing session token: %w", err)
	}

	return Issued{
		Token:  token,
		Expiry: standard.Expiry.Time(),
	}, nil
}

// Verify checks the signature and expiry of token and returns the embedded
// user. The token is expired once now is not strictly before exp.
func (c *Codec) Verify(token string) (User, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return User{}, ErrInvalidToken
	}

	var standard jwt.Claims
	var custom userClaims
	if err := parsed.Claims(c.secret, &standard, &custom); err != nil {
		return User{}, ErrInvalidToken
	}

	if standard.Expiry == nil || !c.now().Before(standard.Expiry.Time()) {
		return User{}, ErrInvalidToken
	}

	if custom.User == nil || custom.User.ID == "" || custom.User.Email == "" {
		return User{}, ErrInvalidToken
	}

	return *custom.User, nil
}
