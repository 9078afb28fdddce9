package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields a bearer token for outbound calls. Implementations
// return ("", nil) when no identity is available; the caller then proceeds
// unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticSource always returns the same token.
type StaticSource string

func (s StaticSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// FileSource reads a token from a file on each refresh. A missing file
// means no identity, not an error.
type FileSource string

func (f FileSource) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// expiryLeeway refreshes tokens slightly before their exp claim passes so
// a request never leaves with a token that expires in flight.
const expiryLeeway = 30 * time.Second

// CachedSource wraps another source and reuses its token until the token's
// exp claim (if any) approaches. The token is only carried, never trusted:
// claims are read unverified because the server is the final arbiter.
type CachedSource struct {
	src TokenSource

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewCached(src TokenSource) *CachedSource {
	return &CachedSource{src: src, now: time.Now}
}

func (c *CachedSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || c.now().Add(expiryLeeway).Before(c.expires)) {
		return c.token, nil
	}

	token, err := c.src.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expires = tokenExpiry(token)
	return token, nil
}

// tokenExpiry extracts the exp claim from a JWT, or zero time when the
// token is not a JWT or carries no expiry.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
