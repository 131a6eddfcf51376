package collector

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenRefreshMargin is how long before expiry a cached token is replaced
const tokenRefreshMargin = time.Minute

// TokenSource produces the bearer token sent to the collection backend.
// With a signing secret it mints HS256 service tokens; otherwise it returns
// the static token (which may be empty).
type TokenSource struct {
	secret      []byte
	issuer      string
	ttl         time.Duration
	staticToken string
	now         func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewTokenSource creates a token source. ttl <= 0 means 15 minutes.
func NewTokenSource(secret, issuer string, ttl time.Duration, staticToken string) *TokenSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenSource{
		secret:      []byte(secret),
		issuer:      issuer,
		ttl:         ttl,
		staticToken: staticToken,
		now:         time.Now,
	}
}

// Token returns a valid bearer token, minting a new one when needed
func (s *TokenSource) Token() (string, error) {
	if s == nil {
		return "", nil
	}
	if len(s.secret) == 0 {
		return s.staticToken, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(tokenRefreshMargin).Before(s.expires) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   "targetwatch",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	s.cached = signed
	s.expires = expires
	return signed, nil
}
