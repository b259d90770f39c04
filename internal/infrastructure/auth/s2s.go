// Package auth issues and checks service-to-service tokens. Tokens are
// HS256-signed JWTs whose subject is the calling microservice name.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrUnauthorizedService is returned for a valid token issued to a service
// outside the allow list.
var ErrUnauthorizedService = errors.New("service not authorized")

// Config holds the shared secret and identity used for S2S tokens
type Config struct {
	Microservice string
	Secret       string
	TTL          time.Duration

	// AllowedServices restricts Verify; empty allows any subject
	AllowedServices []string
}

// TokenGenerator signs tokens for outbound calls, reusing a token until it
// is close to expiry.
type TokenGenerator struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenGenerator creates a generator for cfg.Microservice
func NewTokenGenerator(cfg Config) *TokenGenerator {
	if cfg.TTL <= 0 {
		cfg.TTL = 4 * time.Hour
	}
	return &TokenGenerator{cfg: cfg, now: time.Now}
}

// Generate returns a bearer-ready token, minting a new one when the cached
// token has less than a tenth of its lifetime left.
func (g *TokenGenerator) Generate(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.token != "" && now.Add(g.cfg.TTL/10).Before(g.expires) {
		return g.token, nil
	}

	expires := now.Add(g.cfg.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   g.cfg.Microservice,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(g.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}

	g.token, g.expires = signed, expires
	return signed, nil
}

// TokenVerifier validates inbound service tokens
type TokenVerifier struct {
	secret  []byte
	allowed map[string]bool
	parser  *jwt.Parser
}

// NewTokenVerifier creates a verifier sharing cfg.Secret
func NewTokenVerifier(cfg Config) *TokenVerifier {
	allowed := make(map[string]bool, len(cfg.AllowedServices))
	for _, s := range cfg.AllowedServices {
		allowed[s] = true
	}
	return &TokenVerifier{
		secret:  []byte(cfg.Secret),
		allowed: allowed,
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify checks the signature and expiry and returns the calling service
func (v *TokenVerifier) Verify(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse service token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("service token has no subject")
	}
	if len(v.allowed) > 0 && !v.allowed[claims.Subject] {
		return "", fmt.Errorf("%w: %s", ErrUnauthorizedService, claims.Subject)
	}
	return claims.Subject, nil
}
