// Package auth holds the session's bearer token and answers whether the
// session is signed in.
package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/packfinderz-cart/pkg/auth"
	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

// TokenProvider is the session's AuthProvider. An expired token counts as
// signed out.
type TokenProvider struct {
	cfg config.JWTConfig
	now func() time.Time

	mu        sync.RWMutex
	token     string
	subject   string
	expiresAt time.Time
}

func NewTokenProvider(cfg config.JWTConfig) *TokenProvider {
	return &TokenProvider{cfg: cfg, now: time.Now}
}

// SetToken validates and stores token.
func (p *TokenProvider) SetToken(token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	claims, err := auth.ParseBearer(p.cfg, token, p.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid bearer token")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.subject = claims.Subject
	p.expiresAt = time.Time{}
	if claims.ExpiresAt != nil {
		p.expiresAt = claims.ExpiresAt.Time
	}
	return nil
}

// ClearToken signs the session out.
func (p *TokenProvider) ClearToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.subject = ""
	p.expiresAt = time.Time{}
}

// Token returns the bearer token, or "" when signed out or expired.
func (p *TokenProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.validLocked() {
		return ""
	}
	return p.token
}

func (p *TokenProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validLocked()
}

// Subject returns the token subject when known.
func (p *TokenProvider) Subject() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.validLocked() {
		return ""
	}
	return p.subject
}

func (p *TokenProvider) validLocked() bool {
	if p.token == "" {
		return false
	}
	return p.expiresAt.IsZero() || p.now().Before(p.expiresAt)
}
