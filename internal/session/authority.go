// Package session mints and validates the time-bounded tokens that gate
// privileged actions.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
)

var (
	// ErrInvalidToken covers empty, unknown, and already-invalidated tokens.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrExpired means the token outlived the TTL; it has been evicted and
	// can never become valid again.
	ErrExpired = errors.New("session expired")

	// ErrInsufficientPrivilege means the session is valid but the role is
	// below the required tier.
	ErrInsufficientPrivilege = errors.New("insufficient privilege")

	// ErrInactive means the matched actor exists but is deactivated.
	ErrInactive = errors.New("actor is deactivated")
)

// Claims identify the actor behind a token.
type Claims struct {
	ActorID string      `json:"actor_id"`
	Role    models.Role `json:"role"`
}

type record struct {
	claims      Claims
	issuedAt    time.Time
	lastTouched time.Time
}

// Authority is the in-process token store. Every operation takes the single
// mutex, so a validate/extend pair can never lose an update to a concurrent
// invalidate. Sessions do not survive a restart; admins re-authenticate.
type Authority struct {
	mu       sync.Mutex
	sessions map[string]record
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthority(ttl time.Duration) *Authority {
	return &Authority{
		sessions: make(map[string]record),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Session is a freshly minted token.
type Session struct {
	Token     string
	Claims    Claims
	ExpiresIn time.Duration
}

// Mint issues a token for an authenticated actor. Tokens come from a
// cryptographically secure source, never a counter.
func (a *Authority) Mint(actorID string, role models.Role) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.sessions[token] = record{
		claims:      Claims{ActorID: actorID, Role: role},
		issuedAt:    now,
		lastTouched: now,
	}
	observability.ActiveSessions.Set(float64(len(a.sessions)))

	return Session{
		Token:     token,
		Claims:    Claims{ActorID: actorID, Role: role},
		ExpiresIn: a.ttl,
	}, nil
}

// Validate checks a token and returns its claims and remaining lifetime.
// Expired tokens are evicted on the spot.
func (a *Authority) Validate(token string) (Claims, time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validateLocked(token)
}

func (a *Authority) validateLocked(token string) (Claims, time.Duration, error) {
	if token == "" {
		return Claims{}, 0, ErrInvalidToken
	}

	rec, ok := a.sessions[token]
	if !ok {
		return Claims{}, 0, ErrInvalidToken
	}

	elapsed := a.now().Sub(rec.lastTouched)
	if elapsed > a.ttl {
		delete(a.sessions, token)
		observability.ActiveSessions.Set(float64(len(a.sessions)))
		return Claims{}, 0, ErrExpired
	}

	return rec.claims, a.ttl - elapsed, nil
}

// Extend resets the inactivity window of a currently valid token. An expired
// token cannot be revived.
func (a *Authority) Extend(token string) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, _, err := a.validateLocked(token); err != nil {
		return 0, err
	}

	rec := a.sessions[token]
	rec.lastTouched = a.now()
	a.sessions[token] = rec
	return a.ttl, nil
}

// Invalidate removes a token. Unknown tokens are a no-op, never an error.
func (a *Authority) Invalidate(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.sessions, token)
	observability.ActiveSessions.Set(float64(len(a.sessions)))
}

// RequireRole validates the token and additionally demands the given role.
func (a *Authority) RequireRole(token string, role models.Role) (Claims, error) {
	claims, _, err := a.Validate(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Role != role {
		return claims, ErrInsufficientPrivilege
	}
	return claims, nil
}

// newToken returns 32 random bytes, url-safe encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
