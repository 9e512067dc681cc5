// Package auth resolves bearer session tokens to the owner placing an order.
// Tokens are issued elsewhere; only their peppered hash is stored.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrUnauthorized is returned for unknown, expired or revoked tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionNotFound is returned by repositories when no session matches.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is a stored login session.
type Session struct {
	TokenHash string
	UserID    uuid.UUID
	ExpiresAt time.Time
	Revoked   bool
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
}

// Repository provides lookup of sessions by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Session, error)
}

// HashToken returns the hex HMAC-SHA256 of token under pepper.
func HashToken(pepper []byte, token string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	sessions Repository
	pepper   []byte
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(sessions Repository, pepper []byte) *Authenticator {
	return &Authenticator{sessions: sessions, pepper: pepper, now: time.Now}
}

// Authenticate resolves token to its principal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	hash := HashToken(a.pepper, token)

	s, err := a.sessions.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find session")
	}

	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	got, err := hex.DecodeString(s.TokenHash)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, ErrUnauthorized
	}

	if s.Revoked || !a.now().Before(s.ExpiresAt) {
		return nil, ErrUnauthorized
	}

	return &Principal{UserID: s.UserID}, nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
