package dwp

import (
	"context"
	"crypto/subtle"
	"errors"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the authenticated user or service.
	Subject string `json:"subject"`

	// Scopes defines what operations are permitted.
	// Examples: "job:read", "subscribe", "*"
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope returns true if the identity has the given scope.
// A wildcard "*" scope grants all permissions.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// Authenticator validates credentials and returns an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = errors.New("dwp: unauthorized")

// ── API Key authenticator ───────────────────────────

// APIKeyEntry maps a token to an identity.
type APIKeyEntry struct {
	Token    string
	Identity Identity
}

// APIKeyAuthenticator validates bearer tokens against a static list.
type APIKeyAuthenticator struct {
	entries []APIKeyEntry
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{entries: entries}
}

// NewTokenAuthenticator accepts exactly one token and grants it every scope.
func NewTokenAuthenticator(token string) *APIKeyAuthenticator {
	return NewAPIKeyAuthenticator(APIKeyEntry{
		Token:    token,
		Identity: Identity{Subject: "token", Scopes: []string{ScopeAll}},
	})
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	for i := range a.entries {
		e := &a.entries[i]
		if subtle.ConstantTimeCompare([]byte(e.Token), []byte(token)) == 1 {
			id := e.Identity
			return &id, nil
		}
	}
	return nil, ErrUnauthorized
}

// ── No-op authenticator ─────────────────────────────

// NoopAuthenticator accepts all tokens with a wildcard identity.
// Use when the admin listener is not reachable from outside.
type NoopAuthenticator struct{}

func (a *NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: "anonymous", Scopes: []string{ScopeAll}}, nil
}

// ── Scopes ──────────────────────────────────────────

const (
	ScopeJobRead   = "job:read"
	ScopeStatsRead = "stats:read"
	ScopeSubscribe = "subscribe"
	ScopeAll       = "*"
)

// RequiredScope returns the scope required for a DWP method.
func RequiredScope(method string) string {
	switch method {
	case MethodAuth:
		return ""
	case MethodJobGet, MethodJobList:
		return ScopeJobRead
	case MethodSubscribe, MethodUnsubscribe:
		return ScopeSubscribe
	case MethodStats:
		return ScopeStatsRead
	default:
		return ScopeAll
	}
}
