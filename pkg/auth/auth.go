// Package auth resolves bearer tokens to caller identities and checks
// role requirements.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized indicates a missing or unknown token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks a required role.
	ErrForbidden = errors.New("forbidden")
)

// Role is a caller capability.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDevOps Role = "devops"
	RoleUser   Role = "user"
)

// Operators is the role set allowed to reconfigure and introspect the cache.
var Operators = []Role{RoleAdmin, RoleDevOps}

// Identity is an authenticated caller.
type Identity struct {
	Subject string `json:"subject"`
	Roles   []Role `json:"roles"`
}

// HasAny reports whether the identity holds at least one of roles.
// An empty requirement is satisfied by every identity.
func (id Identity) HasAny(roles []Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, want := range roles {
		for _, have := range id.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Require returns ErrForbidden unless the identity holds one of roles.
func (id Identity) Require(roles []Role) error {
	if id.HasAny(roles) {
		return nil
	}
	return fmt.Errorf("%w: %s needs one of %v", ErrForbidden, id.Subject, roles)
}

// Resolver maps a bearer token to an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// Token binds a static token to an identity.
type Token struct {
	Token   string   `mapstructure:"token"`
	Subject string   `mapstructure:"subject"`
	Roles   []string `mapstructure:"roles"`
}

// StaticTokens resolves tokens from a fixed table.
type StaticTokens struct {
	tokens []Token
}

// NewStaticTokens validates and returns a static token table.
func NewStaticTokens(tokens []Token) (*StaticTokens, error) {
	seen := make(map[string]bool, len(tokens))
	for i, t := range tokens {
		if t.Token == "" {
			return nil, fmt.Errorf("token %d: empty token", i)
		}
		if t.Subject == "" {
			return nil, fmt.Errorf("token %d: empty subject", i)
		}
		if seen[t.Token] {
			return nil, fmt.Errorf("token %d: duplicate token for %s", i, t.Subject)
		}
		seen[t.Token] = true
		for _, r := range t.Roles {
			if !Role(r).Valid() {
				return nil, fmt.Errorf("token %d: unknown role %q", i, r)
			}
		}
	}
	return &StaticTokens{tokens: append([]Token(nil), tokens...)}, nil
}

// Resolve implements Resolver.
func (s *StaticTokens) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			roles := make([]Role, len(t.Roles))
			for i, r := range t.Roles {
				roles[i] = Role(r)
			}
			return Identity{Subject: t.Subject, Roles: roles}, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: unknown token", ErrUnauthorized)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDevOps, RoleUser:
		return true
	default:
		return false
	}
}

// BearerToken extracts the token from an Authorization header value.
// Returns "" when the header is not a bearer credential.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
