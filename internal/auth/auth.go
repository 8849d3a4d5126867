// Package auth authenticates API callers and decides who may maintain a site.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// Well-known scopes.
const (
	ScopeAll        = "*"
	ScopeArchivesRO = "archives:ro"
	ScopeArchivesRW = "archives:rw"
	legacyAdminUser = "admin"
)

// TokenConfig is a bearer token bound to a user and a set of scopes.
type TokenConfig struct {
	Token  string
	User   string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	User   string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// If legacyAPIKey matches, it authenticates as the admin user with scope "*".
func Authenticate(presented string, legacyAPIKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, legacyAPIKey) {
		return Principal{
			Token:  presented,
			User:   legacyAdminUser,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				User:   t.User,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	if _, ok := out[ScopeArchivesRW]; ok {
		out[ScopeArchivesRO] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

// SiteRoles grants maintain capability to admins on every site and to each
// site's listed maintainers.
type SiteRoles struct {
	admins      []string
	maintainers map[string][]string
}

// NewSiteRoles builds a SiteRoles from admin users and per-site maintainers.
func NewSiteRoles(admins []string, maintainers map[string][]string) *SiteRoles {
	m := make(map[string][]string, len(maintainers))
	for site, users := range maintainers {
		m[site] = slices.Clone(users)
	}
	return &SiteRoles{admins: slices.Clone(admins), maintainers: m}
}

// CanMaintain reports whether userID may manage archives of siteID.
func (r *SiteRoles) CanMaintain(_ context.Context, userID, siteID string) bool {
	if userID == "" {
		return false
	}
	if userID == legacyAdminUser || slices.Contains(r.admins, userID) {
		return true
	}
	return slices.Contains(r.maintainers[siteID], userID)
}
