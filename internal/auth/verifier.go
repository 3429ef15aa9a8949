// Package auth resolves inbound bearer credentials to a caller identity.
//
// The consent service consumes this as an opaque capability: it never inspects
// tokens itself, only the ClientIdentity the verifier yields.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	dErrors "authconsent/pkg/domain-errors"
)

// Roles that may call the consent API. Either one is sufficient.
const (
	RoleTPP            = "tpp"
	RoleConsentsCreate = "consents:create"
)

// ClientIdentity is the resolved caller of a consent operation.
type ClientIdentity struct {
	ClientID string
	TenantID string // empty for single-tenant deployments
	Roles    []string
}

// HasTenant reports whether the caller is tenant-scoped.
func (c ClientIdentity) HasTenant() bool { return c.TenantID != "" }

func (c ClientIdentity) hasAnyRole(required ...string) bool {
	for _, have := range c.Roles {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Verifier validates HS256 bearer tokens and extracts the caller identity.
// Validated claims are cached briefly; the cache is advisory only and never a
// source of correctness.
type Verifier struct {
	signingKey []byte
	issuer     string
	audience   string
	cache      *gocache.Cache
}

const claimsCacheTTL = 30 * time.Second

// NewVerifier constructs a Verifier for the given signing key, issuer, and
// audience.
func NewVerifier(signingKey, issuer, audience string) *Verifier {
	return &Verifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		cache:      gocache.New(claimsCacheTTL, time.Minute),
	}
}

type tokenClaims struct {
	TenantID    string `json:"tenant_id,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
	jwt.RegisteredClaims
}

// Resolve verifies the bearer token and returns the caller identity.
// Fails with CodeUnauthorized on any verification failure and CodeForbidden
// when the token lacks a consent role.
func (v *Verifier) Resolve(_ context.Context, tokenString string) (ClientIdentity, error) {
	if cached, ok := v.cache.Get(tokenString); ok {
		return cached.(ClientIdentity), nil
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.signingKey, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ClientIdentity{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid or expired token")
	}
	if claims.Subject == "" {
		return ClientIdentity{}, dErrors.New(dErrors.CodeUnauthorized, "token missing subject")
	}

	identity := ClientIdentity{
		ClientID: claims.Subject,
		TenantID: claims.TenantID,
		Roles:    collectRoles(claims),
	}
	if !identity.hasAnyRole(RoleTPP, RoleConsentsCreate) {
		return ClientIdentity{}, dErrors.New(dErrors.CodeForbidden, "insufficient permissions")
	}

	v.cache.SetDefault(tokenString, identity)
	return identity, nil
}

// collectRoles merges realm roles with client roles from every resource entry,
// mirroring how Keycloak-style tokens spread them.
func collectRoles(claims *tokenClaims) []string {
	seen := map[string]struct{}{}
	var roles []string
	add := func(rs []string) {
		for _, r := range rs {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			roles = append(roles, r)
		}
	}
	add(claims.RealmAccess.Roles)
	for _, ra := range claims.ResourceAccess {
		add(ra.Roles)
	}
	return roles
}
