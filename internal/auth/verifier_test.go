package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "authconsent/pkg/domain-errors"
)

const (
	testKey      = "test-signing-key"
	testIssuer   = "https://idp.bank.example/realms/obg"
	testAudience = "obg-auth-consent"
)

type signOption func(claims jwt.MapClaims)

func signToken(t *testing.T, key string, opts ...signOption) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":          "tpp-1",
		"iss":          testIssuer,
		"aud":          testAudience,
		"exp":          time.Now().Add(time.Hour).Unix(),
		"tenant_id":    "tenant-1",
		"realm_access": map[string]any{"roles": []string{"tpp"}},
	}
	for _, opt := range opts {
		opt(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestResolveValidToken(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)

	token := signToken(t, testKey)
	identity, err := v.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "tpp-1", identity.ClientID)
	assert.Equal(t, "tenant-1", identity.TenantID)
	assert.Contains(t, identity.Roles, "tpp")

	// Second resolve of the same token hits the cache.
	again, err := v.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, identity.ClientID, again.ClientID)
}

func TestResolveCollectsClientRoles(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)
	token := signToken(t, testKey, func(claims jwt.MapClaims) {
		claims["realm_access"] = map[string]any{"roles": []string{"other"}}
		claims["resource_access"] = map[string]any{
			"auth-consent": map[string]any{"roles": []string{"consents:create"}},
		}
	})

	identity, err := v.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Contains(t, identity.Roles, "consents:create")
}

func TestResolveRejectsBadSignature(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)
	_, err := v.Resolve(context.Background(), signToken(t, "wrong-key"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)
	token := signToken(t, testKey, func(claims jwt.MapClaims) {
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
	})
	_, err := v.Resolve(context.Background(), token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestResolveRejectsWrongIssuerOrAudience(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)

	token := signToken(t, testKey, func(claims jwt.MapClaims) {
		claims["iss"] = "https://somewhere-else.example"
	})
	_, err := v.Resolve(context.Background(), token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	token = signToken(t, testKey, func(claims jwt.MapClaims) {
		claims["aud"] = "another-service"
	})
	_, err = v.Resolve(context.Background(), token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestResolveRequiresConsentRole(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)
	token := signToken(t, testKey, func(claims jwt.MapClaims) {
		claims["realm_access"] = map[string]any{"roles": []string{"viewer"}}
	})
	_, err := v.Resolve(context.Background(), token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestResolveRequiresSubject(t *testing.T) {
	v := NewVerifier(testKey, testIssuer, testAudience)
	token := signToken(t, testKey, func(claims jwt.MapClaims) {
		delete(claims, "sub")
	})
	_, err := v.Resolve(context.Background(), token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
