package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authconsent/internal/consent/models"
)

func baseRequest() models.CreateRequest {
	return models.CreateRequest{
		Type:        models.TypeAIS,
		Permissions: []models.Permission{models.PermissionAccountsRead},
		Recurring:   true,
		RedirectURLs: models.RedirectURLs{
			SuccessURL: "https://tpp.example/ok",
			FailureURL: "https://tpp.example/fail",
		},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a, err := Fingerprint(baseRequest())
	require.NoError(t, err)
	b, err := Fingerprint(baseRequest())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintSensitiveToSemanticChanges(t *testing.T) {
	base, err := Fingerprint(baseRequest())
	require.NoError(t, err)

	changed := baseRequest()
	changed.Permissions = append(changed.Permissions, models.PermissionBalancesRead)
	other, err := Fingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	changed = baseRequest()
	changed.Recurring = false
	other, err = Fingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	changed = baseRequest()
	changed.RedirectURLs.SuccessURL = "https://tpp.example/other"
	other, err = Fingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestFingerprintNormalizesTimezones(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	instant := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	reqUTC := baseRequest()
	expUTC := instant
	reqUTC.ExpirationAt = &expUTC

	reqZoned := baseRequest()
	expZoned := instant.In(loc)
	reqZoned.ExpirationAt = &expZoned

	a, err := Fingerprint(reqUTC)
	require.NoError(t, err)
	b, err := Fingerprint(reqZoned)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same instant in different zones must hash identically")
}

func TestFingerprintIgnoresMetadataOrder(t *testing.T) {
	reqA := baseRequest()
	reqA.Metadata = map[string]string{"a": "1", "b": "2", "c": "3"}
	reqB := baseRequest()
	reqB.Metadata = map[string]string{"c": "3", "b": "2", "a": "1"}

	a, err := Fingerprint(reqA)
	require.NoError(t, err)
	b, err := Fingerprint(reqB)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
