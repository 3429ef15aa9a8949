package httptransport

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"authconsent/internal/auth"
	"authconsent/internal/consent/handler"
	"authconsent/internal/consent/idempotency"
	"authconsent/internal/consent/service"
	"authconsent/internal/consent/store"
	"authconsent/internal/platform/metrics"
	"authconsent/pkg/testutil"
)

type denyAllResolver struct{}

func (denyAllResolver) Resolve(context.Context, string) (auth.ClientIdentity, error) {
	return auth.ClientIdentity{}, errors.New("no tokens in this test")
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	m := metrics.NewForTest()
	svc, err := service.New(service.Config{
		Store:   store.NewInMemory(),
		Ledger:  idempotency.NewInMemoryLedger(),
		Metrics: m,
		Logger:  testutil.DiscardLogger(),
		BaseURL: "http://localhost:8080",
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(Config{
		Logger:       testutil.DiscardLogger(),
		Metrics:      m,
		Consent:      handler.New(svc, denyAllResolver{}, testutil.DiscardLogger()),
		HealthChecks: checks,
	})
}

func TestHealthOK(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	})

	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthDegraded(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	})

	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatus(t, rec, http.StatusServiceUnavailable)
	assert.Contains(t, rec.Body.String(), `"postgres":"unhealthy"`)
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatus(t, rec, http.StatusOK)
}

func TestUnauthenticatedConsentRouteRejected(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/consents"))
	testutil.AssertStatus(t, rec, http.StatusUnauthorized)
}
