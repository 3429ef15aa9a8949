package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authconsent/internal/consent/models"
)

func newTestConsent(status models.Status, expiresAt time.Time) *models.Consent {
	return &models.Consent{
		ID:          uuid.New(),
		TPPClientID: "tpp-1",
		Type:        models.TypeAIS,
		Permissions: []models.Permission{models.PermissionAccountsRead},
		Status:      status,
		Recurring:   true,
		ExpiresAt:   expiresAt,
		RedirectURLs: models.RedirectURLs{
			SuccessURL: "https://tpp.example/ok",
			FailureURL: "https://tpp.example/fail",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestInMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	consent := newTestConsent(models.StatusPendingSCA, time.Now().Add(time.Hour))

	require.NoError(t, s.Create(ctx, consent))
	assert.Equal(t, 1, consent.Version)

	got, err := s.GetByID(ctx, consent.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, consent.ID, got.ID)
	assert.Equal(t, models.StatusPendingSCA, got.Status)

	missing, err := s.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInMemoryStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	consent := newTestConsent(models.StatusPendingSCA, time.Now().Add(time.Hour))
	require.NoError(t, s.Create(ctx, consent))

	// Guard passes.
	updated, applied, err := s.UpdateStatusIfAllowed(ctx, consent.ID, []models.Status{models.StatusPendingSCA}, models.StatusGranted)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, applied)
	assert.Equal(t, models.StatusGranted, updated.Status)
	assert.Equal(t, 2, updated.Version)

	// Guard fails: row returned unchanged so the caller sees the actual state.
	unchanged, applied, err := s.UpdateStatusIfAllowed(ctx, consent.ID, []models.Status{models.StatusPendingSCA}, models.StatusRejected)
	require.NoError(t, err)
	require.NotNil(t, unchanged)
	assert.False(t, applied)
	assert.Equal(t, models.StatusGranted, unchanged.Status)
	assert.Equal(t, 2, unchanged.Version)

	// Unknown id.
	none, applied, err := s.UpdateStatusIfAllowed(ctx, uuid.New(), []models.Status{models.StatusPendingSCA}, models.StatusGranted)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Nil(t, none)
}

func TestInMemoryStoreSCAAssignmentIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	consent := newTestConsent(models.StatusPendingSCA, time.Now().Add(time.Hour))
	require.NoError(t, s.Create(ctx, consent))

	first, err := s.SetSCAReferenceIfPending(ctx, consent.ID, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", first.SCAReference)

	// Loser of the race reads back the winner's value.
	second, err := s.SetSCAReferenceIfPending(ctx, consent.ID, "ref-2")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", second.SCAReference)
}

func TestInMemoryStoreSCAAssignmentRequiresPending(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	consent := newTestConsent(models.StatusGranted, time.Now().Add(time.Hour))
	require.NoError(t, s.Create(ctx, consent))

	got, err := s.SetSCAReferenceIfPending(ctx, consent.ID, "ref-1")
	require.NoError(t, err)
	assert.Empty(t, got.SCAReference)
	assert.Equal(t, models.StatusGranted, got.Status)
}

func TestInMemoryStoreExpireDue(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()

	duePending := newTestConsent(models.StatusPendingSCA, now.Add(-time.Minute))
	dueGranted := newTestConsent(models.StatusGranted, now.Add(-time.Minute))
	dueRejected := newTestConsent(models.StatusRejected, now.Add(-time.Minute))
	dueRevoked := newTestConsent(models.StatusRevoked, now.Add(-time.Minute))
	future := newTestConsent(models.StatusPendingSCA, now.Add(time.Hour))
	for _, c := range []*models.Consent{duePending, dueGranted, dueRejected, dueRevoked, future} {
		require.NoError(t, s.Create(ctx, c))
	}

	affected, err := s.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	for id, want := range map[uuid.UUID]models.Status{
		duePending.ID:  models.StatusExpired,
		dueGranted.ID:  models.StatusExpired,
		dueRejected.ID: models.StatusRejected,
		dueRevoked.ID:  models.StatusRevoked,
		future.ID:      models.StatusPendingSCA,
	} {
		got, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	// A second sweep finds nothing: the bulk update is idempotent.
	affected, err = s.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestInMemoryStoreConcurrentTransitionsSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	consent := newTestConsent(models.StatusPendingSCA, time.Now().Add(time.Hour))
	require.NoError(t, s.Create(ctx, consent))

	const writers = 24
	var (
		wg      sync.WaitGroup
		applies int64
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			after, applied, err := s.UpdateStatusIfAllowed(ctx, consent.ID, []models.Status{models.StatusPendingSCA}, models.StatusRevoked)
			assert.NoError(t, err)
			assert.Equal(t, models.StatusRevoked, after.Status, "losers observe the post-transition state")
			if applied {
				atomic.AddInt64(&applies, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, applies, "exactly one writer performs the transition")

	got, err := s.GetByID(ctx, consent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, got.Status)
	assert.Equal(t, 2, got.Version, "exactly one transition may commit")
}
