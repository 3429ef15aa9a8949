package sweeper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authconsent/internal/consent/models"
	"authconsent/internal/consent/store"
)

func TestSweeperExpiresDueConsents(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()

	due := &models.Consent{
		ID:          uuid.New(),
		TPPClientID: "tpp-1",
		Type:        models.TypeAIS,
		Permissions: []models.Permission{models.PermissionAccountsRead},
		Status:      models.StatusGranted,
		ExpiresAt:   time.Now().Add(-time.Minute),
		CreatedAt:   time.Now().UTC(),
	}
	live := &models.Consent{
		ID:          uuid.New(),
		TPPClientID: "tpp-1",
		Type:        models.TypeAIS,
		Permissions: []models.Permission{models.PermissionAccountsRead},
		Status:      models.StatusGranted,
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, due))
	require.NoError(t, s.Create(ctx, live))

	sweeper := New(s, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(runCtx) }()

	require.Eventually(t, func() bool {
		got, err := s.GetByID(ctx, due.ID)
		return err == nil && got.Status == models.StatusExpired
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got, err := s.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGranted, got.Status, "undue consents are untouched")
}

func TestSweeperStopsOnCancel(t *testing.T) {
	sweeper := New(store.NewInMemory(), time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sweeper.Run(ctx), context.Canceled)
}
