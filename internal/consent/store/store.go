// Package store persists consent records and exposes the conditional-update
// primitives every state transition is built on. No transition is ever a
// read-then-write pair visible to other transactions: the decisive operation
// is always a single conditional UPDATE.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"authconsent/internal/consent/models"
)

// Store is the consent persistence contract.
//
// GetByID returns (nil, nil) for unknown IDs. UpdateStatusIfAllowed applies
// "set status to `to` iff current status ∈ allowedFrom" atomically and returns
// the post-image row plus whether THIS call performed the transition — when
// the guard fails the row comes back unchanged with applied=false, so callers
// can report the actual persisted state and keep exactly-once counters honest
// under races. SetSCAReferenceIfPending
// assigns the reference at most once while the consent is still pending; the
// loser of a concurrent assignment reads back the winner's value. ExpireDue is
// one bulk conditional update marking every due PENDING_SCA/GRANTED consent
// EXPIRED and returns the affected count.
type Store interface {
	Create(ctx context.Context, consent *models.Consent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Consent, error)
	UpdateStatusIfAllowed(ctx context.Context, id uuid.UUID, allowedFrom []models.Status, to models.Status) (consent *models.Consent, applied bool, err error)
	SetSCAReferenceIfPending(ctx context.Context, id uuid.UUID, ref string) (*models.Consent, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
