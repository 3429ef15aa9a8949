package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"authconsent/internal/consent/models"
)

// InMemoryStore implements Store with the same conditional-update semantics as
// the PostgreSQL store, for unit tests. The single mutex stands in for the
// database's row-level atomicity.
type InMemoryStore struct {
	mu       sync.Mutex
	consents map[uuid.UUID]*models.Consent
}

// NewInMemory constructs an empty in-memory consent store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{consents: make(map[uuid.UUID]*models.Consent)}
}

func (s *InMemoryStore) Create(_ context.Context, consent *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneConsent(consent)
	c.UpdatedAt = c.CreatedAt
	c.Version = 1
	s.consents[c.ID] = c
	consent.UpdatedAt = c.UpdatedAt
	consent.Version = c.Version
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, nil
	}
	return cloneConsent(c), nil
}

func (s *InMemoryStore) UpdateStatusIfAllowed(_ context.Context, id uuid.UUID, allowedFrom []models.Status, to models.Status) (*models.Consent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, false, nil
	}
	applied := false
	for _, from := range allowedFrom {
		if c.Status == from {
			c.Status = to
			c.UpdatedAt = time.Now().UTC()
			c.Version++
			applied = true
			break
		}
	}
	return cloneConsent(c), applied, nil
}

func (s *InMemoryStore) SetSCAReferenceIfPending(_ context.Context, id uuid.UUID, ref string) (*models.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, nil
	}
	if c.Status == models.StatusPendingSCA && c.SCAReference == "" {
		c.SCAReference = ref
		c.UpdatedAt = time.Now().UTC()
		c.Version++
	}
	return cloneConsent(c), nil
}

func (s *InMemoryStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, c := range s.consents {
		if (c.Status == models.StatusPendingSCA || c.Status == models.StatusGranted) && !c.ExpiresAt.After(now) {
			c.Status = models.StatusExpired
			c.UpdatedAt = now
			c.Version++
			affected++
		}
	}
	return affected, nil
}

func cloneConsent(c *models.Consent) *models.Consent {
	clone := *c
	clone.Permissions = append([]models.Permission(nil), c.Permissions...)
	if c.AccountsScope != nil {
		scope := *c.AccountsScope
		scope.IDs = append([]string(nil), c.AccountsScope.IDs...)
		clone.AccountsScope = &scope
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
