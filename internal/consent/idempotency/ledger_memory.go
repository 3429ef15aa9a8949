package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryLedger mirrors the Redis ledger semantics for unit tests, including
// TTL expiry through an injectable clock.
type InMemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// InMemoryLedgerOption configures an InMemoryLedger.
type InMemoryLedgerOption func(*InMemoryLedger)

// WithClock sets the clock function for TTL tests.
func WithClock(clock func() time.Time) InMemoryLedgerOption {
	return func(l *InMemoryLedger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewInMemoryLedger constructs an empty in-memory ledger.
func NewInMemoryLedger(opts ...InMemoryLedgerOption) *InMemoryLedger {
	l := &InMemoryLedger{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *InMemoryLedger) Read(_ context.Context, clientID, key string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	me, ok := l.entries[ledgerKey(clientID, key)]
	if !ok || l.clock().After(me.expiresAt) {
		return nil, nil
	}
	entry := me.entry
	return &entry, nil
}

func (l *InMemoryLedger) TryLock(_ context.Context, clientID, key, bodySHA string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(clientID, key)
	if me, ok := l.entries[k]; ok && !l.clock().After(me.expiresAt) {
		return false, nil
	}
	l.entries[k] = memoryEntry{
		entry:     Entry{State: StateLock, BodySHA256: bodySHA},
		expiresAt: l.clock().Add(LockTTL),
	}
	return true, nil
}

func (l *InMemoryLedger) StoreFinal(_ context.Context, clientID, key string, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.State = StateFinal
	l.entries[ledgerKey(clientID, key)] = memoryEntry{
		entry:     entry,
		expiresAt: l.clock().Add(FinalTTL),
	}
	return nil
}
