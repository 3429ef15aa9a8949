// Package idempotency implements the request-deduplication ledger behind
// consent creation.
//
// Entries are keyed by (client, idempotency key) and live in a TTL-capable
// key-value store: a short-lived LOCK while a creation is in flight, then a
// long-lived FINAL entry recording the response byte-for-byte.
//
// The ledger is deliberately best-effort: when the backing store is
// unreachable the consent service logs the failure and proceeds without the
// exactly-once guarantee. Operators should treat ledger-store outages as a
// temporary loss of creation idempotency, not of correctness of the consents
// themselves.
package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Entry states.
const (
	StateLock  = "LOCK"
	StateFinal = "FINAL"
)

// TTLs for ledger entries. The lock is just long enough to cover a creation
// round-trip; finals live long enough for client retry windows.
const (
	LockTTL  = 60 * time.Second
	FinalTTL = 24 * time.Hour
)

// Entry is one dedup record. Response, StatusCode, and Headers are only
// present when State is FINAL.
type Entry struct {
	State      string            `json:"state"`
	BodySHA256 string            `json:"body_sha256"`
	Response   json.RawMessage   `json:"response,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// IsFinal reports whether the entry has a recorded response.
func (e *Entry) IsFinal() bool { return e.State == StateFinal }

// Ledger is the dedup store contract.
//
// Read returns (nil, nil) when no entry exists. TryLock atomically claims the
// key with a short TTL and reports whether the claim won. StoreFinal
// unconditionally replaces the entry (normally the caller's own lock) with the
// FINAL record under the long TTL.
type Ledger interface {
	Read(ctx context.Context, clientID, key string) (*Entry, error)
	TryLock(ctx context.Context, clientID, key, bodySHA string) (bool, error)
	StoreFinal(ctx context.Context, clientID, key string, entry Entry) error
}

func ledgerKey(clientID, key string) string {
	return "idem:" + clientID + ":" + key
}
