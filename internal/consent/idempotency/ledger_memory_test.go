package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLedgerLockLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := NewInMemoryLedger()

	entry, err := ledger.Read(ctx, "tpp-1", "key-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "unknown key reads as absent")

	ok, err := ledger.TryLock(ctx, "tpp-1", "key-1", "sha-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.TryLock(ctx, "tpp-1", "key-1", "sha-a")
	require.NoError(t, err)
	assert.False(t, ok, "second claim on a held lock must lose")

	entry, err = ledger.Read(ctx, "tpp-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StateLock, entry.State)
	assert.Equal(t, "sha-a", entry.BodySHA256)
	assert.False(t, entry.IsFinal())
}

func TestInMemoryLedgerFinalOverwritesLock(t *testing.T) {
	ctx := context.Background()
	ledger := NewInMemoryLedger()

	ok, err := ledger.TryLock(ctx, "tpp-1", "key-1", "sha-a")
	require.NoError(t, err)
	require.True(t, ok)

	response := json.RawMessage(`{"id":"abc","status":"PENDING_SCA"}`)
	err = ledger.StoreFinal(ctx, "tpp-1", "key-1", Entry{
		BodySHA256: "sha-a",
		Response:   response,
		StatusCode: 201,
		Headers:    map[string]string{"Location": "/consents/abc"},
	})
	require.NoError(t, err)

	entry, err := ledger.Read(ctx, "tpp-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.IsFinal())
	assert.JSONEq(t, string(response), string(entry.Response))
	assert.Equal(t, 201, entry.StatusCode)
	assert.Equal(t, "/consents/abc", entry.Headers["Location"])
}

func TestInMemoryLedgerKeysAreCallerScoped(t *testing.T) {
	ctx := context.Background()
	ledger := NewInMemoryLedger()

	ok, err := ledger.TryLock(ctx, "tpp-1", "shared-key", "sha-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.TryLock(ctx, "tpp-2", "shared-key", "sha-b")
	require.NoError(t, err)
	assert.True(t, ok, "same key under a different caller is independent")
}

func TestInMemoryLedgerLockExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ledger := NewInMemoryLedger(WithClock(func() time.Time { return now }))

	ok, err := ledger.TryLock(ctx, "tpp-1", "key-1", "sha-a")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(LockTTL + time.Second)

	entry, err := ledger.Read(ctx, "tpp-1", "key-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired lock reads as absent")

	ok, err = ledger.TryLock(ctx, "tpp-1", "key-1", "sha-b")
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be reclaimed")
}

func TestInMemoryLedgerConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	ledger := NewInMemoryLedger()

	const claimers = 32
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.TryLock(ctx, "tpp-1", "key-1", "sha-a")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins, "exactly one concurrent claim may win")
}
