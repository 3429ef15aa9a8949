package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is the production ledger implementation. It relies on SET NX EX
// for atomic claims; no further coordination is needed because only the lock
// winner ever writes the FINAL entry.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger constructs a Redis-backed ledger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// Read fetches the entry for (clientID, key). A missing key and a corrupt
// value both read as "no entry": a corrupt value can only come from an
// operator editing the key by hand, and treating it as absent degrades to
// non-idempotent creation instead of wedging the client.
func (l *RedisLedger) Read(ctx context.Context, clientID, key string) (*Entry, error) {
	raw, err := l.client.Get(ctx, ledgerKey(clientID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency read: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil
	}
	return &entry, nil
}

// TryLock claims the key with SET NX and a short TTL.
func (l *RedisLedger) TryLock(ctx context.Context, clientID, key, bodySHA string) (bool, error) {
	value, err := json.Marshal(Entry{State: StateLock, BodySHA256: bodySHA})
	if err != nil {
		return false, fmt.Errorf("idempotency lock encode: %w", err)
	}
	ok, err := l.client.SetNX(ctx, ledgerKey(clientID, key), value, LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency lock: %w", err)
	}
	return ok, nil
}

// StoreFinal overwrites the caller's lock with the FINAL record.
func (l *RedisLedger) StoreFinal(ctx context.Context, clientID, key string, entry Entry) error {
	entry.State = StateFinal
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("idempotency final encode: %w", err)
	}
	if err := l.client.Set(ctx, ledgerKey(clientID, key), value, FinalTTL).Err(); err != nil {
		return fmt.Errorf("idempotency final store: %w", err)
	}
	return nil
}
