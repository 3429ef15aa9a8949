// Package canonical computes deterministic fingerprints of consent creation
// requests. Two logically equal requests must hash identically across
// processes and time, so the representation is normalized before hashing:
// object keys are sorted, timestamps are rendered in UTC, and the encoding is
// compact JSON with no ambient state mixed in.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"authconsent/internal/consent/models"
)

// Fingerprint returns the hex-encoded SHA-256 of the canonicalized request.
// Failure means the request is not serializable, which is a caller bug.
func Fingerprint(req models.CreateRequest) (string, error) {
	if req.ExpirationAt != nil {
		utc := req.ExpirationAt.UTC()
		req.ExpirationAt = &utc
	}

	// Round-trip through a generic map so keys come out sorted regardless of
	// struct field order.
	structJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(structJSON, &generic); err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	canonicalJSON, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}

	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:]), nil
}
