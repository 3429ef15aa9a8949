// Package audit records consent lifecycle events asynchronously. Terminal
// consents are never deleted; the audit trail explains how they got there.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded on the trail.
const (
	ActionCreated = "created"
	ActionGranted = "granted"
	ActionDenied  = "denied"
	ActionRevoked = "revoked"
)

// Event is emitted from domain logic to capture key consent actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ConsentID  uuid.UUID
	TenantID   string
	Action     string
	Actor      string // TPP client id, or "callback" for token-authenticated paths
	ClientIP   string
	UserAgent  string // summarised, not the raw header
	OccurredAt time.Time
}
