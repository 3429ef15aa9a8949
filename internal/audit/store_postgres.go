package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore appends audit events to the consent_audit_events table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO consent_audit_events (
			consent_id, tenant_id, action, actor, client_ip, user_agent, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ConsentID,
		sql.NullString{String: event.TenantID, Valid: event.TenantID != ""},
		event.Action,
		event.Actor,
		sql.NullString{String: event.ClientIP, Valid: event.ClientIP != ""},
		sql.NullString{String: event.UserAgent, Valid: event.UserAgent != ""},
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
