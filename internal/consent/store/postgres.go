package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"authconsent/internal/consent/models"
)

// PostgresStore persists consents in PostgreSQL. All transitions ride on
// conditional UPDATE ... RETURNING statements so concurrent writers are
// serialized by the database, not by in-process locks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const consentColumns = `
	id, tenant_id, tpp_client_id, type, permissions, status, recurring,
	expires_at, redirect_success_url, redirect_failure_url, accounts_scope,
	sca_id, created_at, updated_at, created_by_ip, metadata, version
`

func (s *PostgresStore) Create(ctx context.Context, consent *models.Consent) error {
	permissions, err := json.Marshal(consent.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	var accountsScope []byte
	if consent.AccountsScope != nil {
		if accountsScope, err = json.Marshal(consent.AccountsScope); err != nil {
			return fmt.Errorf("encode accounts scope: %w", err)
		}
	}
	var metadata []byte
	if consent.Metadata != nil {
		if metadata, err = json.Marshal(consent.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	query := `
		INSERT INTO consents (
			id, tenant_id, tpp_client_id, type, permissions, status, recurring,
			expires_at, redirect_success_url, redirect_failure_url,
			accounts_scope, created_by_ip, metadata, created_at, updated_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14, 1)
	`
	_, err = s.db.ExecContext(ctx, query,
		consent.ID,
		nullString(consent.TenantID),
		consent.TPPClientID,
		string(consent.Type),
		permissions,
		string(consent.Status),
		consent.Recurring,
		consent.ExpiresAt,
		consent.RedirectURLs.SuccessURL,
		consent.RedirectURLs.FailureURL,
		nullBytes(accountsScope),
		nullString(consent.CreatedByIP),
		nullBytes(metadata),
		consent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	consent.UpdatedAt = consent.CreatedAt
	consent.Version = 1
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Consent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consents WHERE id = $1`, id)
	consent, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	return consent, nil
}

// UpdateStatusIfAllowed performs the transition as one conditional UPDATE.
// When the guard fails the current row is returned unchanged with
// applied=false; when the id is unknown it returns (nil, false, nil).
func (s *PostgresStore) UpdateStatusIfAllowed(ctx context.Context, id uuid.UUID, allowedFrom []models.Status, to models.Status) (*models.Consent, bool, error) {
	from := make([]string, len(allowedFrom))
	for i, st := range allowedFrom {
		from[i] = string(st)
	}

	query := `
		UPDATE consents
		SET status = $2, updated_at = now(), version = version + 1
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + consentColumns
	row := s.db.QueryRowContext(ctx, query, id, string(to), pq.Array(from))
	consent, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Guard failed or row missing; read back the current state.
		current, err := s.GetByID(ctx, id)
		return current, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("conditional status update: %w", err)
	}
	return consent, true, nil
}

// SetSCAReferenceIfPending assigns the reference only while the consent is
// pending and unassigned. COALESCE makes the statement idempotent: a racing
// loser still gets a successful UPDATE whose RETURNING row carries the
// winner's value.
func (s *PostgresStore) SetSCAReferenceIfPending(ctx context.Context, id uuid.UUID, ref string) (*models.Consent, error) {
	query := `
		UPDATE consents
		SET sca_id = COALESCE(sca_id, $2), updated_at = now(), version = version + 1
		WHERE id = $1 AND status = $3
		RETURNING ` + consentColumns
	row := s.db.QueryRowContext(ctx, query, id, ref, string(models.StatusPendingSCA))
	consent, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("assign sca reference: %w", err)
	}
	return consent, nil
}

// ExpireDue marks every due PENDING_SCA/GRANTED consent EXPIRED in one
// set-based statement. Safe to run concurrently from multiple instances: the
// condition makes the update idempotent and commutative.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE consents
		SET status = $1, updated_at = now(), version = version + 1
		WHERE status = ANY($2) AND expires_at <= $3
	`
	res, err := s.db.ExecContext(ctx, query,
		string(models.StatusExpired),
		pq.Array([]string{string(models.StatusPendingSCA), string(models.StatusGranted)}),
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire due consents: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire due consents: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.Consent, error) {
	var (
		consent       models.Consent
		tenantID      sql.NullString
		consentType   string
		status        string
		permissions   []byte
		accountsScope []byte
		scaID         sql.NullString
		createdByIP   sql.NullString
		metadata      []byte
	)
	err := row.Scan(
		&consent.ID,
		&tenantID,
		&consent.TPPClientID,
		&consentType,
		&permissions,
		&status,
		&consent.Recurring,
		&consent.ExpiresAt,
		&consent.RedirectURLs.SuccessURL,
		&consent.RedirectURLs.FailureURL,
		&accountsScope,
		&scaID,
		&consent.CreatedAt,
		&consent.UpdatedAt,
		&createdByIP,
		&metadata,
		&consent.Version,
	)
	if err != nil {
		return nil, err
	}

	consent.TenantID = tenantID.String
	consent.Type = models.Type(consentType)
	consent.Status = models.Status(status)
	consent.SCAReference = scaID.String
	consent.CreatedByIP = createdByIP.String
	if err := json.Unmarshal(permissions, &consent.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	if len(accountsScope) > 0 {
		consent.AccountsScope = &models.AccountsScope{}
		if err := json.Unmarshal(accountsScope, consent.AccountsScope); err != nil {
			return nil, fmt.Errorf("decode accounts scope: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &consent.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &consent, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
