// Package models defines the consent entity and the request/response shapes
// of the consent lifecycle operations.
package models

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	dErrors "authconsent/pkg/domain-errors"
	pstrings "authconsent/pkg/platform/strings"
)

// Status is the lifecycle state of a consent.
type Status string

const (
	StatusPendingSCA Status = "PENDING_SCA"
	StatusGranted    Status = "GRANTED"
	StatusRejected   Status = "REJECTED"
	StatusExpired    Status = "EXPIRED"
	StatusRevoked    Status = "REVOKED"
)

// Type labels the consent category. Only account-information consents exist
// today.
type Type string

const TypeAIS Type = "AIS"

// Permission is a scope string granted by a consent.
type Permission string

const (
	PermissionAccountsRead     Permission = "accounts:read"
	PermissionBalancesRead     Permission = "balances:read"
	PermissionTransactionsRead Permission = "transactions:read"
)

var validPermissions = map[Permission]bool{
	PermissionAccountsRead:     true,
	PermissionBalancesRead:     true,
	PermissionTransactionsRead: true,
}

// Outcome is the result a step-up callback reports.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
)

// RedirectURLs are the targets the step-up flow resolves to. Write-once at
// creation.
type RedirectURLs struct {
	SuccessURL string `json:"success_url"`
	FailureURL string `json:"failure_url"`
}

// AccountsScope optionally narrows a consent to specific accounts.
type AccountsScope struct {
	IDs      []string `json:"ids"`
	Currency string   `json:"currency,omitempty"`
}

// Consent is the sole persistent entity. Status is the only mutable field
// besides SCAReference (assigned at most once) and the bookkeeping columns.
type Consent struct {
	ID            uuid.UUID
	TenantID      string
	TPPClientID   string
	Type          Type
	Permissions   []Permission
	Status        Status
	Recurring     bool
	ExpiresAt     time.Time
	RedirectURLs  RedirectURLs
	AccountsScope *AccountsScope
	SCAReference  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CreatedByIP   string
	Metadata      map[string]string
	Version       int
}

// CreateRequest is the payload of a consent creation.
type CreateRequest struct {
	Type         Type              `json:"type"`
	Permissions  []Permission      `json:"permissions"`
	ExpirationAt *time.Time        `json:"expiration_at,omitempty"`
	Recurring    bool              `json:"recurring"`
	Accounts     *AccountsScope    `json:"accounts,omitempty"`
	RedirectURLs RedirectURLs      `json:"redirect_urls"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate enforces the write-once creation invariants: at least one known
// permission and HTTPS (or localhost) redirect targets.
func (r *CreateRequest) Validate() error {
	if r.Type == "" {
		r.Type = TypeAIS
	}
	if r.Type != TypeAIS {
		return dErrors.New(dErrors.CodeBadRequest, "unsupported consent type")
	}
	r.Permissions = pstrings.DedupeAndTrim(r.Permissions)
	if len(r.Permissions) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "permissions must not be empty")
	}
	for _, p := range r.Permissions {
		if !validPermissions[p] {
			return dErrors.New(dErrors.CodeBadRequest, "invalid permission: "+string(p))
		}
	}
	if err := validateRedirect(r.RedirectURLs.SuccessURL); err != nil {
		return err
	}
	if err := validateRedirect(r.RedirectURLs.FailureURL); err != nil {
		return err
	}
	return nil
}

func validateRedirect(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return dErrors.New(dErrors.CodeBadRequest, "redirect URL is not a valid absolute URL")
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
		return nil
	}
	return dErrors.New(dErrors.CodeBadRequest, "redirect URLs must be https (or localhost for dev)")
}

// NextAction tells the TPP where to send the user for step-up authentication.
type NextAction struct {
	Type         string `json:"type"`
	AuthorizeURL string `json:"authorize_url"`
}

// NextActionSCARedirect is the only next-action type issued today.
const NextActionSCARedirect = "SCA_REDIRECT"

// Links are the relative resource links echoed on creation and reads.
type Links struct {
	Self   string `json:"self"`
	Status string `json:"status"`
	Revoke string `json:"revoke"`
}

// LinksFor builds the canonical links for a consent.
func LinksFor(id uuid.UUID) Links {
	return Links{
		Self:   "/consents/" + id.String(),
		Status: "/consents/" + id.String() + "/status",
		Revoke: "/consents/" + id.String() + "/revoke",
	}
}

// CreateResponse is the creation payload. It is stored byte-for-byte in the
// idempotency ledger so replays are identical.
type CreateResponse struct {
	ID            uuid.UUID    `json:"id"`
	Status        Status       `json:"status"`
	Type          Type         `json:"type"`
	Permissions   []Permission `json:"permissions"`
	ExpiresAt     time.Time    `json:"expires_at"`
	NextAction    NextAction   `json:"next_action"`
	Links         Links        `json:"links"`
	CorrelationID string       `json:"correlation_id"`
}

// AuthorizeResponse is returned when step-up authentication starts.
type AuthorizeResponse struct {
	ID            uuid.UUID  `json:"id"`
	Status        Status     `json:"status"`
	SCAReference  string     `json:"sca_id"`
	NextAction    NextAction `json:"next_action"`
	DenyURL       string     `json:"deny_url"`
	CorrelationID string     `json:"correlation_id"`
}

// StatusResponse is the poll projection of a consent.
type StatusResponse struct {
	ID            uuid.UUID `json:"id"`
	Status        Status    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	CorrelationID string    `json:"correlation_id"`
}

// ProviderRefs exposes step-up references on the detail read.
type ProviderRefs struct {
	SCAReference string `json:"sca_id,omitempty"`
}

// DetailResponse is the full read projection of a consent.
type DetailResponse struct {
	ID            uuid.UUID      `json:"id"`
	Status        Status         `json:"status"`
	Type          Type           `json:"type"`
	Permissions   []Permission   `json:"permissions"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Recurring     bool           `json:"recurring"`
	RedirectURLs  RedirectURLs   `json:"redirect_urls"`
	Accounts      *AccountsScope `json:"accounts,omitempty"`
	ProviderRefs  *ProviderRefs  `json:"provider_refs,omitempty"`
	Links         Links          `json:"links"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CorrelationID string         `json:"correlation_id"`
}
