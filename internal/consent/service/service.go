// Package service implements the consent lifecycle: idempotent creation,
// step-up authorization, callback resolution, revocation, and reads.
//
// Every state transition delegates to one conditional store update, so the
// service never holds locks of its own and any number of instances can run
// the same operations concurrently.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"authconsent/internal/audit"
	"authconsent/internal/auth"
	"authconsent/internal/consent/canonical"
	"authconsent/internal/consent/idempotency"
	"authconsent/internal/consent/models"
	"authconsent/internal/consent/store"
	"authconsent/internal/platform/metrics"
	dErrors "authconsent/pkg/domain-errors"
	"authconsent/pkg/requestcontext"
)

// DefaultMaxExpiry caps consent lifetime when the deployment does not
// configure its own ceiling.
const DefaultMaxExpiry = 90 * 24 * time.Hour

// How long a creation waits on a concurrent holder of the same idempotency
// key before telling the caller to retry.
const (
	lockPollAttempts = 5
	lockPollInterval = 100 * time.Millisecond
)

// Config carries the service dependencies. Ledger and Audit are optional:
// without a ledger creation runs non-idempotent, without audit no trail is
// written.
type Config struct {
	Store     store.Store
	Ledger    idempotency.Ledger
	Metrics   *metrics.Metrics
	Audit     *audit.Publisher
	Logger    *slog.Logger
	BaseURL   string
	MaxExpiry time.Duration
}

// Service orchestrates consent lifecycle operations.
type Service struct {
	store     store.Store
	ledger    idempotency.Ledger
	metrics   *metrics.Metrics
	audit     *audit.Publisher
	logger    *slog.Logger
	baseURL   string
	maxExpiry time.Duration
	tracer    trace.Tracer
}

// New constructs the consent service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "consent service requires a store")
	}
	if cfg.Metrics == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "consent service requires metrics")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxExpiry <= 0 {
		cfg.MaxExpiry = DefaultMaxExpiry
	}
	return &Service{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		maxExpiry: cfg.MaxExpiry,
		tracer:    otel.Tracer("authconsent/consent"),
	}, nil
}

// CreateResult is the outcome of a creation, fresh or replayed. Body holds the
// exact bytes to serve: replays return the originally recorded response
// byte-for-byte.
type CreateResult struct {
	Body       json.RawMessage
	StatusCode int
	Headers    map[string]string
	Replayed   bool
}

// Create runs the idempotent creation protocol. idemKey scopes deduplication
// per caller; an empty key skips the ledger entirely.
func (s *Service) Create(ctx context.Context, caller auth.ClientIdentity, idemKey string, req models.CreateRequest) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	expiresAt, err := s.resolveExpiry(now, req.ExpirationAt)
	if err != nil {
		return nil, err
	}

	useLedger := s.ledger != nil && idemKey != ""
	var bodySHA string
	if useLedger {
		if bodySHA, err = canonical.Fingerprint(req); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint request")
		}
		if result, err := s.claimKey(ctx, caller.ClientID, idemKey, bodySHA); result != nil || err != nil {
			return result, err
		}
	}

	consent := &models.Consent{
		ID:            uuid.New(),
		TenantID:      caller.TenantID,
		TPPClientID:   caller.ClientID,
		Type:          req.Type,
		Permissions:   req.Permissions,
		Status:        models.StatusPendingSCA,
		Recurring:     req.Recurring,
		ExpiresAt:     expiresAt,
		RedirectURLs:  req.RedirectURLs,
		AccountsScope: req.Accounts,
		CreatedAt:     now,
		CreatedByIP:   requestcontext.ClientIP(ctx),
		Metadata:      req.Metadata,
	}
	if err := s.store.Create(ctx, consent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create consent")
	}
	s.metrics.ConsentsCreated.Inc()
	s.publishAudit(ctx, consent, audit.ActionCreated, caller.ClientID)

	links := models.LinksFor(consent.ID)
	resp := models.CreateResponse{
		ID:          consent.ID,
		Status:      consent.Status,
		Type:        consent.Type,
		Permissions: consent.Permissions,
		ExpiresAt:   consent.ExpiresAt,
		NextAction: models.NextAction{
			Type:         models.NextActionSCARedirect,
			AuthorizeURL: s.baseURL + links.Self + "/authorize",
		},
		Links:         links,
		CorrelationID: requestcontext.CorrelationID(ctx),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode creation response")
	}
	headers := map[string]string{"Location": links.Self}

	if useLedger {
		final := idempotency.Entry{
			State:      idempotency.StateFinal,
			BodySHA256: bodySHA,
			Response:   body,
			StatusCode: 201,
			Headers:    headers,
		}
		if err := s.ledger.StoreFinal(ctx, caller.ClientID, idemKey, final); err != nil {
			s.logger.WarnContext(ctx, "idempotency ledger write failed, replay protection lost for this key",
				"client_id", caller.ClientID, "error", err)
		}
	}
	return &CreateResult{Body: body, StatusCode: 201, Headers: headers}, nil
}

// claimKey resolves the caller's standing on an idempotency key. It returns a
// non-nil result when a recorded response must be replayed, an error when the
// key is held with a different body or still in flight, and (nil, nil) when
// this call now owns the key (or the ledger is unreachable and creation
// proceeds without dedup).
func (s *Service) claimKey(ctx context.Context, clientID, key, bodySHA string) (*CreateResult, error) {
	entry, err := s.ledger.Read(ctx, clientID, key)
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency ledger read failed, proceeding without dedup",
			"client_id", clientID, "error", err)
		return nil, nil
	}
	if entry == nil {
		won, err := s.ledger.TryLock(ctx, clientID, key, bodySHA)
		if err != nil {
			s.logger.WarnContext(ctx, "idempotency ledger lock failed, proceeding without dedup",
				"client_id", clientID, "error", err)
			return nil, nil
		}
		if won {
			return nil, nil
		}
		// Lost the claim race; re-read to see what the winner recorded.
		if entry, err = s.ledger.Read(ctx, clientID, key); err != nil || entry == nil {
			return nil, nil
		}
	}

	if entry.BodySHA256 != bodySHA {
		return nil, dErrors.New(dErrors.CodeConflict, "idempotency key reused with a different request body")
	}
	if !entry.IsFinal() {
		entry = s.awaitFinal(ctx, clientID, key, bodySHA)
		if entry == nil {
			return nil, dErrors.New(dErrors.CodeUnavailable, "a creation with this idempotency key is in flight, retry shortly")
		}
	}
	return s.replay(entry), nil
}

// awaitFinal briefly re-polls a locked key, returning the FINAL entry if the
// in-flight creation resolves in time.
func (s *Service) awaitFinal(ctx context.Context, clientID, key, bodySHA string) *idempotency.Entry {
	for i := 0; i < lockPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(lockPollInterval):
		}
		entry, err := s.ledger.Read(ctx, clientID, key)
		if err != nil || entry == nil || entry.BodySHA256 != bodySHA {
			return nil
		}
		if entry.IsFinal() {
			return entry
		}
	}
	return nil
}

func (s *Service) replay(entry *idempotency.Entry) *CreateResult {
	headers := make(map[string]string, len(entry.Headers))
	for k, v := range entry.Headers {
		headers[k] = v
	}
	return &CreateResult{
		Body:       entry.Response,
		StatusCode: 200,
		Headers:    headers,
		Replayed:   true,
	}
}

func (s *Service) resolveExpiry(now time.Time, requested *time.Time) (time.Time, error) {
	ceiling := now.Add(s.maxExpiry)
	if requested == nil {
		return ceiling, nil
	}
	utc := requested.UTC()
	if !utc.After(now) {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, "expiration_at must be in the future")
	}
	if utc.After(ceiling) {
		return ceiling, nil
	}
	return utc, nil
}

// StartSCA begins step-up authentication. The reference is assigned at most
// once; repeated calls while the consent is still pending return the same
// reference and URLs.
func (s *Service) StartSCA(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.AuthorizeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.StartSCA")
	defer span.End()

	consent, err := s.loadOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if consent.Status != models.StatusPendingSCA {
		return nil, dErrors.New(dErrors.CodeInvalidState, "consent is "+string(consent.Status)+", authorization can only start while PENDING_SCA")
	}

	ref := consent.SCAReference
	if ref == "" {
		ref = strings.ReplaceAll(uuid.NewString(), "-", "")
		updated, err := s.store.SetSCAReferenceIfPending(ctx, id, ref)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "assign sca reference")
		}
		if updated == nil {
			return nil, notFound()
		}
		if updated.Status != models.StatusPendingSCA {
			return nil, dErrors.New(dErrors.CodeInvalidState, "consent is "+string(updated.Status)+", authorization can only start while PENDING_SCA")
		}
		ref = updated.SCAReference
	}

	callback := s.baseURL + "/consents/" + id.String() + "/authorize/callback?state=" + ref
	return &models.AuthorizeResponse{
		ID:           id,
		Status:       models.StatusPendingSCA,
		SCAReference: ref,
		NextAction: models.NextAction{
			Type:         models.NextActionSCARedirect,
			AuthorizeURL: callback + "&result=" + string(models.OutcomeApproved),
		},
		DenyURL:       callback + "&result=" + string(models.OutcomeDenied),
		CorrelationID: requestcontext.CorrelationID(ctx),
	}, nil
}

// ResolveCallback records the step-up outcome and returns the redirect target
// matching the actual persisted state. Replays with the already-recorded
// outcome succeed; replays with the opposite outcome conflict.
func (s *Service) ResolveCallback(ctx context.Context, id uuid.UUID, stateToken string, outcome models.Outcome) (string, error) {
	ctx, span := s.tracer.Start(ctx, "consent.ResolveCallback")
	defer span.End()

	if outcome != models.OutcomeApproved && outcome != models.OutcomeDenied {
		return "", dErrors.New(dErrors.CodeBadRequest, "result must be approved or denied")
	}
	consent, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "load consent")
	}
	if consent == nil {
		return "", notFound()
	}
	if consent.SCAReference == "" || stateToken != consent.SCAReference {
		return "", dErrors.New(dErrors.CodeInvalidState, "callback not valid for this consent")
	}

	requested := models.StatusGranted
	action := audit.ActionGranted
	if outcome == models.OutcomeDenied {
		requested = models.StatusRejected
		action = audit.ActionDenied
	}

	final := consent.Status
	if consent.Status == models.StatusPendingSCA {
		updated, applied, err := s.store.UpdateStatusIfAllowed(ctx, id, []models.Status{models.StatusPendingSCA}, requested)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "record callback outcome")
		}
		if updated == nil {
			return "", notFound()
		}
		final = updated.Status
		if applied {
			s.publishAudit(ctx, updated, action, "callback")
		}
	}

	switch final {
	case requested:
		return s.redirectFor(consent, final), nil
	case models.StatusGranted, models.StatusRejected:
		return "", dErrors.New(dErrors.CodeConflict, "callback outcome conflicts with the recorded decision")
	default:
		return "", dErrors.New(dErrors.CodeInvalidState, "consent is "+string(final)+", callback can no longer be applied")
	}
}

func (s *Service) redirectFor(consent *models.Consent, status models.Status) string {
	if status == models.StatusGranted {
		return consent.RedirectURLs.SuccessURL
	}
	return consent.RedirectURLs.FailureURL
}

// Revoke transitions PENDING_SCA or GRANTED consents to REVOKED. Revoking an
// already-revoked consent is an idempotent no-op; the revocation counter moves
// exactly once per consent.
func (s *Service) Revoke(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.StatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Revoke")
	defer span.End()

	consent, err := s.loadOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if consent.Status == models.StatusRevoked {
		return s.statusOf(ctx, consent), nil
	}

	updated, applied, err := s.store.UpdateStatusIfAllowed(ctx, id,
		[]models.Status{models.StatusPendingSCA, models.StatusGranted}, models.StatusRevoked)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "revoke consent")
	}
	if updated == nil {
		return nil, notFound()
	}
	if applied {
		s.metrics.ConsentsRevoked.Inc()
		s.publishAudit(ctx, updated, audit.ActionRevoked, caller.ClientID)
		return s.statusOf(ctx, updated), nil
	}
	if updated.Status == models.StatusRevoked {
		// A concurrent revoke won; same observable outcome.
		return s.statusOf(ctx, updated), nil
	}
	return nil, dErrors.New(dErrors.CodeInvalidState, "consent is "+string(updated.Status)+" and can no longer be revoked")
}

// Status returns the poll projection. Every call moves the poll counter, even
// repeated polls of the same consent.
func (s *Service) Status(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.StatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Status")
	defer span.End()

	s.metrics.ConsentsStatusPoll.Inc()
	consent, err := s.loadOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.statusOf(ctx, consent), nil
}

// Get returns the full detail projection.
func (s *Service) Get(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.DetailResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Get")
	defer span.End()

	consent, err := s.loadOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	resp := &models.DetailResponse{
		ID:            consent.ID,
		Status:        consent.Status,
		Type:          consent.Type,
		Permissions:   consent.Permissions,
		ExpiresAt:     consent.ExpiresAt,
		Recurring:     consent.Recurring,
		RedirectURLs:  consent.RedirectURLs,
		Accounts:      consent.AccountsScope,
		Links:         models.LinksFor(consent.ID),
		CreatedAt:     consent.CreatedAt,
		UpdatedAt:     consent.UpdatedAt,
		CorrelationID: requestcontext.CorrelationID(ctx),
	}
	if consent.SCAReference != "" {
		resp.ProviderRefs = &models.ProviderRefs{SCAReference: consent.SCAReference}
	}
	return resp, nil
}

func (s *Service) statusOf(ctx context.Context, consent *models.Consent) *models.StatusResponse {
	return &models.StatusResponse{
		ID:            consent.ID,
		Status:        consent.Status,
		ExpiresAt:     consent.ExpiresAt,
		CorrelationID: requestcontext.CorrelationID(ctx),
	}
}

// loadOwned fetches the consent and enforces ownership: the caller's client
// must match, and when both sides carry a tenant those must match too.
func (s *Service) loadOwned(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.Consent, error) {
	consent, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load consent")
	}
	if consent == nil {
		return nil, notFound()
	}
	if consent.TPPClientID != caller.ClientID {
		return nil, forbidden()
	}
	if caller.HasTenant() && consent.TenantID != "" && caller.TenantID != consent.TenantID {
		return nil, forbidden()
	}
	return consent, nil
}

func (s *Service) publishAudit(ctx context.Context, consent *models.Consent, action, actor string) {
	if s.audit == nil {
		return
	}
	s.audit.Publish(audit.Event{
		ConsentID: consent.ID,
		TenantID:  consent.TenantID,
		Action:    action,
		Actor:     actor,
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
}

func notFound() error {
	return dErrors.New(dErrors.CodeNotFound, "consent not found")
}

func forbidden() error {
	return dErrors.New(dErrors.CodeForbidden, "you do not have access to this consent")
}
