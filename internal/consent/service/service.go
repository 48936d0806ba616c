// Package service orchestrates consent governance decisions.
//
// The service owns the write path: authorization, the approval state machine,
// the append-only decision history, audit emission and token issuance all run
// here, inside a per-application transactional boundary. Handlers stay thin
// and stores stay dumb.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit"
	"custodia/internal/consent/metrics"
	"custodia/internal/consent/models"
	"custodia/internal/consent/store"
	"custodia/internal/consent/transform"
	"custodia/internal/credential"
	"custodia/internal/vault"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	pstrings "custodia/pkg/platform/strings"
	"custodia/pkg/requestcontext"
)

// TokenIssuer is the credential capability the governance core needs:
// idempotent dataset token issuance, a read-only lookup for views, and
// explicit application token rotation.
type TokenIssuer interface {
	IssueDatasetToken(ctx context.Context, appID, dataset string) (string, error)
	DatasetToken(ctx context.Context, appID, dataset string) (string, error)
	RegenerateAppToken(ctx context.Context, appID string) (string, credential.AppToken, error)
}

// AuditPublisher records governance events. Emission failures never fail the
// decision itself; they are logged and the decision stands.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store       store.Store
	tx          Tx
	transformer *transform.Transformer
	issuer      TokenIssuer
	publisher   AuditPublisher
	schema      vault.SchemaProvider
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Service)

func WithTx(tx Tx) Option {
	return func(s *Service) { s.tx = tx }
}

func WithIssuer(issuer TokenIssuer) Option {
	return func(s *Service) { s.issuer = issuer }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithSchemaProvider(provider vault.SchemaProvider) Option {
	return func(s *Service) { s.schema = provider }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(s store.Store, opts ...Option) (*Service, error) {
	if s == nil {
		return nil, fmt.Errorf("consent store is required")
	}

	svc := &Service{
		store:       s,
		transformer: transform.New(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("custodia/internal/consent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.tx == nil {
		svc.tx = NewShardedTx(s)
	}
	return svc, nil
}

// Decision reports the outcome of a single-field review.
type Decision struct {
	Consent       models.FieldConsent `json:"consent"`
	DatasetStatus models.Status       `json:"dataset_status"`
	// AccessToken is set when this decision brought the dataset to
	// fully-approved and a token was available for it.
	AccessToken string `json:"access_token,omitempty"`
}

// ApproveField approves one field-level consent, granting the given actions.
// Any current state may be approved; a previously rejected field is simply
// re-reviewed. The grant must be a non-empty subset of what the application
// requested.
func (s *Service) ApproveField(ctx context.Context, actor models.Actor, key models.ConsentKey, granted models.ActionSet, expiry time.Time) (Decision, error) {
	if !models.CanApprove(actor.Role) {
		return Decision{}, dErrors.Newf(dErrors.CodeUnauthorized, "role %q may not review consent requests", actor.Role)
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRollup(start)
		}
	}()

	now := requestcontext.Now(ctx)
	if expiry.IsZero() {
		expiry = models.DefaultExpiry(now)
	} else {
		expiry = models.NormalizeExpiry(expiry)
	}

	var decision Decision
	err := s.tx.RunInTx(ctx, key.AppID, func(st store.Store) error {
		consent, err := st.Get(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeUnknownField, "no consent request for %s", key)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
		}

		if err := consent.CanApprove(granted); err != nil {
			return err
		}
		consent.ApplyApproval(granted, expiry)

		if err := st.Upsert(ctx, consent); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist approval")
		}
		approval := s.newApproval(actor, consent, granted, true, "", now)
		if err := st.AppendApproval(ctx, approval); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record approval")
		}

		decision.Consent = consent
		decision.DatasetStatus, err = s.datasetStatus(ctx, st, key.AppID, key.Dataset)
		return err
	})
	if err != nil {
		return Decision{}, err
	}

	// Issuance happens outside the transaction: a broken token backend must
	// never unwind a committed transition.
	if decision.DatasetStatus == models.StatusApproved {
		decision.AccessToken = s.mintDatasetToken(ctx, key.AppID, key.Dataset)
	}

	if s.metrics != nil {
		s.metrics.IncrementDecision("approved")
	}
	s.emitAudit(ctx, audit.Event{
		ActorID:       actor.ID,
		Action:        audit.ActionFieldApproved,
		ResourceType:  audit.ResourceField,
		ResourceID:    key.String(),
		ApproverGroup: models.ApproverGroupFor(actor.Role),
		Details: map[string]any{
			"granted_actions": granted.Strings(),
			"dataset_status":  string(decision.DatasetStatus),
			"expiry_date":     expiry.Format(time.RFC3339),
		},
	})
	return decision, nil
}

// RejectField rejects one field-level consent, clearing any previous grant.
// Rejecting an already approved field revokes it; the dataset status follows
// on the next rollup.
func (s *Service) RejectField(ctx context.Context, actor models.Actor, key models.ConsentKey, reason string) (Decision, error) {
	if !models.CanApprove(actor.Role) {
		return Decision{}, dErrors.Newf(dErrors.CodeUnauthorized, "role %q may not review consent requests", actor.Role)
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRollup(start)
		}
	}()

	now := requestcontext.Now(ctx)

	var decision Decision
	err := s.tx.RunInTx(ctx, key.AppID, func(st store.Store) error {
		consent, err := st.Get(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeUnknownField, "no consent request for %s", key)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
		}

		consent.ApplyRejection()

		if err := st.Upsert(ctx, consent); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist rejection")
		}
		approval := s.newApproval(actor, consent, nil, false, reason, now)
		if err := st.AppendApproval(ctx, approval); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record rejection")
		}

		decision.Consent = consent
		decision.DatasetStatus, err = s.datasetStatus(ctx, st, key.AppID, key.Dataset)
		return err
	})
	if err != nil {
		return Decision{}, err
	}

	if s.metrics != nil {
		s.metrics.IncrementDecision("rejected")
	}
	s.emitAudit(ctx, audit.Event{
		ActorID:       actor.ID,
		Action:        audit.ActionFieldRejected,
		ResourceType:  audit.ResourceField,
		ResourceID:    key.String(),
		ApproverGroup: models.ApproverGroupFor(actor.Role),
		Details: map[string]any{
			"reason":         reason,
			"dataset_status": string(decision.DatasetStatus),
		},
	})
	return decision, nil
}

// datasetStatus recomputes the rollup for one dataset from current rows.
func (s *Service) datasetStatus(ctx context.Context, st store.Store, appID, dataset string) (models.Status, error) {
	consents, err := st.ListByApp(ctx, appID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents for rollup")
	}

	var statuses []models.Status
	for _, c := range consents {
		if c.Dataset == dataset {
			statuses = append(statuses, c.Status)
		}
	}
	return models.Rollup(statuses), nil
}

// mintDatasetToken ensures a token exists for a fully-approved dataset.
// Best-effort: the transition is already committed, so issuance failures are
// logged and the token is simply absent from the response. Issuance is
// idempotent, so re-approvals never rotate an existing token.
func (s *Service) mintDatasetToken(ctx context.Context, appID, dataset string) string {
	if s.issuer == nil {
		return ""
	}
	token, err := s.issuer.IssueDatasetToken(ctx, appID, dataset)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue dataset token",
			slog.String("app_id", appID),
			slog.String("dataset", dataset),
			slog.Any("error", err),
		)
		return ""
	}
	if s.metrics != nil {
		s.metrics.IncrementDatasetTokenIssued()
	}
	return token
}

func (s *Service) newApproval(actor models.Actor, consent models.FieldConsent, actions models.ActionSet, approved bool, reason string, now time.Time) models.Approval {
	return models.Approval{
		ID:            uuid.NewString(),
		AppID:         consent.AppID,
		Dataset:       consent.Dataset,
		Field:         consent.Field,
		Actions:       actions.Clone(),
		Approved:      approved,
		ApprovedBy:    actor.ID,
		ApproverGroup: models.ApproverGroupFor(actor.Role),
		ApprovedAt:    now,
		Reason:        reason,
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.publisher == nil {
		return
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		if event.Details == nil {
			event.Details = map[string]any{}
		}
		event.Details["client_ip"] = ip
		if ua := requestcontext.UserAgent(ctx); ua != "" {
			event.Details["user_agent"] = ua
		}
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			slog.String("action", event.Action),
			slog.String("resource_id", event.ResourceID),
			slog.Any("error", err),
		)
	}
}

// normalizePurposes applies the default purpose set when the caller supplies
// none.
func normalizePurposes(purposes []string) []string {
	cleaned := pstrings.DedupeAndTrim(purposes)
	if len(cleaned) == 0 {
		return append([]string(nil), models.DefaultPurposes...)
	}
	return cleaned
}
