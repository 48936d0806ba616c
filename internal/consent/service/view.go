package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/consent/models"
	"custodia/internal/consent/store"
	"custodia/internal/credential"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// ApplicationView is the read model served to the governance console: the
// grouped consent state plus the full decision history, assembled on demand.
type ApplicationView struct {
	AppID     string                `json:"app_id"`
	Datasets  []models.DatasetGroup `json:"datasets"`
	Status    models.Status         `json:"application_status"`
	Approvals []models.Approval     `json:"approvals"`
}

// GroupedView assembles the grouped consent view for one application.
// Consents and approval history are fetched concurrently; groups are derived
// from the field rows on every call, never read from storage.
func (s *Service) GroupedView(ctx context.Context, appID string) (ApplicationView, error) {
	ctx, span := s.tracer.Start(ctx, "consent.view")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveView(start)
		}
	}()

	var (
		consents  []models.FieldConsent
		approvals []models.Approval
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		consents, err = s.store.ListByApp(gctx, appID)
		return err
	})
	g.Go(func() error {
		var err error
		approvals, err = s.store.ListApprovals(gctx, appID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ApplicationView{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load application state")
	}
	if len(consents) == 0 {
		return ApplicationView{}, dErrors.Newf(dErrors.CodeNotFound, "no consent requests for application %q", appID)
	}

	groups := s.transformer.ToGrouped(consents)
	statuses := make([]models.Status, 0, len(groups))
	for i := range groups {
		group := &groups[i]
		statuses = append(statuses, group.Status)
		if group.Status != models.StatusApproved || s.issuer == nil {
			continue
		}
		token, err := s.issuer.DatasetToken(ctx, appID, group.Dataset)
		if err != nil {
			return ApplicationView{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up dataset token")
		}
		group.AccessToken = token
	}

	return ApplicationView{
		AppID:     appID,
		Datasets:  groups,
		Status:    models.Rollup(statuses),
		Approvals: approvals,
	}, nil
}

// ApprovalHistory returns the append-only decision history for an
// application, oldest first.
func (s *Service) ApprovalHistory(ctx context.Context, appID string) ([]models.Approval, error) {
	approvals, err := s.store.ListApprovals(ctx, appID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approvals")
	}
	return approvals, nil
}

// RegisterRequests files an application's access requests. Every requested
// field is checked against the vault schema before anything is written; rows
// are created in the requested state and existing rows keep their current
// review state, so re-registration is safe.
func (s *Service) RegisterRequests(ctx context.Context, actor models.Actor, appID, vaultID string, requests []models.DatasetRequest) ([]models.FieldConsent, error) {
	if appID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "application id is required")
	}
	if len(requests) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one dataset is required")
	}

	now := requestcontext.Now(ctx)

	var rows []models.FieldConsent
	for _, ds := range requests {
		if ds.Dataset == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "dataset name is required")
		}
		if len(ds.Fields) == 0 {
			return nil, dErrors.Newf(dErrors.CodeValidation, "dataset %q has no requested fields", ds.Dataset)
		}

		known, err := s.knownFields(ctx, vaultID, ds.Dataset)
		if err != nil {
			return nil, err
		}

		purposes := normalizePurposes(ds.Purposes)
		expiry := ds.Expiry
		if expiry.IsZero() {
			expiry = models.DefaultExpiry(now)
		} else {
			expiry = models.NormalizeExpiry(expiry)
		}

		for _, f := range ds.Fields {
			if known != nil && !known[f.Name] {
				return nil, dErrors.Newf(dErrors.CodeUnknownField, "vault %q dataset %q has no field %q", vaultID, ds.Dataset, f.Name)
			}
			requested, err := models.ParseActions(f.Actions)
			if err != nil {
				return nil, err
			}
			rows = append(rows, models.FieldConsent{
				AppID:     appID,
				Dataset:   ds.Dataset,
				Field:     f.Name,
				Requested: requested,
				Status:    models.StatusRequested,
				Purposes:  purposes,
				Expiry:    expiry,
			})
		}
	}

	var created []models.FieldConsent
	err := s.tx.RunInTx(ctx, appID, func(st store.Store) error {
		for _, row := range rows {
			if _, err := st.Get(ctx, row.Key()); err == nil {
				continue
			}
			if err := st.Upsert(ctx, row); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register request")
			}
			created = append(created, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, audit.Event{
		ActorID:      actor.ID,
		Action:       audit.ActionRequestsFiled,
		ResourceType: audit.ResourceApplication,
		ResourceID:   appID,
		Details: map[string]any{
			"vault_id":  vaultID,
			"requested": len(rows),
			"created":   len(created),
		},
	})
	return created, nil
}

// knownFields resolves the vault schema for one dataset. A nil map means no
// schema provider is wired and validation is skipped.
func (s *Service) knownFields(ctx context.Context, vaultID, dataset string) (map[string]bool, error) {
	if s.schema == nil {
		return nil, nil
	}
	fields, err := s.schema.ListFields(ctx, vaultID, dataset)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
	}
	return known, nil
}

// ImportExternal ingests the canonical external payload shape, mapping its
// vocabulary onto this model. Parsing is all-or-nothing: one malformed entry
// rejects the whole payload before anything is written.
func (s *Service) ImportExternal(ctx context.Context, actor models.Actor, apps []models.ApplicationPayload) (int, error) {
	groups, err := s.transformer.ParseExternalPayload(apps)
	if err != nil {
		return 0, err
	}
	rows := s.transformer.FromGrouped(groups)

	byApp := make(map[string][]models.FieldConsent)
	var order []string
	for _, row := range rows {
		if _, seen := byApp[row.AppID]; !seen {
			order = append(order, row.AppID)
		}
		byApp[row.AppID] = append(byApp[row.AppID], row)
	}

	imported := 0
	for _, appID := range order {
		err := s.tx.RunInTx(ctx, appID, func(st store.Store) error {
			for _, row := range byApp[appID] {
				if err := st.Upsert(ctx, row); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to import consent")
				}
				imported++
			}
			return nil
		})
		if err != nil {
			return imported, err
		}
	}

	s.emitAudit(ctx, audit.Event{
		ActorID:      actor.ID,
		Action:       audit.ActionRequestsFiled,
		ResourceType: audit.ResourceApplication,
		ResourceID:   "import",
		Details: map[string]any{
			"applications": len(order),
			"rows":         imported,
		},
	})
	return imported, nil
}

// RegenerateAppToken rotates an application's bearer token. Reviewers and
// the application's owner may rotate; the plaintext is returned exactly once.
func (s *Service) RegenerateAppToken(ctx context.Context, actor models.Actor, appID string) (string, credential.AppToken, error) {
	if !models.CanApprove(actor.Role) && actor.Role != models.RoleAppOwner {
		return "", credential.AppToken{}, dErrors.Newf(dErrors.CodeUnauthorized, "role %q may not rotate application tokens", actor.Role)
	}
	if s.issuer == nil {
		return "", credential.AppToken{}, dErrors.New(dErrors.CodeInternal, "token issuer is not configured")
	}

	plaintext, record, err := s.issuer.RegenerateAppToken(ctx, appID)
	if err != nil {
		return "", credential.AppToken{}, err
	}

	s.emitAudit(ctx, audit.Event{
		ActorID:      actor.ID,
		Action:       audit.ActionTokenRotated,
		ResourceType: audit.ResourceApplication,
		ResourceID:   appID,
		Details: map[string]any{
			"rotated_at": record.RotatedAt.Format(time.RFC3339),
			"expires_at": record.ExpiresAt.Format(time.RFC3339),
		},
	})
	return plaintext, record, nil
}
