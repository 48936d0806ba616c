package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"custodia/internal/audit"
	"custodia/internal/consent/models"
	"custodia/internal/consent/store"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// stagedDecision is one validated, not-yet-committed field transition.
type stagedDecision struct {
	consent  models.FieldConsent
	approval models.Approval
}

// BatchApprove approves every selected field in one all-or-nothing commit.
// Unselected entries are ignored. Validation runs against every selection
// before anything is written: one unknown field or illegal grant aborts the
// whole batch and leaves the store untouched.
func (s *Service) BatchApprove(ctx context.Context, actor models.Actor, appID, vaultID string, selections []models.BatchSelection) (models.BatchResult, error) {
	return s.runBatch(ctx, actor, appID, vaultID, selections, true)
}

// BatchReject rejects every selected field in one all-or-nothing commit.
// Fields outside the selection keep their current state, including previously
// granted approvals.
func (s *Service) BatchReject(ctx context.Context, actor models.Actor, appID, vaultID string, selections []models.BatchSelection) (models.BatchResult, error) {
	return s.runBatch(ctx, actor, appID, vaultID, selections, false)
}

func (s *Service) runBatch(ctx context.Context, actor models.Actor, appID, vaultID string, selections []models.BatchSelection, approve bool) (models.BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "consent.batch")
	defer span.End()

	if !models.CanApprove(actor.Role) {
		return models.BatchResult{}, dErrors.Newf(dErrors.CodeUnauthorized, "role %q may not review consent requests", actor.Role)
	}

	// Approvals additionally require at least one access flag; a selected
	// entry granting nothing is dropped here, not failed later.
	selected := make([]models.BatchSelection, 0, len(selections))
	for _, sel := range selections {
		if !sel.Selected {
			continue
		}
		if approve && !sel.ReadAccess && !sel.WriteAccess {
			continue
		}
		selected = append(selected, sel)
	}
	if len(selected) == 0 {
		return models.BatchResult{}, dErrors.New(dErrors.CodeNoFieldsSelected, "no fields selected for review")
	}

	// Canonical order: the commit sequence and the audit record are stable
	// regardless of how the console ordered the payload.
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Dataset != selected[j].Dataset {
			return selected[i].Dataset < selected[j].Dataset
		}
		return selected[i].Field < selected[j].Field
	})

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRollup(start)
		}
	}()

	now := requestcontext.Now(ctx)

	var result models.BatchResult
	err := s.tx.RunInTx(ctx, appID, func(st store.Store) error {
		staged, err := s.stageBatch(ctx, st, actor, appID, selected, approve, now)
		if err != nil {
			return err
		}

		for _, d := range staged {
			if err := st.Upsert(ctx, d.consent); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist batch decision")
			}
			if err := st.AppendApproval(ctx, d.approval); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record batch decision")
			}
			result.Approvals = append(result.Approvals, d.approval)
		}
		result.Transitioned = len(staged)

		consents, err := st.ListByApp(ctx, appID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents for rollup")
		}
		result.Datasets = s.transformer.ToGrouped(consents)

		statuses := make([]models.Status, 0, len(result.Datasets))
		for _, group := range result.Datasets {
			statuses = append(statuses, group.Status)
		}
		result.AppStatus = models.Rollup(statuses)
		return nil
	})
	if err != nil {
		return models.BatchResult{}, err
	}

	// Tokens are minted only after the batch is committed; issuance failures
	// are logged and never unwind the transitions.
	for i := range result.Datasets {
		group := &result.Datasets[i]
		if group.Status == models.StatusApproved {
			group.AccessToken = s.mintDatasetToken(ctx, appID, group.Dataset)
		}
	}

	outcome := "rejected"
	action := audit.ActionBatchRejected
	if approve {
		outcome = "approved"
		action = audit.ActionBatchApproved
	}
	if s.metrics != nil {
		s.metrics.IncrementBatchDecision(outcome)
	}
	s.emitAudit(ctx, audit.Event{
		ActorID:       actor.ID,
		Action:        action,
		ResourceType:  audit.ResourceApplication,
		ResourceID:    appID,
		ApproverGroup: models.ApproverGroupFor(actor.Role),
		Details: map[string]any{
			"batch":              s.batchRecord(actor, appID, vaultID, result),
			"application_status": string(result.AppStatus),
		},
	})
	return result, nil
}

// stageBatch validates every selection against current store state and
// prepares the transitions. Nothing is written here; the first failure
// aborts with the store untouched.
func (s *Service) stageBatch(ctx context.Context, st store.Store, actor models.Actor, appID string, selected []models.BatchSelection, approve bool, now time.Time) ([]stagedDecision, error) {
	staged := make([]stagedDecision, 0, len(selected))
	for _, sel := range selected {
		key := models.ConsentKey{AppID: appID, Dataset: sel.Dataset, Field: sel.Field}
		consent, err := st.Get(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeUnknownField, "no consent request for %s", key)
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
		}

		if approve {
			granted := sel.Actions()
			if err := consent.CanApprove(granted); err != nil {
				return nil, err
			}
			expiry := sel.Expiry
			if expiry.IsZero() {
				expiry = models.DefaultExpiry(now)
			} else {
				expiry = models.NormalizeExpiry(expiry)
			}
			consent.Purposes = normalizePurposes(sel.Purposes)
			consent.ApplyApproval(granted, expiry)
			staged = append(staged, stagedDecision{
				consent:  consent,
				approval: s.newApproval(actor, consent, granted, true, "", now),
			})
			continue
		}

		consent.ApplyRejection()
		staged = append(staged, stagedDecision{
			consent:  consent,
			approval: s.newApproval(actor, consent, nil, false, "", now),
		})
	}
	return staged, nil
}

// batchRecord flattens a committed batch into the payload shape downstream
// audit consumers expect.
func (s *Service) batchRecord(actor models.Actor, appID, vaultID string, result models.BatchResult) models.BatchRecord {
	record := models.BatchRecord{
		UserID:            actor.ID,
		AppID:             appID,
		VaultID:           vaultID,
		ApproverGroupName: models.ApproverGroupFor(actor.Role),
	}
	for _, a := range result.Approvals {
		status := string(models.StatusRejected)
		if a.Approved {
			status = string(models.StatusApproved)
		}
		var expiry string
		for _, group := range result.Datasets {
			if group.Dataset == a.Dataset && !group.Expiry.IsZero() {
				expiry = group.Expiry.Format(time.RFC3339)
			}
		}
		record.Consents = append(record.Consents, models.BatchConsentItem{
			FieldName:         a.Field,
			Purposes:          s.groupPurposes(result.Datasets, a.Dataset),
			Status:            status,
			ExpiryDate:        expiry,
			ApprovalStatus:    status,
			DatasetName:       a.Dataset,
			ApprovalThreshold: 1,
			AccessType:        a.Actions.Strings(),
		})
	}
	return record
}

func (s *Service) groupPurposes(groups []models.DatasetGroup, dataset string) []string {
	for _, g := range groups {
		if g.Dataset == dataset {
			return g.Purposes
		}
	}
	return nil
}
