// Package store persists field-level consent facts and their approval history.
//
// Stores are interface-driven so the governance core can run against the
// in-memory reference implementation in tests and PostgreSQL in production
// without rewiring business code. Stores return infrastructure sentinels; the
// service layer translates them into domain errors.
package store

import (
	"context"

	"custodia/internal/consent/models"
)

// Store is the authoritative collection of FieldConsent rows and the
// append-only Approval history. It exclusively owns both; the grouping
// transformer only reads and projects.
type Store interface {
	// Get returns the consent for a composite key, or sentinel.ErrNotFound.
	Get(ctx context.Context, key models.ConsentKey) (models.FieldConsent, error)
	// ListByApp returns all consents for an application in insertion order.
	ListByApp(ctx context.Context, appID string) ([]models.FieldConsent, error)
	// Upsert writes a consent row keyed by its composite identity.
	Upsert(ctx context.Context, consent models.FieldConsent) error
	// AppendApproval records a review decision. Approval history is
	// append-only; re-reviews add records, nothing is rewritten.
	AppendApproval(ctx context.Context, approval models.Approval) error
	// ListApprovals returns the approval history for an application,
	// oldest first.
	ListApprovals(ctx context.Context, appID string) ([]models.Approval, error)
}
