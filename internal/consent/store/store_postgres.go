package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custodia/internal/consent/models"
	"custodia/pkg/platform/sentinel"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same store code can
// run standalone or inside a transaction opened by the service tx adapter.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres persists consents in PostgreSQL. Action sets and purpose lists are
// stored as jsonb so ordering survives round-trips.
type Postgres struct {
	q querier
}

// NewPostgres constructs a store over a database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{q: db}
}

// NewPostgresTx constructs a store bound to an open transaction.
func NewPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{q: tx}
}

// Schema creates the tables this store expects. Exposed for integration
// tests and dev bootstrap; production migrations live outside this core.
const Schema = `
CREATE TABLE IF NOT EXISTS field_consents (
    app_id        TEXT        NOT NULL,
    dataset_name  TEXT        NOT NULL,
    field_name    TEXT        NOT NULL,
    requested     JSONB       NOT NULL,
    granted       JSONB       NOT NULL,
    status        TEXT        NOT NULL,
    purposes      JSONB       NOT NULL,
    expiry        TIMESTAMPTZ NOT NULL,
    inserted_seq  BIGSERIAL,
    PRIMARY KEY (app_id, dataset_name, field_name)
);
CREATE TABLE IF NOT EXISTS consent_approvals (
    id             TEXT        PRIMARY KEY,
    app_id         TEXT        NOT NULL,
    dataset_name   TEXT        NOT NULL,
    field_name     TEXT        NOT NULL,
    actions        JSONB       NOT NULL,
    approved       BOOLEAN     NOT NULL,
    approved_by    TEXT        NOT NULL,
    approver_group TEXT        NOT NULL,
    approved_at    TIMESTAMPTZ NOT NULL,
    reason         TEXT        NOT NULL DEFAULT '',
    inserted_seq   BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_consent_approvals_app ON consent_approvals (app_id, inserted_seq);
`

func (s *Postgres) Get(ctx context.Context, key models.ConsentKey) (models.FieldConsent, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT app_id, dataset_name, field_name, requested, granted, status, purposes, expiry
		FROM field_consents
		WHERE app_id = $1 AND dataset_name = $2 AND field_name = $3`,
		key.AppID, key.Dataset, key.Field)
	consent, err := scanConsent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FieldConsent{}, sentinel.ErrNotFound
		}
		return models.FieldConsent{}, fmt.Errorf("get consent %s: %w", key, err)
	}
	return consent, nil
}

func (s *Postgres) ListByApp(ctx context.Context, appID string) ([]models.FieldConsent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT app_id, dataset_name, field_name, requested, granted, status, purposes, expiry
		FROM field_consents
		WHERE app_id = $1
		ORDER BY inserted_seq`, appID)
	if err != nil {
		return nil, fmt.Errorf("list consents for %s: %w", appID, err)
	}
	defer rows.Close()

	var out []models.FieldConsent
	for rows.Next() {
		consent, err := scanConsent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan consent row: %w", err)
		}
		out = append(out, consent)
	}
	return out, rows.Err()
}

func (s *Postgres) Upsert(ctx context.Context, consent models.FieldConsent) error {
	if err := consent.Validate(); err != nil {
		return err
	}
	requested, err := json.Marshal(consent.Requested.Strings())
	if err != nil {
		return fmt.Errorf("encode requested actions: %w", err)
	}
	granted, err := json.Marshal(consent.Granted.Strings())
	if err != nil {
		return fmt.Errorf("encode granted actions: %w", err)
	}
	purposes, err := json.Marshal(consent.Purposes)
	if err != nil {
		return fmt.Errorf("encode purposes: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO field_consents (app_id, dataset_name, field_name, requested, granted, status, purposes, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (app_id, dataset_name, field_name) DO UPDATE SET
			requested = EXCLUDED.requested,
			granted   = EXCLUDED.granted,
			status    = EXCLUDED.status,
			purposes  = EXCLUDED.purposes,
			expiry    = EXCLUDED.expiry`,
		consent.AppID, consent.Dataset, consent.Field,
		requested, granted, string(consent.Status), purposes, consent.Expiry)
	if err != nil {
		return fmt.Errorf("upsert consent %s: %w", consent.Key(), err)
	}
	return nil
}

func (s *Postgres) AppendApproval(ctx context.Context, approval models.Approval) error {
	actions, err := json.Marshal(approval.Actions.Strings())
	if err != nil {
		return fmt.Errorf("encode approval actions: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO consent_approvals (id, app_id, dataset_name, field_name, actions, approved, approved_by, approver_group, approved_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		approval.ID, approval.AppID, approval.Dataset, approval.Field,
		actions, approval.Approved, approval.ApprovedBy, approval.ApproverGroup,
		approval.ApprovedAt, approval.Reason)
	if err != nil {
		return fmt.Errorf("append approval %s: %w", approval.ID, err)
	}
	return nil
}

func (s *Postgres) ListApprovals(ctx context.Context, appID string) ([]models.Approval, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, app_id, dataset_name, field_name, actions, approved, approved_by, approver_group, approved_at, reason
		FROM consent_approvals
		WHERE app_id = $1
		ORDER BY inserted_seq`, appID)
	if err != nil {
		return nil, fmt.Errorf("list approvals for %s: %w", appID, err)
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var (
			a          models.Approval
			actionsRaw []byte
			approvedAt time.Time
		)
		if err := rows.Scan(&a.ID, &a.AppID, &a.Dataset, &a.Field, &actionsRaw,
			&a.Approved, &a.ApprovedBy, &a.ApproverGroup, &approvedAt, &a.Reason); err != nil {
			return nil, fmt.Errorf("scan approval row: %w", err)
		}
		var actions []string
		if err := json.Unmarshal(actionsRaw, &actions); err != nil {
			return nil, fmt.Errorf("decode approval actions: %w", err)
		}
		a.Actions, err = models.ParseActions(actions)
		if err != nil {
			return nil, err
		}
		a.ApprovedAt = approvedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanConsent(scan func(dest ...any) error) (models.FieldConsent, error) {
	var (
		c            models.FieldConsent
		requestedRaw []byte
		grantedRaw   []byte
		purposesRaw  []byte
		status       string
		expiry       time.Time
	)
	if err := scan(&c.AppID, &c.Dataset, &c.Field, &requestedRaw, &grantedRaw, &status, &purposesRaw, &expiry); err != nil {
		return models.FieldConsent{}, err
	}
	var requested, granted []string
	if err := json.Unmarshal(requestedRaw, &requested); err != nil {
		return models.FieldConsent{}, fmt.Errorf("decode requested actions: %w", err)
	}
	if err := json.Unmarshal(grantedRaw, &granted); err != nil {
		return models.FieldConsent{}, fmt.Errorf("decode granted actions: %w", err)
	}
	if err := json.Unmarshal(purposesRaw, &c.Purposes); err != nil {
		return models.FieldConsent{}, fmt.Errorf("decode purposes: %w", err)
	}
	var err error
	if c.Requested, err = models.ParseActions(requested); err != nil {
		return models.FieldConsent{}, err
	}
	if c.Granted, err = models.ParseActions(granted); err != nil {
		return models.FieldConsent{}, err
	}
	c.Status = models.Status(status)
	c.Expiry = expiry.UTC()
	return c, nil
}
