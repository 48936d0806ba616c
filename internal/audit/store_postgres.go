package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists audit events in PostgreSQL. Details are stored as
// jsonb; events are insert-only.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens an audit store over an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects via the lib/pq driver. Used when the audit sink runs
// against a different database than the consent store.
func OpenPostgres(url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Schema creates the table this store expects. Exposed for integration tests
// and dev bootstrap.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id             BIGSERIAL   PRIMARY KEY,
    occurred_at    TIMESTAMPTZ NOT NULL,
    actor_id       TEXT        NOT NULL,
    action         TEXT        NOT NULL,
    resource_type  TEXT        NOT NULL,
    resource_id    TEXT        NOT NULL,
    approver_group TEXT        NOT NULL DEFAULT '',
    details        JSONB       NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events (resource_type, resource_id, id);
`

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (occurred_at, actor_id, action, resource_type, resource_id, approver_group, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Timestamp, event.ActorID, event.Action,
		event.ResourceType, event.ResourceID, event.ApproverGroup, details)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, actor_id, action, resource_type, resource_id, approver_group, details
		FROM audit_events
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY id`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e          Event
			detailsRaw []byte
		)
		if err := rows.Scan(&e.Timestamp, &e.ActorID, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.ApproverGroup, &detailsRaw); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal(detailsRaw, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }
