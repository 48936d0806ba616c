// Package audit captures governance decisions as append-only events.
//
// The consent core emits one event per field transition and one summary event
// per batch. Emission is fire-and-forget from the state machine's point of
// view: sink failures are logged and never roll back a committed transition,
// so sinks must tolerate duplicate delivery.
package audit

import "time"

// Event is emitted from domain logic to capture audit-worthy actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	ApproverGroup string         `json:"approver_group,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Actions emitted by the consent core.
const (
	ActionFieldApproved = "consent.field.approved"
	ActionFieldRejected = "consent.field.rejected"
	ActionBatchApproved = "consent.batch.approved"
	ActionBatchRejected = "consent.batch.rejected"
	ActionTokenIssued   = "credential.dataset_token.issued"
	ActionTokenRotated  = "credential.app_token.rotated"
	ActionRequestsFiled = "consent.requests.registered"
)

// Resource types referenced by events.
const (
	ResourceField       = "consent_field"
	ResourceApplication = "application"
	ResourceDataset     = "dataset"
)
