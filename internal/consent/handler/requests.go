package handler

import (
	"time"

	"custodia/internal/consent/models"
)

// ApproveFieldRequest is the body of a single-field approval.
type ApproveFieldRequest struct {
	Actions []string  `json:"actions"`
	Expiry  time.Time `json:"expiry_date,omitzero"`
}

// RejectFieldRequest is the body of a single-field rejection.
type RejectFieldRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BatchRequest is the body of a batch approve or reject.
type BatchRequest struct {
	VaultID    string                  `json:"vault_id,omitempty"`
	Selections []models.BatchSelection `json:"consents"`
}

// RegisterRequest files an application's access requests.
type RegisterRequest struct {
	VaultID  string                  `json:"vault_id"`
	Datasets []models.DatasetRequest `json:"data_sets"`
}

// ImportRequest carries the canonical external payload.
type ImportRequest struct {
	Applications []models.ApplicationPayload `json:"applications"`
}
