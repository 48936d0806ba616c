package models

import "time"

// BatchSelection is one caller-selected field inside a batch decision.
// Entries arrive from the governance console with an explicit selected flag;
// unselected entries are filtered out before any validation.
type BatchSelection struct {
	Dataset     string   `json:"dataset_name"`
	Field       string   `json:"field_name"`
	Selected    bool     `json:"selected"`
	ReadAccess  bool     `json:"read_access"`
	WriteAccess bool     `json:"write_access"`
	Purposes    []string `json:"purposes,omitempty"`
	// Expiry overrides the default one-year expiry when non-zero.
	Expiry time.Time `json:"expiry_date,omitzero"`
}

// Actions converts the read/write flags into an ActionSet.
func (s BatchSelection) Actions() ActionSet {
	var set ActionSet
	if s.ReadAccess {
		set = append(set, ActionRead)
	}
	if s.WriteAccess {
		set = append(set, ActionWrite)
	}
	return set
}

// BatchResult reports the outcome of a committed batch decision.
type BatchResult struct {
	Transitioned int            `json:"transitioned"`
	Datasets     []DatasetGroup `json:"datasets"`
	AppStatus    Status         `json:"application_status"`
	Approvals    []Approval     `json:"approvals"`
}

// BatchRecord is the serialized form of a committed batch, recorded with the
// batch audit event so downstream systems receive the exact shape they expect.
type BatchRecord struct {
	UserID            string             `json:"user_id"`
	AppID             string             `json:"app_id"`
	VaultID           string             `json:"vault_id"`
	ApproverGroupName string             `json:"approver_group_name"`
	Consents          []BatchConsentItem `json:"consents"`
}

// BatchConsentItem is one field entry inside a BatchRecord.
type BatchConsentItem struct {
	FieldName         string   `json:"field_name"`
	Purposes          []string `json:"purposes"`
	Status            string   `json:"status"`
	ExpiryDate        string   `json:"expiry_date"`
	ApprovalStatus    string   `json:"approval_status"`
	DatasetName       string   `json:"dataset_name"`
	ApprovalThreshold int      `json:"approval_threshold"`
	AccessType        []string `json:"access_type"`
}

// FieldRequest is one requested field inside a registration.
type FieldRequest struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

// DatasetRequest registers an application's access requests against one
// dataset. All fields inherit the dataset-level expiry and purposes.
type DatasetRequest struct {
	Dataset  string         `json:"dataset_name"`
	Fields   []FieldRequest `json:"fields"`
	Purposes []string       `json:"purposes"`
	Expiry   time.Time      `json:"expiry_date"`
}

// External payload shapes, as produced by upstream systems that do not share
// this model's vocabulary. Consumed by transform.ParseExternalPayload only.

// ApplicationPayload is one application entry of the canonical external shape.
type ApplicationPayload struct {
	ID          string           `json:"id"`
	AppID       string           `json:"app_id"`
	Name        string           `json:"name"`
	UserID      string           `json:"user_id"`
	Status      string           `json:"status"`
	DataSets    []DatasetPayload `json:"data_sets"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	VaultID     string           `json:"vault_id"`
	AccessToken string           `json:"access_token"`
}

// DatasetPayload is one nested dataset of an ApplicationPayload.
type DatasetPayload struct {
	Name       string         `json:"name"`
	Fields     []FieldPayload `json:"fields"`
	Purpose    []string       `json:"purpose"`
	ExpiryDate time.Time      `json:"expiry_date"`
}

// FieldPayload is one nested field of a DatasetPayload.
type FieldPayload struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}
