// Package models defines the consent governance domain model.
//
// FieldConsent is the smallest unit of truth: one application's request for
// one field of one dataset. Everything coarser (dataset groups, application
// status) is derived on read and never stored.
package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// Action is a data-access verb an application may request on a field.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// ActionSet is an ordered, deduplicated set of actions. Order is preserved so
// serialized views are stable.
type ActionSet []Action

// ParseActions builds an ActionSet from wire strings, rejecting unknown verbs.
func ParseActions(values []string) (ActionSet, error) {
	set := make(ActionSet, 0, len(values))
	for _, v := range values {
		switch Action(strings.TrimSpace(v)) {
		case ActionRead:
			set = set.with(ActionRead)
		case ActionWrite:
			set = set.with(ActionWrite)
		default:
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown action %q", v)
		}
	}
	return set, nil
}

func (s ActionSet) with(a Action) ActionSet {
	if s.Contains(a) {
		return s
	}
	return append(s, a)
}

func (s ActionSet) Contains(a Action) bool {
	for _, v := range s {
		if v == a {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every action in s is present in other.
func (s ActionSet) SubsetOf(other ActionSet) bool {
	for _, a := range s {
		if !other.Contains(a) {
			return false
		}
	}
	return true
}

func (s ActionSet) Empty() bool { return len(s) == 0 }

// Strings returns the wire representation.
func (s ActionSet) Strings() []string {
	out := make([]string, len(s))
	for i, a := range s {
		out[i] = string(a)
	}
	return out
}

// Clone returns an independent copy.
func (s ActionSet) Clone() ActionSet {
	if s == nil {
		return nil
	}
	return append(ActionSet{}, s...)
}

// Status is the review state of a consent record.
//
// The wire token for the pending state is "requested"; upstream systems that
// say "pending" are mapped during ingestion.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// ParseExternalStatus maps the external tri-state vocabulary onto this model.
func ParseExternalStatus(value string) (Status, error) {
	switch value {
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	case "pending", "requested":
		return StatusRequested, nil
	default:
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown status %q", value)
	}
}

// Rollup computes the derived status of a set of member statuses.
//
// Reject dominates: a single rejected member forces the whole set rejected
// even when every other member is approved. Partial approval never upgrades
// past requested until every member is approved.
func Rollup(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusRequested
	}
	allApproved := true
	for _, st := range statuses {
		if st == StatusRejected {
			return StatusRejected
		}
		if st != StatusApproved {
			allApproved = false
		}
	}
	if allApproved {
		return StatusApproved
	}
	return StatusRequested
}

// ConsentKey is the composite identity of a field-level consent fact.
type ConsentKey struct {
	AppID   string
	Dataset string
	Field   string
}

func (k ConsentKey) String() string {
	return k.AppID + "/" + k.Dataset + "/" + k.Field
}

// FieldConsent is the authoritative field-level consent fact.
//
// Invariants:
//   - Granted ⊆ Requested
//   - Status == approved  ⇒ Granted is non-empty
//   - Status == rejected  ⇒ Granted is empty
type FieldConsent struct {
	AppID     string    `json:"app_id"`
	Dataset   string    `json:"dataset_name"`
	Field     string    `json:"field_name"`
	Requested ActionSet `json:"requested_actions"`
	Granted   ActionSet `json:"granted_actions"`
	Status    Status    `json:"status"`
	Purposes  []string  `json:"purposes"`
	Expiry    time.Time `json:"expiry_date"`
}

func (c FieldConsent) Key() ConsentKey {
	return ConsentKey{AppID: c.AppID, Dataset: c.Dataset, Field: c.Field}
}

// Validate checks the structural invariants. Stores call this before writing
// so a broken record can never reach persistence.
func (c FieldConsent) Validate() error {
	if c.AppID == "" || c.Dataset == "" || c.Field == "" {
		return dErrors.New(dErrors.CodeValidation, "consent identity requires app, dataset and field")
	}
	if c.Requested.Empty() {
		return dErrors.Newf(dErrors.CodeValidation, "%s: requested actions must not be empty", c.Key())
	}
	if !c.Granted.SubsetOf(c.Requested) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "%s: granted actions exceed requested", c.Key())
	}
	switch c.Status {
	case StatusApproved:
		if c.Granted.Empty() {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "%s: approved consent must grant at least one action", c.Key())
		}
	case StatusRejected:
		if !c.Granted.Empty() {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "%s: rejected consent must grant nothing", c.Key())
		}
	case StatusRequested:
	default:
		return dErrors.Newf(dErrors.CodeValidation, "%s: unknown status %q", c.Key(), c.Status)
	}
	return nil
}

// CanApprove checks whether the given grant is a legal approval for this
// record. Returns CodeInvalidActions when the grant is empty or exceeds what
// the application asked for.
func (c FieldConsent) CanApprove(granted ActionSet) error {
	if granted.Empty() {
		return dErrors.Newf(dErrors.CodeInvalidActions, "%s: granted actions must not be empty", c.Key())
	}
	if !granted.SubsetOf(c.Requested) {
		return dErrors.Newf(dErrors.CodeInvalidActions, "%s: granted actions exceed requested %v", c.Key(), c.Requested.Strings())
	}
	return nil
}

// ApplyApproval transitions the record to approved. Call CanApprove first;
// this method assumes the grant is legal.
func (c *FieldConsent) ApplyApproval(granted ActionSet, expiry time.Time) {
	c.Status = StatusApproved
	c.Granted = granted.Clone()
	if !expiry.IsZero() {
		c.Expiry = expiry
	}
}

// ApplyRejection transitions the record to rejected and clears the grant.
func (c *FieldConsent) ApplyRejection() {
	c.Status = StatusRejected
	c.Granted = nil
}

// FieldSummary is the per-field projection carried by a DatasetGroup.
type FieldSummary struct {
	Field     string    `json:"field_name"`
	Requested ActionSet `json:"requested_actions"`
	Status    Status    `json:"status"`
}

// DatasetGroup is the derived grouped view of consents for one
// (application, dataset) pair. It has no independent storage; it is recomputed
// on every read from the current FieldConsent rows.
type DatasetGroup struct {
	GroupID     string         `json:"group_id"`
	AppID       string         `json:"app_id"`
	Dataset     string         `json:"dataset_name"`
	Fields      []FieldSummary `json:"fields"`
	Purposes    []string       `json:"purposes"`
	Status      Status         `json:"status"`
	Expiry      time.Time      `json:"expiry_date"`
	AccessToken string         `json:"access_token,omitempty"`
}

// GroupIDFor derives the stable group key for an (application, dataset) pair.
func GroupIDFor(appID, dataset string) string {
	return fmt.Sprintf("%s:%s", appID, dataset)
}

// Approval is the immutable audit record of a single review decision.
// Append-only: re-reviews create new records, history is never rewritten.
type Approval struct {
	ID            string    `json:"id"`
	AppID         string    `json:"app_id"`
	Dataset       string    `json:"dataset_name"`
	Field         string    `json:"field_name"`
	Actions       ActionSet `json:"actions"`
	Approved      bool      `json:"approved"`
	ApprovedBy    string    `json:"approved_by"`
	ApproverGroup string    `json:"approver_group"`
	ApprovedAt    time.Time `json:"approved_at"`
	Reason        string    `json:"reason,omitempty"`
}

// DefaultPurposes are assigned to batch approvals when the caller supplies none.
var DefaultPurposes = []string{"verification", "analysis"}

// NormalizeExpiry pins an expiry to end-of-day UTC. Approvals granted at any
// time of day expire at 23:59:59Z of the expiry date.
func NormalizeExpiry(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// DefaultExpiry is one year after the approval instant, normalized to
// end-of-day UTC.
func DefaultExpiry(now time.Time) time.Time {
	return NormalizeExpiry(now.UTC().AddDate(1, 0, 0))
}
