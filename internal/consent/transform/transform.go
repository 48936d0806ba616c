// Package transform maps between the flat field-level consent representation
// and the grouped-by-(application, dataset) view, and ingests the externally
// shaped nested payload into the same canonical model.
//
// All transformations are pure projections: the consent store remains the
// single source of truth and nothing produced here is ever written back as
// authoritative state.
package transform

import (
	"log/slog"

	"custodia/internal/consent/models"
	dErrors "custodia/pkg/domain-errors"
	pstrings "custodia/pkg/platform/strings"
)

// Transformer projects consent records between representations.
type Transformer struct {
	logger *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger used to report data-quality conditions.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transformer) {
		t.logger = logger
	}
}

func New(opts ...Option) *Transformer {
	t := &Transformer{logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ToGrouped partitions flat records by (application, dataset), preserving
// first-seen order for both groups and fields. Purposes are unioned with
// first-seen order; group status follows the rollup rule.
//
// All fields of a group share one expiry in practice; divergence is a
// data-quality condition that is logged and resolved to the maximum observed
// expiry, never silently dropped.
func (t *Transformer) ToGrouped(consents []models.FieldConsent) []models.DatasetGroup {
	var (
		order  []string
		groups = make(map[string]*models.DatasetGroup)
	)
	for _, c := range consents {
		gid := models.GroupIDFor(c.AppID, c.Dataset)
		g, ok := groups[gid]
		if !ok {
			g = &models.DatasetGroup{
				GroupID: gid,
				AppID:   c.AppID,
				Dataset: c.Dataset,
				Expiry:  c.Expiry,
			}
			groups[gid] = g
			order = append(order, gid)
		}
		g.Fields = append(g.Fields, models.FieldSummary{
			Field:     c.Field,
			Requested: c.Requested.Clone(),
			Status:    c.Status,
		})
		g.Purposes = append(g.Purposes, c.Purposes...)
		if !c.Expiry.Equal(g.Expiry) {
			t.logger.Warn("expiry divergence within consent group",
				"group_id", gid,
				"field", c.Field,
				"group_expiry", g.Expiry,
				"field_expiry", c.Expiry,
			)
			if c.Expiry.After(g.Expiry) {
				g.Expiry = c.Expiry
			}
		}
	}

	out := make([]models.DatasetGroup, 0, len(order))
	for _, gid := range order {
		g := groups[gid]
		g.Purposes = pstrings.DedupeAndTrim(g.Purposes)
		g.Status = models.Rollup(fieldStatuses(g.Fields))
		out = append(out, *g)
	}
	return out
}

// FromGrouped expands groups back into individual FieldConsent rows,
// attaching the group's purposes and expiry to every field. This expansion is
// for read/API views only; the expanded rows must never be written back as
// authoritative status.
func (t *Transformer) FromGrouped(groups []models.DatasetGroup) []models.FieldConsent {
	var out []models.FieldConsent
	for _, g := range groups {
		for _, f := range g.Fields {
			status := f.Status
			if status == "" {
				status = g.Status
			}
			c := models.FieldConsent{
				AppID:     g.AppID,
				Dataset:   g.Dataset,
				Field:     f.Field,
				Requested: f.Requested.Clone(),
				Status:    status,
				Purposes:  append([]string(nil), g.Purposes...),
				Expiry:    g.Expiry,
			}
			if status == models.StatusApproved {
				// Read-view approximation: the authoritative grant lives in
				// the store, not in the grouped projection.
				c.Granted = f.Requested.Clone()
			}
			out = append(out, c)
		}
	}
	return out
}

// ParseExternalPayload ingests the externally shaped nested payload
// (applications → datasets → fields, one status per application) into the
// canonical grouped model. The external "pending" status maps to this model's
// "requested" token.
//
// The parse is all-or-nothing: a malformed entry fails the whole input with a
// validation error naming the offending application/dataset index.
func (t *Transformer) ParseExternalPayload(apps []models.ApplicationPayload) ([]models.DatasetGroup, error) {
	var out []models.DatasetGroup
	for i, app := range apps {
		appID := app.AppID
		if appID == "" {
			return nil, dErrors.Newf(dErrors.CodeValidation, "application[%d]: missing app_id", i)
		}
		status, err := models.ParseExternalStatus(app.Status)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation,
				"application["+appID+"]: invalid status")
		}
		for j, ds := range app.DataSets {
			if ds.Name == "" {
				return nil, dErrors.Newf(dErrors.CodeValidation,
					"application[%d] dataset[%d]: missing name", i, j)
			}
			if len(ds.Fields) == 0 {
				return nil, dErrors.Newf(dErrors.CodeValidation,
					"application[%d] dataset[%q]: empty field list", i, ds.Name)
			}
			gid := app.ID
			if gid == "" {
				gid = models.GroupIDFor(appID, ds.Name)
			}
			g := models.DatasetGroup{
				GroupID:     gid,
				AppID:       appID,
				Dataset:     ds.Name,
				Purposes:    pstrings.DedupeAndTrim(ds.Purpose),
				Status:      status,
				Expiry:      ds.ExpiryDate,
				AccessToken: app.AccessToken,
			}
			for k, f := range ds.Fields {
				if f.Name == "" {
					return nil, dErrors.Newf(dErrors.CodeValidation,
						"application[%d] dataset[%q] field[%d]: missing name", i, ds.Name, k)
				}
				actions, err := models.ParseActions(f.Actions)
				if err != nil {
					return nil, dErrors.Wrap(err, dErrors.CodeValidation,
						"application["+appID+"] dataset["+ds.Name+"] field["+f.Name+"]: invalid actions")
				}
				g.Fields = append(g.Fields, models.FieldSummary{
					Field:     f.Name,
					Requested: actions,
					Status:    status,
				})
			}
			out = append(out, g)
		}
	}
	return out, nil
}

func fieldStatuses(fields []models.FieldSummary) []models.Status {
	statuses := make([]models.Status, len(fields))
	for i, f := range fields {
		statuses[i] = f.Status
	}
	return statuses
}
