// Package vault exposes the vault schema as a read-only capability.
//
// Schema management itself lives outside this core; registration only needs
// to know which tables and fields a vault offers so applications cannot file
// requests against fields that do not exist.
package vault

import (
	"context"

	dErrors "custodia/pkg/domain-errors"
)

// Field describes one requestable field of a vault table.
type Field struct {
	Name        string `json:"name"`
	Sensitivity string `json:"sensitivity,omitempty"`
}

// SchemaProvider supplies, per vault, the tables and fields an application
// may request against. Consumed read-only at registration time.
type SchemaProvider interface {
	// ListFields returns the fields of a vault table, or CodeNotFound when
	// the vault or table is unknown.
	ListFields(ctx context.Context, vaultID, table string) ([]Field, error)
}

// StaticProvider is an in-memory SchemaProvider for tests and development.
type StaticProvider struct {
	vaults map[string]map[string][]Field
}

// NewStaticProvider builds a provider from a vault → table → fields map.
func NewStaticProvider(vaults map[string]map[string][]Field) *StaticProvider {
	return &StaticProvider{vaults: vaults}
}

func (p *StaticProvider) ListFields(_ context.Context, vaultID, table string) ([]Field, error) {
	tables, ok := p.vaults[vaultID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown vault %q", vaultID)
	}
	fields, ok := tables[table]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "vault %q has no table %q", vaultID, table)
	}
	return append([]Field(nil), fields...), nil
}
