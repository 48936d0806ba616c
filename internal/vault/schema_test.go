package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]map[string][]Field{
		"vault-1": {
			"customers": {{Name: "email", Sensitivity: "high"}, {Name: "name"}},
		},
	})
	ctx := context.Background()

	t.Run("lists fields of a known table", func(t *testing.T) {
		fields, err := p.ListFields(ctx, "vault-1", "customers")
		require.NoError(t, err)
		require.Len(t, fields, 2)
		assert.Equal(t, "email", fields[0].Name)
	})

	t.Run("unknown vault", func(t *testing.T) {
		_, err := p.ListFields(ctx, "vault-9", "customers")
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := p.ListFields(ctx, "vault-1", "orders")
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
	})
}
