package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	t.Run("removes duplicates and empties preserving order", func(t *testing.T) {
		got := DedupeAndTrim([]string{"  verification ", "analysis", "verification", "", "  "})
		assert.Equal(t, []string{"verification", "analysis"}, got)
	})

	t.Run("nil input stays nil", func(t *testing.T) {
		assert.Nil(t, DedupeAndTrim(nil))
	})
}

func TestDedupeAndTrimLower(t *testing.T) {
	got := DedupeAndTrimLower([]string{"  Customers ", "customers", "Orders"})
	assert.Equal(t, []string{"customers", "orders"}, got)
}
