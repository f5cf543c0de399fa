package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	t.Run("same parts give same id", func(t *testing.T) {
		assert.Equal(t, Derive("a", "b"), Derive("a", "b"))
	})

	t.Run("part boundaries matter", func(t *testing.T) {
		assert.NotEqual(t, Derive("ab", "c"), Derive("a", "bc"))
	})

	t.Run("result is a uuid", func(t *testing.T) {
		_, err := uuid.Parse(Derive("x"))
		require.NoError(t, err)
	})
}

func TestForEmail(t *testing.T) {
	assert.Equal(t, ForEmail("X@Y.com"), ForEmail("  x@y.com "))
	assert.NotEqual(t, ForEmail("x@y.com"), ForEmail("z@y.com"))
}
