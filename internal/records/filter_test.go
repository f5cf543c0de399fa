package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatch(t *testing.T) {
	fields := map[string]any{"status": "active", "count": float64(3), "verifierId": nil}

	assert.True(t, Where("status", OpEq, "active").Match(fields))
	assert.True(t, Where("count", OpEq, 3).Match(fields))
	assert.False(t, Where("status", OpNe, "active").Match(fields))
	assert.True(t, Where("missing", OpNe, "x").Match(fields))
	assert.False(t, Where("missing", OpEq, "").Match(fields))
	assert.True(t, Where("verifierId", OpExists, false).Match(fields))
	assert.True(t, Where("status", OpExists, true).Match(fields))
	assert.False(t, Where("status", OpIn, []string{"pending", "suspended"}).Match(fields))
}

func TestClassify(t *testing.T) {
	filter := Where("status", OpEq, "pending_review")
	pending := Record{ID: "t1", Fields: map[string]any{"status": "pending_review"}}
	draft := Record{ID: "t1", Fields: map[string]any{"status": "draft"}}

	t.Run("entering the filter", func(t *testing.T) {
		c, ok := Classify(Change{Type: ChangeModified, Record: pending, Before: &draft}, filter)
		assert.True(t, ok)
		assert.Equal(t, ChangeAdded, c.Type)
	})

	t.Run("leaving the filter", func(t *testing.T) {
		c, ok := Classify(Change{Type: ChangeModified, Record: draft, Before: &pending}, filter)
		assert.True(t, ok)
		assert.Equal(t, ChangeRemoved, c.Type)
		assert.Equal(t, "pending_review", c.Record.String("status"), "removed carries the last matching state")
	})

	t.Run("unknown before keeps raw type", func(t *testing.T) {
		c, ok := Classify(Change{Type: ChangeModified, Record: pending}, filter)
		assert.True(t, ok)
		assert.Equal(t, ChangeModified, c.Type)
	})

	t.Run("never matching is dropped", func(t *testing.T) {
		_, ok := Classify(Change{Type: ChangeAdded, Record: draft}, filter)
		assert.False(t, ok)
	})
}
