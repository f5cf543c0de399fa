package postgres

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"certrepo/internal/records"
)

func TestBuildWhere(t *testing.T) {
	t.Run("zero filter scopes to the collection", func(t *testing.T) {
		where, args := buildWhere(records.CollectionUsers, records.All)
		assert.Equal(t, "collection = $1", where)
		assert.Equal(t, []any{"users"}, args)
	})

	t.Run("conditions are numbered in order", func(t *testing.T) {
		where, args := buildWhere(records.CollectionUsers,
			records.Where("role", records.OpEq, "administrator").And("status", records.OpNe, "inactive"))
		assert.Equal(t, "collection = $1 AND fields->>$2 = $3 AND (fields->>$4 IS NULL OR fields->>$4 <> $5)", where)
		assert.Equal(t, []any{"users", "role", "administrator", "status", "inactive"}, args)
	})

	t.Run("in operator binds a text array", func(t *testing.T) {
		where, args := buildWhere(records.CollectionTemplates,
			records.Where("status", records.OpIn, []string{"pending_review", "client_approved"}))
		assert.Equal(t, "collection = $1 AND fields->>$2 = ANY($3::text[])", where)
		assert.Equal(t, pq.Array([]string{"pending_review", "client_approved"}), args[2])
	})

	t.Run("non-string values compare by text", func(t *testing.T) {
		_, args := buildWhere(records.CollectionNotifications, records.Where("read", records.OpEq, false))
		assert.Equal(t, "false", args[2])
	})

	t.Run("exists and missing", func(t *testing.T) {
		where, _ := buildWhere(records.CollectionCertificates,
			records.Where("recipientId", records.OpExists, true).And("revokedAt", records.OpExists, false))
		assert.Equal(t, "collection = $1 AND fields->>$2 IS NOT NULL AND NOT (fields->>$3 IS NOT NULL)", where)
	})

	t.Run("unknown operator matches nothing", func(t *testing.T) {
		where, _ := buildWhere(records.CollectionUsers, records.Where("role", records.Op("like"), "x"))
		assert.Equal(t, "collection = $1 AND FALSE", where)
	})
}
