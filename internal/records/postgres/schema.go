package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// NotifyChannel is the LISTEN/NOTIFY channel the records trigger publishes on.
const NotifyChannel = "records_changes"

// imageLimit bounds each record image carried in a notification. NOTIFY
// payloads are limited to 8000 bytes; larger images are omitted and re-read.
const imageLimit = "3800"

// migrationLockKey serializes concurrent migrations across processes.
const migrationLockKey = 0x63657274

var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS records_status_idx ON records (collection, (fields->>'status'))`,
	`CREATE INDEX IF NOT EXISTS records_role_idx ON records (collection, (fields->>'role'))`,
	`CREATE OR REPLACE FUNCTION records_notify() RETURNS trigger AS $$
	DECLARE
		before JSONB;
		after  JSONB;
	BEGIN
		IF TG_OP <> 'INSERT' AND octet_length(OLD.fields::text) < ` + imageLimit + ` THEN
			before := OLD.fields;
		END IF;
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
				'op', 'removed', 'collection', OLD.collection, 'id', OLD.id, 'before', before)::text);
			RETURN OLD;
		END IF;
		IF octet_length(NEW.fields::text) < ` + imageLimit + ` THEN
			after := NEW.fields;
		END IF;
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
			'op', CASE WHEN TG_OP = 'INSERT' THEN 'added' ELSE 'modified' END,
			'collection', NEW.collection, 'id', NEW.id, 'before', before,
			'after', after, 'updatedAt', NEW.updated_at)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS records_notify ON records`,
	`CREATE TRIGGER records_notify AFTER INSERT OR UPDATE OR DELETE ON records
		FOR EACH ROW EXECUTE FUNCTION records_notify()`,
}

// Migrate creates or updates the schema. Concurrent callers are serialized by
// a transaction-scoped advisory lock; the lease lock records live in the table
// this creates, so they cannot guard it.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock migration: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
