// Package records defines the record-store port the workflow engine runs on:
// typed collections of JSON-like records with point reads, filtered queries,
// atomic batches, transactions and a per-collection change feed.
//
// The in-memory implementation in this package backs unit tests and
// single-process deployments; see records/postgres and records/kafkafeed for
// the durable store and the external change feed.
package records

import (
	"context"
	"time"
)

// Collection names shared by every component.
const (
	CollectionUsers             = "users"
	CollectionTemplates         = "templates"
	CollectionDocuments         = "documents"
	CollectionCertificates      = "certificates"
	CollectionNotifications     = "notifications"
	CollectionInteractions      = "interactions"
	CollectionValidationReports = "validation_reports"
	CollectionLocks             = "locks"
)

// Record is one stored entity. Fields hold JSON-compatible values only.
type Record struct {
	ID        string
	Fields    map[string]any
	UpdatedAt time.Time
}

// Mode selects how a Mutation is applied.
type Mode string

const (
	// ModeMerge creates the record or merges Fields into the existing one.
	ModeMerge Mode = "merge"
	// ModeCreate inserts the record only when the id is free. An existing
	// record is left untouched and no error is returned.
	ModeCreate Mode = "create"
	// ModeDelete removes the record. Missing records are ignored.
	ModeDelete Mode = "delete"
)

// Mutation is one write inside a batch or transaction.
type Mutation struct {
	Collection string
	ID         string
	Fields     map[string]any
	Mode       Mode
}

// Merge builds a ModeMerge mutation.
func Merge(collection, id string, fields map[string]any) Mutation {
	return Mutation{Collection: collection, ID: id, Fields: fields, Mode: ModeMerge}
}

// Create builds a ModeCreate mutation.
func Create(collection, id string, fields map[string]any) Mutation {
	return Mutation{Collection: collection, ID: id, Fields: fields, Mode: ModeCreate}
}

// Delete builds a ModeDelete mutation.
func Delete(collection, id string) Mutation {
	return Mutation{Collection: collection, ID: id, Mode: ModeDelete}
}

// Reader provides point reads and filtered queries.
type Reader interface {
	// Get returns sentinel.ErrNotFound (wrapped) when the record is absent.
	Get(ctx context.Context, collection, id string) (Record, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Record, error)
}

// Tx is the view of the store inside RunInTx. Reads observe earlier writes of
// the same transaction.
type Tx interface {
	Reader
	Apply(ctx context.Context, m Mutation) error
}

// Store is the durable, transactional record store.
type Store interface {
	Reader
	// Write merges fields into collection/id, creating it when absent.
	Write(ctx context.Context, collection, id string, fields map[string]any) error
	// BatchWrite applies all mutations atomically.
	BatchWrite(ctx context.Context, mutations []Mutation) error
	// RunInTx runs fn in a transaction; fn's error rolls everything back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ping performs one round trip to the backing store.
	Ping(ctx context.Context) error
}

// ChangeType classifies a change feed event relative to a subscription's filter.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one change feed event. Before is the prior state when the feed
// knows it.
type Change struct {
	Type       ChangeType
	Collection string
	Record     Record
	Before     *Record
}

// Subscription is a live change feed handle. Close must be called on teardown;
// Changes is closed once the subscription ends.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// ChangeFeed delivers changes for one collection, filtered by a predicate.
// Delivery is at-least-once; consumers must be idempotent.
type ChangeFeed interface {
	Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error)
}
