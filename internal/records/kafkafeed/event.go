// Package kafkafeed carries record changes over Kafka: Relay publishes a
// store's changes as CDC events, one topic per collection, and Feed turns
// those topics back into live-query subscriptions.
package kafkafeed

import (
	"encoding/json"
	"fmt"
	"time"

	"certrepo/internal/records"
)

// DefaultTopicPrefix is prepended to collection names.
const DefaultTopicPrefix = "certrepo.records"

// Event is the JSON value of one CDC message. The message key is the record id.
type Event struct {
	Op         records.ChangeType `json:"op"`
	Collection string             `json:"collection"`
	ID         string             `json:"id"`
	Fields     map[string]any     `json:"fields,omitempty"`
	Before     map[string]any     `json:"before,omitempty"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// Topic names the topic for a collection.
func Topic(prefix, collection string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + collection
}

// EventFromChange encodes a store change.
func EventFromChange(c records.Change) Event {
	ev := Event{
		Op:         c.Type,
		Collection: c.Collection,
		ID:         c.Record.ID,
		Fields:     c.Record.Fields,
		UpdatedAt:  c.Record.UpdatedAt.UTC(),
	}
	if c.Before != nil {
		ev.Before = c.Before.Fields
	}
	return ev
}

// Change decodes the event into the raw store change it describes.
func (e Event) Change() records.Change {
	c := records.Change{
		Type:       e.Op,
		Collection: e.Collection,
		Record:     records.Record{ID: e.ID, Fields: e.Fields, UpdatedAt: e.UpdatedAt},
	}
	if e.Before != nil {
		c.Before = &records.Record{ID: e.ID, Fields: e.Before}
	}
	return c
}

func decodeEvent(value []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	switch ev.Op {
	case records.ChangeAdded, records.ChangeModified, records.ChangeRemoved:
	default:
		return Event{}, fmt.Errorf("decode change event: unknown op %q", ev.Op)
	}
	if ev.ID == "" || ev.Collection == "" {
		return Event{}, fmt.Errorf("decode change event: missing collection or id")
	}
	return ev, nil
}
