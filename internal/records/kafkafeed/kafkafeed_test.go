package kafkafeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"certrepo/internal/platform/kafka/consumer"
	"certrepo/internal/records"
)

// =============================================================================
// Kafka Change Feed Test Suite
// =============================================================================
// Justification for unit tests: the relay and the subscription must agree on
// the event encoding, and a subscriber must see live-query classification no
// matter which transport carried the change.

type KafkaFeedSuite struct {
	suite.Suite
	ctx context.Context
}

func TestKafkaFeedSuite(t *testing.T) {
	suite.Run(t, new(KafkaFeedSuite))
}

func (s *KafkaFeedSuite) SetupTest() {
	s.ctx = context.Background()
}

type recordingProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func (p *recordingProducer) published() []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kgo.Record(nil), p.records...)
}

func (s *KafkaFeedSuite) TestDecodeEvent() {
	s.Run("rejects unknown op", func() {
		_, err := decodeEvent([]byte(`{"op":"upserted","collection":"users","id":"u1"}`))
		s.Error(err)
	})

	s.Run("rejects missing id", func() {
		_, err := decodeEvent([]byte(`{"op":"added","collection":"users"}`))
		s.Error(err)
	})

	s.Run("rejects malformed json", func() {
		_, err := decodeEvent([]byte(`{`))
		s.Error(err)
	})

	s.Run("carries the previous state", func() {
		ev, err := decodeEvent([]byte(`{"op":"modified","collection":"users","id":"u1","fields":{"status":"active"},"before":{"status":"pending"}}`))
		s.Require().NoError(err)
		c := ev.Change()
		s.Require().NotNil(c.Before)
		s.Equal("pending", c.Before.String("status"))
		s.Equal("active", c.Record.String("status"))
	})
}

func (s *KafkaFeedSuite) TestSubscriptionHandle() {
	sub := &subscription{
		collection: records.CollectionDocuments,
		filter:     records.Where("status", records.OpEq, "uploaded"),
		q:          records.NewQueue(),
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go sub.q.Run(ctx)
	defer sub.q.Stop()

	send := func(ev Event) {
		value, err := json.Marshal(ev)
		s.Require().NoError(err)
		s.Require().NoError(sub.handle(ctx, &consumer.Message{Topic: Topic("", ev.Collection), Value: value}))
	}

	s.Run("modification entering the filter is added", func() {
		send(Event{
			Op: records.ChangeModified, Collection: records.CollectionDocuments, ID: "d1",
			Fields: map[string]any{"status": "uploaded"},
			Before: map[string]any{"status": "draft"},
		})
		c := s.next(sub)
		s.Equal(records.ChangeAdded, c.Type)
		s.Equal("d1", c.Record.ID)
	})

	s.Run("other collections are ignored", func() {
		send(Event{Op: records.ChangeAdded, Collection: records.CollectionUsers, ID: "u1", Fields: map[string]any{"status": "uploaded"}})
		send(Event{Op: records.ChangeRemoved, Collection: records.CollectionDocuments, ID: "d1", Before: map[string]any{"status": "uploaded"}})
		c := s.next(sub)
		s.Equal(records.ChangeRemoved, c.Type)
		s.Equal("d1", c.Record.ID)
		s.Equal("uploaded", c.Record.String("status"))
	})

	s.Run("malformed message is an error", func() {
		s.Error(sub.handle(ctx, &consumer.Message{Value: []byte("nope")}))
	})
}

func (s *KafkaFeedSuite) TestRelay() {
	store := records.NewInMemoryStore()
	defer store.Close()
	s.Require().NoError(store.Write(s.ctx, records.CollectionUsers, "u0", map[string]any{"status": "active"}))

	producer := &recordingProducer{}
	metrics := NewRelayMetrics(prometheus.NewRegistry())
	relay := NewRelay(store, producer, []string{records.CollectionUsers, records.CollectionCertificates},
		WithRelayMetrics(metrics), WithRelayTopicPrefix("test"))
	s.Require().NoError(relay.Start(s.ctx))
	s.Error(relay.Start(s.ctx), "second start fails")

	s.Require().NoError(store.Write(s.ctx, records.CollectionCertificates, "c1", map[string]any{"status": "issued"}))
	s.Require().NoError(store.Write(s.ctx, records.CollectionUsers, "u0", map[string]any{"status": "inactive"}))

	s.Eventually(func() bool { return len(producer.published()) == 3 }, time.Second, 10*time.Millisecond)
	s.Require().NoError(relay.Stop())
	s.NoError(relay.Stop(), "stop is idempotent")

	byTopic := map[string][]Event{}
	for _, r := range producer.published() {
		ev, err := decodeEvent(r.Value)
		s.Require().NoError(err)
		s.Equal(ev.ID, string(r.Key))
		byTopic[r.Topic] = append(byTopic[r.Topic], ev)
	}
	s.Run("snapshot and modification on the users topic", func() {
		users := byTopic["test.users"]
		s.Require().Len(users, 2)
		s.Equal(records.ChangeAdded, users[0].Op)
		s.Equal(records.ChangeModified, users[1].Op)
		s.Equal("active", users[1].Before["status"])
	})
	s.Run("certificate on its own topic", func() {
		s.Len(byTopic["test.certificates"], 1)
	})
	s.Equal(2.0, testutil.ToFloat64(metrics.Published.WithLabelValues(records.CollectionUsers)))
}

func (s *KafkaFeedSuite) TestPublishFailure() {
	producer := &recordingProducer{err: errors.New("broker down")}
	metrics := NewRelayMetrics(prometheus.NewRegistry())
	relay := NewRelay(records.NewInMemoryStore(), producer, nil, WithRelayMetrics(metrics))

	err := relay.Publish(s.ctx, records.Change{
		Type: records.ChangeAdded, Collection: records.CollectionUsers,
		Record: records.Record{ID: "u1", Fields: map[string]any{}},
	})
	s.Error(err)
	s.Equal(1.0, testutil.ToFloat64(metrics.Failed.WithLabelValues(records.CollectionUsers)))
}

func (s *KafkaFeedSuite) next(sub records.Subscription) records.Change {
	select {
	case c := <-sub.Changes():
		return c
	case <-time.After(time.Second):
		s.FailNow("no change delivered")
		return records.Change{}
	}
}
