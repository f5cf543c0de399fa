//go:build integration

package kafkafeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"certrepo/internal/platform/kafka"
	"certrepo/internal/records"
	"certrepo/pkg/testutil/containers"
)

// =============================================================================
// Kafka Change Feed Integration Suite
// =============================================================================
// Justification for integration tests: offset positioning and topic routing
// are broker behaviour.

type KafkaFeedIntegrationSuite struct {
	suite.Suite
	ctx      context.Context
	cfg      kafka.Config
	producer *kgo.Client
}

func TestKafkaFeedIntegrationSuite(t *testing.T) {
	suite.Run(t, new(KafkaFeedIntegrationSuite))
}

func (s *KafkaFeedIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	rp := containers.NewRedpandaContainer(s.T())
	s.cfg = kafka.Config{Brokers: rp.Brokers, ClientID: "certrepo-test"}

	producer, err := kafka.NewClient(s.cfg, kgo.AllowAutoTopicCreation())
	s.Require().NoError(err)
	s.T().Cleanup(producer.Close)
	s.producer = producer
	s.Require().NoError(kafka.Ping(s.ctx, producer))
	s.Require().NoError(kafka.EnsureTopics(s.ctx, producer, 1,
		Topic("", records.CollectionTemplates), Topic("", records.CollectionUsers)))
}

func (s *KafkaFeedIntegrationSuite) TestRelayToFeed() {
	source := records.NewInMemoryStore()
	defer source.Close()

	relay := NewRelay(source, s.producer, []string{records.CollectionTemplates})
	s.Require().NoError(relay.Start(s.ctx))
	defer relay.Stop()

	feed := NewFeed(s.cfg, source)
	sub, err := feed.Subscribe(s.ctx, records.CollectionTemplates, records.Where("status", records.OpEq, "pending_review"))
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(source.Write(s.ctx, records.CollectionTemplates, "t1", map[string]any{"status": "pending_review"}))

	select {
	case c := <-sub.Changes():
		s.Equal(records.ChangeAdded, c.Type)
		s.Equal("t1", c.Record.ID)
	case <-time.After(20 * time.Second):
		s.FailNow("no change delivered over kafka")
	}
}
