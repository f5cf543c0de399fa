package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"certrepo/internal/models"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	"certrepo/internal/validation"
)

// =============================================================================
// Aggregator Test Suite
// =============================================================================
// Justification for unit tests: the overall status must be the most severe
// component, and a misbehaving probe must degrade its component without
// breaking the check. The feed and cache lifecycles are verified here too.

type AggregatorSuite struct {
	suite.Suite
	ctx     context.Context
	store   *records.InMemoryStore
	metrics *Metrics
	clock   time.Time
}

type fixedStats notification.Stats

func (f fixedStats) Stats() notification.Stats { return notification.Stats(f) }

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

func (s *AggregatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = records.NewInMemoryStore()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *AggregatorSuite) now() time.Time { return s.clock }

func (s *AggregatorSuite) user(id string, role models.Role, status models.UserStatus) {
	u := &models.User{ID: id, Role: role, Status: status}
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionUsers, id, u.Fields()))
}

func (s *AggregatorSuite) seedHealthy() {
	s.user("admin", models.RoleAdministrator, models.UserStatusActive)
	s.user("ca1", models.RoleIssuingAuthority, models.UserStatusActive)
	s.user("u1", models.RoleRecipient, models.UserStatusActive)
}

func (s *AggregatorSuite) aggregator(opts ...Option) *Aggregator {
	base := []Option{
		WithMetrics(s.metrics),
		WithClock(s.now),
		WithDispatchStats(fixedStats{Sent: 10}),
		WithLinkValidator(validation.New(s.store)),
		WithProbeTimeout(50 * time.Millisecond),
	}
	return New(s.store, append(base, opts...)...)
}

func (s *AggregatorSuite) component(h OverallHealth, name string) ComponentHealth {
	c, ok := h.Component(name)
	s.Require().True(ok, "component %s missing", name)
	return c
}

// =============================================================================
// Reduction
// =============================================================================

func (s *AggregatorSuite) TestHealthySystem() {
	s.seedHealthy()

	h := s.aggregator().CheckHealth(s.ctx)
	s.Equal(StatusHealthy, h.Status)
	s.Len(h.Components, 6)
	for _, c := range h.Components {
		s.Equal(StatusHealthy, c.Status, c.Name)
		s.False(c.Timestamp.IsZero())
	}
	s.Equal(0.0, testutil.ToFloat64(s.metrics.OverallRank))
}

func (s *AggregatorSuite) TestMissingAdministratorIsCritical() {
	s.user("ca1", models.RoleIssuingAuthority, models.UserStatusActive)

	h := s.aggregator().CheckHealth(s.ctx)
	s.Equal(StatusCritical, h.Status)
	s.Equal(StatusCritical, s.component(h, ComponentAdministration).Status)
	s.Equal(3.0, testutil.ToFloat64(s.metrics.ComponentRank.WithLabelValues(ComponentAdministration)))
}

func (s *AggregatorSuite) TestComponentSignals() {
	s.seedHealthy()

	s.Run("pending issuing authority is a warning", func() {
		s.user("ca2", models.RoleIssuingAuthority, models.UserStatusPending)
		h := s.aggregator().CheckHealth(s.ctx)
		s.Equal(StatusWarning, s.component(h, ComponentIssuingAuthority).Status)
		s.Equal(StatusWarning, h.Status)
	})

	s.Run("unlinked certificate is a recipient warning", func() {
		c := &models.Certificate{ID: "c1", IssuerID: "ca1", RecipientEmail: "x@y.com", Title: "BSc", Description: "Physics"}
		s.Require().NoError(s.store.Write(s.ctx, records.CollectionCertificates, c.ID, c.Fields()))
		h := s.aggregator().CheckHealth(s.ctx)
		s.Equal(StatusWarning, s.component(h, ComponentRecipient).Status)
	})

	s.Run("broken link is an integration error", func() {
		c := &models.Certificate{ID: "c2", IssuerID: "ghost", RecipientID: "u1", Title: "BSc", Description: "Physics"}
		s.Require().NoError(s.store.Write(s.ctx, records.CollectionCertificates, c.ID, c.Fields()))
		h := s.aggregator().CheckHealth(s.ctx)
		s.Equal(StatusError, s.component(h, ComponentIntegration).Status)
		s.Equal(StatusError, h.Status)
	})

	s.Run("recent notification failure is a warning", func() {
		a := s.aggregator(WithDispatchStats(fixedStats{Sent: 10, Failed: 1, LastFailureAt: s.clock.Add(-time.Minute), LastError: "boom"}))
		s.Equal(StatusWarning, s.component(a.CheckHealth(s.ctx), ComponentNotification).Status)
	})

	s.Run("mostly failing notifications are an error", func() {
		a := s.aggregator(WithDispatchStats(fixedStats{Sent: 1, Failed: 5, LastFailureAt: s.clock, LastError: "boom"}))
		s.Equal(StatusError, s.component(a.CheckHealth(s.ctx), ComponentNotification).Status)
	})
}

func (s *AggregatorSuite) TestUnlinkedCertificatesMatchStats() {
	s.seedHealthy()
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionCertificates, "blank",
		map[string]any{"issuerId": "ca1", "recipientId": "", "title": "BSc"}))
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionCertificates, "absent",
		map[string]any{"issuerId": "ca1", "title": "MSc"}))

	a := s.aggregator()
	c := s.component(a.CheckHealth(s.ctx), ComponentRecipient)
	s.Equal(StatusWarning, c.Status)
	s.Equal(2, c.Details["unlinked_certificates"])

	stats, err := a.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(stats.Value.UnlinkedCertificates, c.Details["unlinked_certificates"])
}

// =============================================================================
// Probe Failures
// =============================================================================

func (s *AggregatorSuite) TestProbeFailuresAreCritical() {
	s.seedHealthy()
	a := s.aggregator(
		WithProbe(Probe{Name: "erroring", Check: func(context.Context) (ComponentHealth, error) {
			return ComponentHealth{}, errors.New("connection refused")
		}}),
		WithProbe(Probe{Name: "panicking", Check: func(context.Context) (ComponentHealth, error) {
			panic("nil map")
		}}),
		WithProbe(Probe{Name: "hanging", Check: func(context.Context) (ComponentHealth, error) {
			time.Sleep(500 * time.Millisecond)
			return ComponentHealth{Status: StatusHealthy}, nil
		}}),
		WithProbe(Probe{Name: "undecided", Check: func(context.Context) (ComponentHealth, error) {
			return ComponentHealth{Status: StatusChecking}, nil
		}}),
	)

	h := a.CheckHealth(s.ctx)
	s.Equal(StatusCritical, h.Status)
	for _, name := range []string{"erroring", "panicking", "hanging", "undecided"} {
		c := s.component(h, name)
		s.Equal(StatusCritical, c.Status, name)
		s.NotEmpty(c.Message, name)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.ProbeFailures.WithLabelValues(name)), name)
	}
	s.Equal("probe timed out", s.component(h, "hanging").Message)
	s.Equal(StatusHealthy, s.component(h, ComponentAdministration).Status)
}

func (s *AggregatorSuite) TestDependencyProbe() {
	s.seedHealthy()
	down := errors.New("dial tcp: connection refused")
	a := s.aggregator(
		WithProbe(DependencyProbe(ComponentLockBackend, func(context.Context) error { return nil })),
		WithProbe(DependencyProbe(ComponentChangeStream, func(context.Context) error { return down })),
	)

	h := a.CheckHealth(s.ctx)
	s.Equal(StatusHealthy, s.component(h, ComponentLockBackend).Status)
	stream := s.component(h, ComponentChangeStream)
	s.Equal(StatusError, stream.Status)
	s.Equal(down.Error(), stream.Message)
	s.Equal(StatusError, h.Status, "an unreachable dependency is an error, not critical")
}

// =============================================================================
// Feed and Lifecycle
// =============================================================================

func (s *AggregatorSuite) TestSubscribeReplaysLatest() {
	s.seedHealthy()
	a := s.aggregator()

	first := a.CheckHealth(s.ctx)
	ch, cancel := a.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		s.Equal(first.Status, got.Status)
		s.Equal(first.CheckedAt, got.CheckedAt)
	case <-time.After(time.Second):
		s.Fail("latest snapshot was not replayed")
	}

	latest, ok := a.Latest()
	s.True(ok)
	s.Equal(StatusHealthy, latest.Status)
}

func (s *AggregatorSuite) TestStartPublishesUntilStop() {
	s.seedHealthy()
	a := s.aggregator(WithInterval(10 * time.Millisecond))
	ch, cancel := a.Subscribe()
	defer cancel()

	s.Require().NoError(a.Start(s.ctx))
	s.Error(a.Start(s.ctx))

	for i := 0; i < 2; i++ {
		select {
		case h := <-ch:
			s.Equal(StatusHealthy, h.Status)
		case <-time.After(time.Second):
			s.FailNow("no health published")
		}
	}

	a.Stop()
	s.Eventually(func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 5*time.Millisecond)
	a.Stop()
}

// =============================================================================
// Cached Statistics
// =============================================================================

func (s *AggregatorSuite) TestStatsCache() {
	s.seedHealthy()
	a := s.aggregator(WithStatsTTL(time.Minute))

	first, err := a.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, first.Value.UsersByRole[string(models.RoleAdministrator)])
	s.Equal(3, first.Value.UsersByStatus[string(models.UserStatusActive)])

	s.user("admin2", models.RoleAdministrator, models.UserStatusActive)
	s.clock = s.clock.Add(30 * time.Second)
	cached, err := a.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(first.ComputedAt, cached.ComputedAt)
	s.Equal(1, cached.Value.UsersByRole[string(models.RoleAdministrator)])

	s.clock = s.clock.Add(time.Minute)
	fresh, err := a.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, fresh.Value.UsersByRole[string(models.RoleAdministrator)])
	s.True(fresh.ComputedAt.After(first.ComputedAt))
}
