package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certrepo/internal/activity"
	"certrepo/internal/models"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// =============================================================================
// Listener Test Suite
// =============================================================================
// Justification for unit tests: the listener is the only path by which
// mutations made outside the engine reach the handlers. These tests drive it
// through the in-memory change feed.

type ListenerSuite struct {
	suite.Suite
	ctx        context.Context
	store      *records.InMemoryStore
	dispatcher *notification.Dispatcher
	orch       *Orchestrator
	listener   *Listener
}

func TestListenerSuite(t *testing.T) {
	suite.Run(t, new(ListenerSuite))
}

func (s *ListenerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = records.NewInMemoryStore()
	s.dispatcher = notification.NewDispatcher(s.store)

	var err error
	s.orch, err = New(s.store, s.dispatcher, activity.NewRecorder(s.store))
	s.Require().NoError(err)
	s.listener = NewListener(s.store, s.orch, WithRetry(3, time.Millisecond))
}

func (s *ListenerSuite) TearDownTest() {
	s.Require().NoError(s.listener.Stop())
	s.Require().NoError(s.store.Close())
}

func (s *ListenerSuite) write(collection, id string, fields map[string]any) {
	s.Require().NoError(s.store.Write(s.ctx, collection, id, fields))
}

func (s *ListenerSuite) notificationCount(userID string) func() bool {
	return func() bool {
		n, err := s.dispatcher.ListForUser(s.ctx, userID)
		return err == nil && len(n) > 0
	}
}

func (s *ListenerSuite) TestTemplateSubmissionReachesReviewers() {
	s.write(records.CollectionUsers, "rev1", (&models.User{Role: models.RoleClientReviewer, Status: models.UserStatusActive}).Fields())
	s.Require().NoError(s.listener.Start(s.ctx))

	s.write(records.CollectionTemplates, "t1", (&models.Template{Name: "Diploma", OwnerID: "ca1", Status: models.TemplateStatusPendingReview}).Fields())

	s.Eventually(s.notificationCount("rev1"), time.Second, 10*time.Millisecond)
}

func (s *ListenerSuite) TestDocumentUploadMovesToPending() {
	s.Require().NoError(s.listener.Start(s.ctx))

	s.write(records.CollectionDocuments, "d1", (&models.Document{UploaderID: "u1", Status: models.DocumentStatusUploaded}).Fields())

	s.Eventually(func() bool {
		rec, err := s.store.Get(s.ctx, records.CollectionDocuments, "d1")
		return err == nil && rec.String("status") == string(models.DocumentStatusPending)
	}, time.Second, 10*time.Millisecond)
}

func (s *ListenerSuite) TestBacklogIsDeliveredOnStart() {
	s.write(records.CollectionTemplates, "t1", (&models.Template{OwnerID: "ca1", Status: models.TemplateStatusClientApproved}).Fields())
	s.Require().NoError(s.listener.Start(s.ctx))

	s.Eventually(func() bool {
		rec, err := s.store.Get(s.ctx, records.CollectionTemplates, "t1")
		return err == nil && rec.String("status") == string(models.TemplateStatusActive)
	}, time.Second, 10*time.Millisecond)
}

func (s *ListenerSuite) TestUserStatusChangeSendsWelcome() {
	s.write(records.CollectionUsers, "ca2", (&models.User{Role: models.RoleIssuingAuthority, Status: models.UserStatusPending}).Fields())
	s.Require().NoError(s.listener.Start(s.ctx))

	s.write(records.CollectionUsers, "ca2", map[string]any{"status": string(models.UserStatusActive)})

	s.Eventually(func() bool {
		n, err := s.dispatcher.ListForUser(s.ctx, "ca2")
		return err == nil && len(n) == 2
	}, time.Second, 10*time.Millisecond)
}

func (s *ListenerSuite) TestCertificateLinksRecipient() {
	s.write(records.CollectionUsers, "ca1", (&models.User{Role: models.RoleIssuingAuthority, Status: models.UserStatusActive}).Fields())
	s.Require().NoError(s.listener.Start(s.ctx))

	s.write(records.CollectionCertificates, "c1", (&models.Certificate{IssuerID: "ca1", RecipientEmail: "x@y.com", Title: "BSc", Description: "Physics"}).Fields())

	s.Eventually(func() bool {
		rec, err := s.store.Get(s.ctx, records.CollectionCertificates, "c1")
		return err == nil && rec.String("recipientId") != ""
	}, time.Second, 10*time.Millisecond)
}

func (s *ListenerSuite) TestStopEndsDelivery() {
	s.Require().NoError(s.listener.Start(s.ctx))
	s.Require().NoError(s.listener.Stop())

	s.write(records.CollectionDocuments, "d1", (&models.Document{UploaderID: "u1", Status: models.DocumentStatusUploaded}).Fields())

	s.Never(func() bool {
		rec, err := s.store.Get(s.ctx, records.CollectionDocuments, "d1")
		return err == nil && rec.String("status") != string(models.DocumentStatusUploaded)
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func (s *ListenerSuite) TestStartTwiceFails() {
	s.Require().NoError(s.listener.Start(s.ctx))
	s.Error(s.listener.Start(s.ctx))
}

func (s *ListenerSuite) TestRetry() {
	s.Run("transient failures are retried", func() {
		var calls atomic.Int32
		l := NewListener(s.store, s.orch, WithRetry(3, time.Millisecond))
		route := Route{Name: "flaky", Handle: func(context.Context, records.Change) error {
			if calls.Add(1) < 3 {
				return dErrors.New(dErrors.CodeUnavailable, "store busy")
			}
			return nil
		}}
		l.deliver(s.ctx, route, records.Change{Type: records.ChangeAdded})
		s.Equal(int32(3), calls.Load())
	})

	s.Run("permanent failures are not", func() {
		var calls atomic.Int32
		l := NewListener(s.store, s.orch, WithRetry(3, time.Millisecond))
		route := Route{Name: "broken", Handle: func(context.Context, records.Change) error {
			calls.Add(1)
			return dErrors.New(dErrors.CodeNotFound, "gone")
		}}
		l.deliver(s.ctx, route, records.Change{Type: records.ChangeAdded})
		s.Equal(int32(1), calls.Load())
	})
}
