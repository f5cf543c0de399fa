package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"certrepo/internal/models"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// =============================================================================
// Validator Test Suite
// =============================================================================
// Justification for unit tests: findings drive both the admin report and the
// integration health probe. Exact counts per severity are part of the contract.

type ValidatorSuite struct {
	suite.Suite
	ctx       context.Context
	store     *records.InMemoryStore
	metrics   *Metrics
	validator *Validator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = records.NewInMemoryStore()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.validator = New(s.store, WithMetrics(s.metrics))
}

func (s *ValidatorSuite) user(id string, role models.Role, status models.UserStatus) {
	u := &models.User{ID: id, Email: id + "@example.com", Role: role, Status: status}
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionUsers, id, u.Fields()))
}

func (s *ValidatorSuite) certificate(c *models.Certificate) {
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionCertificates, c.ID, c.Fields()))
}

func (s *ValidatorSuite) document(d *models.Document) {
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionDocuments, d.ID, d.Fields()))
}

func (s *ValidatorSuite) template(t *models.Template) {
	s.Require().NoError(s.store.Write(s.ctx, records.CollectionTemplates, t.ID, t.Fields()))
}

func (s *ValidatorSuite) validate() *Report {
	r, err := s.validator.Validate(s.ctx)
	s.Require().NoError(err)
	return r
}

// seedHealthy writes a consistent data set with one of every entity.
func (s *ValidatorSuite) seedHealthy() {
	s.user("admin", models.RoleAdministrator, models.UserStatusActive)
	s.user("ca1", models.RoleIssuingAuthority, models.UserStatusActive)
	s.user("rev1", models.RoleClientReviewer, models.UserStatusActive)
	s.user("u1", models.RoleRecipient, models.UserStatusActive)
	s.document(&models.Document{ID: "d1", UploaderID: "u1", Status: models.DocumentStatusVerified, VerifierID: "ca1"})
	s.certificate(&models.Certificate{ID: "c1", IssuerID: "ca1", RecipientID: "u1", Title: "BSc", Description: "Physics"})
	s.template(&models.Template{ID: "t1", OwnerID: "ca1", ClientReviewerID: "rev1", Status: models.TemplateStatusActive, ApprovedAt: time.Now()})
}

// =============================================================================
// Consistent Data
// =============================================================================

func (s *ValidatorSuite) TestConsistentDataIsValid() {
	s.seedHealthy()

	r := s.validate()
	s.True(r.IsValid())
	s.Empty(r.Errors)
	s.Empty(r.Critical)
	s.Empty(r.Warnings)
	// uploader, verifier, issuer, recipient, fields, owner, reviewer, approval, admin, backlog
	s.Len(r.Successes, 10)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.LastValid))
}

// =============================================================================
// Reference Checks
// =============================================================================

func (s *ValidatorSuite) TestMissingIssuer() {
	s.seedHealthy()
	s.certificate(&models.Certificate{ID: "c2", IssuerID: "ghost", RecipientID: "u1", Title: "MSc", Description: "Chemistry"})

	r := s.validate()
	s.False(r.IsValid())
	s.Require().Len(r.Errors, 1)
	s.Equal("c2", r.Errors[0].EntityID)
	s.Equal(CheckCertificateIssuer, r.Errors[0].Check)
	s.Empty(r.Critical)
}

func (s *ValidatorSuite) TestWrongRoleReferences() {
	s.seedHealthy()
	s.document(&models.Document{ID: "d2", UploaderID: "u1", Status: models.DocumentStatusVerified, VerifierID: "rev1"})
	s.certificate(&models.Certificate{ID: "c2", IssuerID: "u1", Title: "MSc", Description: "Chemistry"})

	r := s.validate()
	s.Len(r.ForEntity("d2"), 1)
	s.Len(r.ForEntity("c2"), 1)
	s.Len(r.Errors, 2)
}

func (s *ValidatorSuite) TestDanglingReferences() {
	s.seedHealthy()
	s.document(&models.Document{ID: "d2", UploaderID: "nobody", Status: models.DocumentStatusPending})
	s.certificate(&models.Certificate{ID: "c2", IssuerID: "ca1", RecipientID: "nobody", Title: "MSc", Description: "Chemistry"})
	s.template(&models.Template{ID: "t2", OwnerID: "nobody", ClientReviewerID: "gone", Status: models.TemplateStatusPendingReview})

	r := s.validate()
	s.Len(r.ForEntity("d2"), 1)
	s.Len(r.ForEntity("c2"), 1)
	s.Len(r.ForEntity("t2"), 2)
	s.Len(r.Errors, 4)
}

func (s *ValidatorSuite) TestDomainChecks() {
	s.seedHealthy()

	s.Run("verified document without verifier", func() {
		s.document(&models.Document{ID: "d3", UploaderID: "u1", Status: models.DocumentStatusVerified})
		s.Len(s.validate().ForEntity("d3"), 1)
	})

	s.Run("missing descriptive fields are one error each", func() {
		s.certificate(&models.Certificate{ID: "c3", IssuerID: "ca1"})
		findings := s.validate().ForEntity("c3")
		s.Len(findings, 2)
		for _, f := range findings {
			s.Equal(SeverityError, f.Severity)
		}
	})

	s.Run("active template without approval", func() {
		s.template(&models.Template{ID: "t3", OwnerID: "ca1", Status: models.TemplateStatusActive})
		findings := s.validate().ForEntity("t3")
		s.Require().Len(findings, 1)
		s.Equal(CheckTemplateApproval, findings[0].Check)
	})
}

// =============================================================================
// System Checks
// =============================================================================

func (s *ValidatorSuite) TestAdministratorPresence() {
	s.user("ca1", models.RoleIssuingAuthority, models.UserStatusActive)
	s.user("admin", models.RoleAdministrator, models.UserStatusSuspended)

	r := s.validate()
	s.False(r.IsValid())
	s.Require().Len(r.Critical, 1)
	s.Equal(CheckAdministrator, r.Critical[0].Check)
	s.Equal(0.0, testutil.ToFloat64(s.metrics.LastValid))
}

func (s *ValidatorSuite) TestBacklogIsOnlyAWarning() {
	s.seedHealthy()
	s.user("ca2", models.RoleIssuingAuthority, models.UserStatusPending)

	r := s.validate()
	s.True(r.IsValid())
	s.Len(r.Warnings, 1)
}

func (s *ValidatorSuite) TestValidateLinks() {
	s.user("ca1", models.RoleIssuingAuthority, models.UserStatusPending)
	s.certificate(&models.Certificate{ID: "c1", IssuerID: "ca1", Title: "BSc", Description: "Physics"})

	r, err := s.validator.ValidateLinks(s.ctx)
	s.Require().NoError(err)
	s.True(r.IsValid())
	s.Empty(r.Warnings)
	s.Empty(r.Critical)
}

// =============================================================================
// Persistence
// =============================================================================

func (s *ValidatorSuite) TestPersist() {
	s.seedHealthy()
	r := s.validate()

	s.Require().NoError(s.validator.Persist(s.ctx, r))
	rec, err := s.store.Get(s.ctx, records.CollectionValidationReports, r.ID)
	s.Require().NoError(err)
	s.True(rec.Bool("valid"))

	s.Error(s.validator.Persist(s.ctx, nil))
}

type unreachableStore struct {
	records.Store
}

func (unreachableStore) Query(context.Context, string, records.Filter) ([]records.Record, error) {
	return nil, errors.New("connection refused")
}

func (s *ValidatorSuite) TestLoadFailure() {
	v := New(unreachableStore{Store: s.store}, WithMetrics(s.metrics))
	_, err := v.Validate(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues("full", "failed")))
}
