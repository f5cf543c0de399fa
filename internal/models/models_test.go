package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

func TestUserStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to UserStatus
		allowed  bool
	}{
		{UserStatusPending, UserStatusActive, true},
		{UserStatusPending, UserStatusSuspended, true},
		{UserStatusActive, UserStatusSuspended, true},
		{UserStatusSuspended, UserStatusActive, true},
		{UserStatusActive, UserStatusPending, false},
		{UserStatusSuspended, UserStatusPending, false},
		{UserStatusActive, UserStatusActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTemplateReviewOutcome(t *testing.T) {
	t.Run("approval from pending review applies", func(t *testing.T) {
		tpl := &Template{Status: TemplateStatusPendingReview}
		target, apply, err := tpl.ReviewOutcome(DecisionApproved)
		require.NoError(t, err)
		assert.True(t, apply)
		assert.Equal(t, TemplateStatusClientApproved, target)
	})

	t.Run("approval redelivered after activation is a no-op", func(t *testing.T) {
		tpl := &Template{Status: TemplateStatusActive}
		_, apply, err := tpl.ReviewOutcome(DecisionApproved)
		require.NoError(t, err)
		assert.False(t, apply)
	})

	t.Run("same decision twice is a no-op", func(t *testing.T) {
		tpl := &Template{Status: TemplateStatusRejected}
		_, apply, err := tpl.ReviewOutcome(DecisionRejected)
		require.NoError(t, err)
		assert.False(t, apply)
	})

	t.Run("review of a draft is an invariant violation", func(t *testing.T) {
		tpl := &Template{Status: TemplateStatusDraft}
		_, _, err := tpl.ReviewOutcome(DecisionApproved)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("unknown decision is a bad request", func(t *testing.T) {
		tpl := &Template{Status: TemplateStatusPendingReview}
		_, _, err := tpl.ReviewOutcome(ReviewDecision("maybe"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func TestTemplateActivation(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tpl := &Template{Status: TemplateStatusPendingReview}
	require.Error(t, tpl.CanActivate())

	tpl.ApplyReview(TemplateStatusClientApproved, "rev1", "looks good", now)
	require.NoError(t, tpl.CanActivate())
	assert.Equal(t, now, tpl.ApprovedAt)

	tpl.ApplyActivation(now)
	assert.Equal(t, TemplateStatusActive, tpl.Status)
}

func TestTemplateResubmission(t *testing.T) {
	tpl := &Template{Status: TemplateStatusNeedsRevision}
	require.NoError(t, tpl.CanSubmit())

	tpl = &Template{Status: TemplateStatusRejected}
	assert.Error(t, tpl.CanSubmit())
}

func TestDocumentLifecycle(t *testing.T) {
	doc := &Document{Status: DocumentStatusUploaded}
	due, err := doc.NeedsSubmission()
	require.NoError(t, err)
	assert.True(t, due)

	doc.ApplySubmission(time.Now())
	due, err = doc.NeedsSubmission()
	require.NoError(t, err)
	assert.False(t, due)

	apply, err := doc.ReviewOutcome(DocumentStatusVerified)
	require.NoError(t, err)
	assert.True(t, apply)
	doc.ApplyReview(DocumentStatusVerified, "ca1", "", time.Now())

	apply, err = doc.ReviewOutcome(DocumentStatusVerified)
	require.NoError(t, err)
	assert.False(t, apply)

	_, err = doc.ReviewOutcome(DocumentStatusRejected)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestRecordRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	user := &User{ID: "u1", Email: "a@b.c", Role: RoleIssuingAuthority, Status: UserStatusActive,
		Permissions: []string{"issue"}, CreatedAt: now, UpdatedAt: now}

	fields, err := records.Normalize(user.Fields())
	require.NoError(t, err)
	got := UserFromRecord(records.Record{ID: "u1", Fields: fields})

	assert.Equal(t, user, got)
}

func TestCertificateMissingDescriptiveFields(t *testing.T) {
	cert := &Certificate{Title: "Completion", Description: "  "}
	assert.Equal(t, []string{"description"}, cert.MissingDescriptiveFields())
}

func TestRoleCanVerify(t *testing.T) {
	assert.True(t, RoleAdministrator.CanVerify())
	assert.True(t, RoleIssuingAuthority.CanVerify())
	assert.False(t, RoleClientReviewer.CanVerify())
	assert.False(t, RoleRecipient.CanVerify())
}
