package models

import (
	"time"

	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// TemplateStatus is the template review lifecycle.
//
//	draft → pending_review → client_approved → active
//	                       → rejected
//	                       → needs_revision → pending_review (resubmission)
type TemplateStatus string

const (
	TemplateStatusDraft          TemplateStatus = "draft"
	TemplateStatusPendingReview  TemplateStatus = "pending_review"
	TemplateStatusClientApproved TemplateStatus = "client_approved"
	TemplateStatusRejected       TemplateStatus = "rejected"
	TemplateStatusNeedsRevision  TemplateStatus = "needs_revision"
	TemplateStatusActive         TemplateStatus = "active"
)

var templateTransitions = map[TemplateStatus][]TemplateStatus{
	TemplateStatusDraft:          {TemplateStatusPendingReview},
	TemplateStatusPendingReview:  {TemplateStatusClientApproved, TemplateStatusRejected, TemplateStatusNeedsRevision},
	TemplateStatusClientApproved: {TemplateStatusActive},
	TemplateStatusNeedsRevision:  {TemplateStatusPendingReview},
}

func (s TemplateStatus) CanTransitionTo(next TemplateStatus) bool {
	for _, allowed := range templateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ReviewDecision is a client reviewer's verdict on a template.
type ReviewDecision string

const (
	DecisionApproved      ReviewDecision = "approved"
	DecisionRejected      ReviewDecision = "rejected"
	DecisionNeedsRevision ReviewDecision = "needs_revision"
)

// TargetStatus maps a decision to the template status it produces.
func (d ReviewDecision) TargetStatus() (TemplateStatus, error) {
	switch d {
	case DecisionApproved:
		return TemplateStatusClientApproved, nil
	case DecisionRejected:
		return TemplateStatusRejected, nil
	case DecisionNeedsRevision:
		return TemplateStatusNeedsRevision, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "unknown review decision: "+string(d))
}

// Template is a certificate layout owned by an issuing authority until it is
// activated, after which it is shared and immutable.
type Template struct {
	ID               string
	Name             string
	OwnerID          string
	Status           TemplateStatus
	ClientReviewerID string
	ReviewComments   string
	ApprovedAt       time.Time
	ActivatedAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReviewOutcome reports whether applying decision is needed. Redelivered
// reviews whose effect is already in place are not.
func (t *Template) ReviewOutcome(decision ReviewDecision) (TemplateStatus, bool, error) {
	target, err := decision.TargetStatus()
	if err != nil {
		return "", false, err
	}
	if t.Status == target {
		return target, false, nil
	}
	if target == TemplateStatusClientApproved && t.Status == TemplateStatusActive {
		return target, false, nil
	}
	if !t.Status.CanTransitionTo(target) {
		return "", false, dErrors.New(dErrors.CodeInvariantViolation,
			"template in status "+string(t.Status)+" cannot be "+string(decision))
	}
	return target, true, nil
}

// ApplyReview records the reviewer's decision.
func (t *Template) ApplyReview(target TemplateStatus, reviewerID, comments string, now time.Time) {
	t.Status = target
	t.ClientReviewerID = reviewerID
	t.ReviewComments = comments
	t.UpdatedAt = now
	if target == TemplateStatusClientApproved {
		t.ApprovedAt = now
	}
}

// CanActivate requires client approval first.
func (t *Template) CanActivate() error {
	if t.Status != TemplateStatusClientApproved {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"template must be client_approved to activate, is "+string(t.Status))
	}
	return nil
}

func (t *Template) ApplyActivation(now time.Time) {
	t.Status = TemplateStatusActive
	t.ActivatedAt = now
	t.UpdatedAt = now
}

// CanSubmit allows first submission and resubmission after revision requests.
func (t *Template) CanSubmit() error {
	if !t.Status.CanTransitionTo(TemplateStatusPendingReview) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"template in status "+string(t.Status)+" cannot be submitted for review")
	}
	return nil
}

func (t *Template) ApplySubmission(now time.Time) {
	t.Status = TemplateStatusPendingReview
	t.UpdatedAt = now
}

func (t *Template) Fields() map[string]any {
	return map[string]any{
		"name":             t.Name,
		"ownerId":          t.OwnerID,
		"status":           string(t.Status),
		"clientReviewerId": t.ClientReviewerID,
		"reviewComments":   t.ReviewComments,
		"approvedAt":       records.FormatTime(t.ApprovedAt),
		"activatedAt":      records.FormatTime(t.ActivatedAt),
		"createdAt":        records.FormatTime(t.CreatedAt),
		"updatedAt":        records.FormatTime(t.UpdatedAt),
	}
}

func TemplateFromRecord(rec records.Record) *Template {
	return &Template{
		ID:               rec.ID,
		Name:             rec.String("name"),
		OwnerID:          rec.String("ownerId"),
		Status:           TemplateStatus(rec.String("status")),
		ClientReviewerID: rec.String("clientReviewerId"),
		ReviewComments:   rec.String("reviewComments"),
		ApprovedAt:       rec.Time("approvedAt"),
		ActivatedAt:      rec.Time("activatedAt"),
		CreatedAt:        rec.Time("createdAt"),
		UpdatedAt:        rec.Time("updatedAt"),
	}
}
