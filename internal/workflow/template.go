package workflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"certrepo/internal/activity"
	"certrepo/internal/models"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// OnTemplateCreated asks every active client reviewer to review tpl. The
// template status is left as the caller set it. It returns the number of
// review requests dispatched.
func (o *Orchestrator) OnTemplateCreated(ctx context.Context, tpl *models.Template) (dispatched int, err error) {
	if tpl == nil || tpl.ID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "template id is required")
	}
	ctx, end := o.begin(ctx, "OnTemplateCreated", attribute.String("template.id", tpl.ID))
	defer end(&err)

	key := "template_review_request:" + tpl.ID + ":" + records.FormatTime(tpl.UpdatedAt)
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionTemplateSubmitted,
		FromRole: models.RoleIssuingAuthority,
		ToRole:   models.RoleClientReviewer,
		EntityID: tpl.ID,
		ActorID:  tpl.OwnerID,
		Payload:  map[string]any{"ownerId": tpl.OwnerID, "name": tpl.Name},
	})
	dispatched = o.notifyRole(ctx, models.RoleClientReviewer, notification.Message{
		Key:     key,
		Type:    models.NotificationTemplateReviewRequest,
		Title:   "Template review requested",
		Message: "Template \"" + tpl.Name + "\" is waiting for your review.",
		Data:    map[string]any{"templateId": tpl.ID, "ownerId": tpl.OwnerID},
	})
	return dispatched, nil
}

// OnTemplateReviewed applies a client reviewer's decision, notifies the owner
// and, for approvals, activates the template.
func (o *Orchestrator) OnTemplateReviewed(ctx context.Context, templateID, reviewerID string, decision models.ReviewDecision, comments string) (err error) {
	ctx, end := o.begin(ctx, "OnTemplateReviewed",
		attribute.String("template.id", templateID),
		attribute.String("review.decision", string(decision)))
	defer end(&err)

	var (
		tpl     *models.Template
		applied bool
	)
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		reviewerRec, err := load(ctx, tx, records.CollectionUsers, "reviewer", reviewerID)
		if err != nil {
			return err
		}
		reviewer := models.UserFromRecord(reviewerRec)
		if !reviewer.IsActive() || (reviewer.Role != models.RoleClientReviewer && reviewer.Role != models.RoleAdministrator) {
			return dErrors.New(dErrors.CodeForbidden, "user "+reviewerID+" may not review templates")
		}

		rec, err := load(ctx, tx, records.CollectionTemplates, "template", templateID)
		if err != nil {
			return err
		}
		tpl = models.TemplateFromRecord(rec)
		target, apply, err := tpl.ReviewOutcome(decision)
		if err != nil {
			return err
		}
		if !apply {
			return nil
		}
		tpl.ApplyReview(target, reviewerID, comments, o.now().UTC())
		applied = true
		return tx.Apply(ctx, records.Merge(records.CollectionTemplates, tpl.ID, map[string]any{
			"status":           string(tpl.Status),
			"clientReviewerId": tpl.ClientReviewerID,
			"reviewComments":   tpl.ReviewComments,
			"approvedAt":       records.FormatTime(tpl.ApprovedAt),
			"updatedAt":        records.FormatTime(tpl.UpdatedAt),
		}))
	})
	if err != nil {
		return err
	}
	if applied {
		o.transitioned("template", string(tpl.Status))
	}

	o.announceDecision(ctx, tpl, decision, reviewerID, comments)

	if decision == models.DecisionApproved {
		return o.ActivateTemplate(ctx, tpl.ID)
	}
	return nil
}

// ActivateTemplate makes a client-approved template available for issuance.
// Templates that are already active are left alone; any other status is an
// invariant violation. The owner is told of the approval before the
// activation, whichever caller gets here first.
func (o *Orchestrator) ActivateTemplate(ctx context.Context, templateID string) (err error) {
	ctx, end := o.begin(ctx, "ActivateTemplate", attribute.String("template.id", templateID))
	defer end(&err)

	var (
		tpl     *models.Template
		applied bool
	)
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionTemplates, "template", templateID)
		if err != nil {
			return err
		}
		tpl = models.TemplateFromRecord(rec)
		if tpl.Status == models.TemplateStatusActive {
			return nil
		}
		if err := tpl.CanActivate(); err != nil {
			return err
		}
		tpl.ApplyActivation(o.now().UTC())
		applied = true
		return tx.Apply(ctx, records.Merge(records.CollectionTemplates, tpl.ID, map[string]any{
			"status":      string(tpl.Status),
			"activatedAt": records.FormatTime(tpl.ActivatedAt),
			"updatedAt":   records.FormatTime(tpl.UpdatedAt),
		}))
	})
	if err != nil {
		return err
	}
	if applied {
		o.transitioned("template", string(tpl.Status))
	}

	if !tpl.ApprovedAt.IsZero() {
		o.announceDecision(ctx, tpl, models.DecisionApproved, tpl.ClientReviewerID, tpl.ReviewComments)
	}

	key := "template_activated:" + tpl.ID
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionTemplateActivated,
		FromRole: models.RoleAdministrator,
		ToRole:   models.RoleIssuingAuthority,
		EntityID: tpl.ID,
		Payload:  map[string]any{"activatedAt": records.FormatTime(tpl.ActivatedAt)},
	})
	o.notify(ctx, tpl.OwnerID, notification.Message{
		Key:     key,
		Type:    models.NotificationTemplateActivated,
		Title:   "Template activated",
		Message: "Your template \"" + tpl.Name + "\" is now active and can be used for issuance.",
		Data:    map[string]any{"templateId": tpl.ID},
	})
	return nil
}

// SubmitTemplate moves a draft, or a template sent back for revision, into
// review and requests reviews for it.
func (o *Orchestrator) SubmitTemplate(ctx context.Context, templateID string) (err error) {
	ctx, end := o.begin(ctx, "SubmitTemplate", attribute.String("template.id", templateID))
	defer end(&err)

	var (
		tpl     *models.Template
		applied bool
	)
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionTemplates, "template", templateID)
		if err != nil {
			return err
		}
		tpl = models.TemplateFromRecord(rec)
		if tpl.Status == models.TemplateStatusPendingReview {
			return nil
		}
		if err := tpl.CanSubmit(); err != nil {
			return err
		}
		tpl.ApplySubmission(o.now().UTC())
		applied = true
		return tx.Apply(ctx, records.Merge(records.CollectionTemplates, tpl.ID, map[string]any{
			"status":    string(tpl.Status),
			"updatedAt": records.FormatTime(tpl.UpdatedAt),
		}))
	})
	if err != nil {
		return err
	}
	if applied {
		o.transitioned("template", string(tpl.Status))
	}
	_, err = o.OnTemplateCreated(ctx, tpl)
	return err
}

// announceDecision records a review decision and notifies the template owner.
// The key is derived from the decision time, so repeating it writes nothing.
func (o *Orchestrator) announceDecision(ctx context.Context, tpl *models.Template, decision models.ReviewDecision, reviewerID, comments string) {
	decidedAt := tpl.UpdatedAt
	if decision == models.DecisionApproved && !tpl.ApprovedAt.IsZero() {
		decidedAt = tpl.ApprovedAt
	}
	key := "template_decision:" + tpl.ID + ":" + string(decision) + ":" + records.FormatTime(decidedAt)
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionTemplateReviewed,
		FromRole: models.RoleClientReviewer,
		ToRole:   models.RoleIssuingAuthority,
		EntityID: tpl.ID,
		ActorID:  reviewerID,
		Payload:  map[string]any{"decision": string(decision), "comments": comments},
	})
	o.notify(ctx, tpl.OwnerID, notification.Message{
		Key:     key,
		Type:    models.NotificationTemplateDecision,
		Title:   "Template " + decisionLabel(decision),
		Message: "Your template \"" + tpl.Name + "\" was " + decisionLabel(decision) + ".",
		Data:    map[string]any{"templateId": tpl.ID, "decision": string(decision), "comments": comments},
	})
}

func decisionLabel(d models.ReviewDecision) string {
	switch d {
	case models.DecisionApproved:
		return "approved"
	case models.DecisionRejected:
		return "rejected"
	default:
		return "returned for revision"
	}
}
