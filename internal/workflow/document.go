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

// OnDocumentUploaded moves an uploaded document to pending and asks every
// active issuing authority to verify it. A missing document record is a
// transition error. Documents already past uploaded are left alone and no
// review requests are sent, so redelivery is a no-op.
func (o *Orchestrator) OnDocumentUploaded(ctx context.Context, doc *models.Document) (dispatched int, err error) {
	if doc == nil || doc.ID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "document id is required")
	}
	ctx, end := o.begin(ctx, "OnDocumentUploaded", attribute.String("document.id", doc.ID))
	defer end(&err)

	var (
		current *models.Document
		applied bool
	)
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionDocuments, "document", doc.ID)
		if err != nil {
			return err
		}
		current = models.DocumentFromRecord(rec)
		due, err := current.NeedsSubmission()
		if err != nil || !due {
			return err
		}
		current.ApplySubmission(o.now().UTC())
		applied = true
		return tx.Apply(ctx, records.Merge(records.CollectionDocuments, current.ID, map[string]any{
			"status":    string(current.Status),
			"updatedAt": records.FormatTime(current.UpdatedAt),
		}))
	})
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, nil
	}
	o.transitioned("document", string(current.Status))
	return o.RequestDocumentReview(ctx, current), nil
}

// RequestDocumentReview records the submission of a pending document and
// sends its review requests. It is keyed by document, so repeating it only
// fills in requests that failed earlier.
func (o *Orchestrator) RequestDocumentReview(ctx context.Context, doc *models.Document) int {
	key := "document_review_request:" + doc.ID
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionDocumentSubmitted,
		FromRole: models.RoleRecipient,
		ToRole:   models.RoleIssuingAuthority,
		EntityID: doc.ID,
		ActorID:  doc.UploaderID,
		Payload:  map[string]any{"uploaderId": doc.UploaderID, "hash": doc.Hash},
	})
	return o.notifyRole(ctx, models.RoleIssuingAuthority, notification.Message{
		Key:     key,
		Type:    models.NotificationDocumentReviewRequest,
		Title:   "Document awaiting verification",
		Message: "A new document \"" + doc.Title + "\" needs verification.",
		Data:    map[string]any{"documentId": doc.ID, "uploaderId": doc.UploaderID},
	})
}

// OnDocumentReviewed records an issuing authority's verification decision and
// notifies the uploader. The verifier must be an active issuing authority or
// administrator.
func (o *Orchestrator) OnDocumentReviewed(ctx context.Context, documentID, verifierID string, decision models.DocumentStatus, reason string) (err error) {
	ctx, end := o.begin(ctx, "OnDocumentReviewed",
		attribute.String("document.id", documentID),
		attribute.String("review.decision", string(decision)))
	defer end(&err)

	var (
		doc      *models.Document
		verifier *models.User
		applied  bool
	)
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		verifierRec, err := load(ctx, tx, records.CollectionUsers, "verifier", verifierID)
		if err != nil {
			return err
		}
		verifier = models.UserFromRecord(verifierRec)
		if !verifier.IsActive() || !verifier.Role.CanVerify() {
			return dErrors.New(dErrors.CodeForbidden, "user "+verifierID+" may not verify documents")
		}

		rec, err := load(ctx, tx, records.CollectionDocuments, "document", documentID)
		if err != nil {
			return err
		}
		doc = models.DocumentFromRecord(rec)
		apply, err := doc.ReviewOutcome(decision)
		if err != nil || !apply {
			return err
		}
		doc.ApplyReview(decision, verifierID, reason, o.now().UTC())
		applied = true
		return tx.Apply(ctx, records.Merge(records.CollectionDocuments, doc.ID, map[string]any{
			"status":          string(doc.Status),
			"verifierId":      doc.VerifierID,
			"rejectionReason": doc.RejectionReason,
			"reviewedAt":      records.FormatTime(doc.ReviewedAt),
			"updatedAt":       records.FormatTime(doc.UpdatedAt),
		}))
	})
	if err != nil {
		return err
	}
	if applied {
		o.transitioned("document", string(doc.Status))
	}

	key := "document_decision:" + doc.ID + ":" + string(doc.Status)
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionDocumentReviewed,
		FromRole: verifier.Role,
		ToRole:   models.RoleRecipient,
		EntityID: doc.ID,
		ActorID:  verifierID,
		Payload:  map[string]any{"decision": string(decision), "reason": reason},
	})
	o.notify(ctx, doc.UploaderID, notification.Message{
		Key:     key,
		Type:    models.NotificationDocumentDecision,
		Title:   "Document " + string(doc.Status),
		Message: "Your document \"" + doc.Title + "\" was " + string(doc.Status) + ".",
		Data:    map[string]any{"documentId": doc.ID, "status": string(doc.Status), "reason": reason},
	})
	return nil
}
