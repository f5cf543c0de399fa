package workflow

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"certrepo/internal/models"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// ResyncResult counts the backlog entries a resynchronization re-drove.
type ResyncResult struct {
	TemplatesReviewRequested int `json:"templates_review_requested"`
	TemplatesActivated       int `json:"templates_activated"`
	DocumentsSubmitted       int `json:"documents_submitted"`
	DocumentsReviewRequested int `json:"documents_review_requested"`
	Failed                   int `json:"failed"`
}

// Resynchronize re-drives the pending template and document backlogs through
// the handlers without waiting for change events. Handlers are idempotent, so
// already-delivered requests are not duplicated. Per-entity failures are
// counted and joined into the returned error; the sweep itself continues.
func (o *Orchestrator) Resynchronize(ctx context.Context) (res ResyncResult, err error) {
	ctx, end := o.begin(ctx, "Resynchronize")
	defer end(&err)

	var errs []error
	fail := func(kind, id string, err error) {
		res.Failed++
		errs = append(errs, dErrors.Wrap(err, dErrors.CodeOf(err), kind+" "+id))
	}

	pendingTemplates, err := o.byStatus(ctx, records.CollectionTemplates, string(models.TemplateStatusPendingReview))
	if err != nil {
		return res, err
	}
	for _, rec := range pendingTemplates {
		if _, err := o.OnTemplateCreated(ctx, models.TemplateFromRecord(rec)); err != nil {
			fail("template", rec.ID, err)
			continue
		}
		res.TemplatesReviewRequested++
	}

	approved, err := o.byStatus(ctx, records.CollectionTemplates, string(models.TemplateStatusClientApproved))
	if err != nil {
		return res, err
	}
	for _, rec := range approved {
		if err := o.ActivateTemplate(ctx, rec.ID); err != nil {
			fail("template", rec.ID, err)
			continue
		}
		res.TemplatesActivated++
	}

	uploaded, err := o.byStatus(ctx, records.CollectionDocuments, string(models.DocumentStatusUploaded))
	if err != nil {
		return res, err
	}
	submitted := make(map[string]bool, len(uploaded))
	for _, rec := range uploaded {
		submitted[rec.ID] = true
		if _, err := o.OnDocumentUploaded(ctx, models.DocumentFromRecord(rec)); err != nil {
			fail("document", rec.ID, err)
			continue
		}
		res.DocumentsSubmitted++
	}

	pendingDocs, err := o.byStatus(ctx, records.CollectionDocuments, string(models.DocumentStatusPending))
	if err != nil {
		return res, err
	}
	for _, rec := range pendingDocs {
		if submitted[rec.ID] {
			continue
		}
		o.RequestDocumentReview(ctx, models.DocumentFromRecord(rec))
		res.DocumentsReviewRequested++
	}

	o.logger.InfoContext(ctx, "workflow resynchronized",
		"templates_review_requested", res.TemplatesReviewRequested,
		"templates_activated", res.TemplatesActivated,
		"documents_submitted", res.DocumentsSubmitted,
		"documents_review_requested", res.DocumentsReviewRequested,
		"failed", res.Failed,
	)
	return res, errors.Join(errs...)
}

func (o *Orchestrator) byStatus(ctx context.Context, collection, status string) ([]records.Record, error) {
	ctx, span := o.tracer.Start(ctx, "workflow.byStatus")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.String("status", status))

	recs, err := o.store.Query(ctx, collection, records.Where("status", records.OpEq, status))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "query "+collection)
	}
	return recs, nil
}
