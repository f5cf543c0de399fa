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

// OnCertificateIssued resolves the certificate's recipient, creating a
// placeholder user by email when needed, links it on the certificate, records
// the issuance and notifies the recipient. It returns the recipient id.
func (o *Orchestrator) OnCertificateIssued(ctx context.Context, cert *models.Certificate) (recipientID string, err error) {
	if cert == nil || cert.ID == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "certificate id is required")
	}
	ctx, end := o.begin(ctx, "OnCertificateIssued", attribute.String("certificate.id", cert.ID))
	defer end(&err)

	current, err := o.loadCertificate(ctx, cert.ID)
	if err != nil {
		return "", err
	}

	recipientID = current.RecipientID
	if recipientID == "" {
		if current.RecipientEmail == "" {
			return "", dErrors.Wrap(errNoRecipient, dErrors.CodeInvariantViolation, "certificate "+cert.ID+" cannot be delivered")
		}
		recipientID, err = o.ResolveOrCreateRecipient(ctx, current.RecipientEmail)
		if err != nil {
			return "", err
		}
		if err := o.linkRecipient(ctx, cert.ID, recipientID); err != nil {
			return "", err
		}
		o.transitioned("certificate", "recipient_linked")
	}

	issuerRole := models.RoleIssuingAuthority
	if issuer, err := o.store.Get(ctx, records.CollectionUsers, current.IssuerID); err == nil {
		issuerRole = models.UserFromRecord(issuer).Role
	}

	key := "certificate_issued:" + current.ID
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionCertificateIssued,
		FromRole: issuerRole,
		ToRole:   models.RoleRecipient,
		EntityID: current.ID,
		ActorID:  current.IssuerID,
		Payload:  map[string]any{"recipientId": recipientID, "templateId": current.TemplateID, "title": current.Title},
	})
	o.notify(ctx, recipientID, notification.Message{
		Key:     key,
		Type:    models.NotificationCertificateIssued,
		Title:   "New certificate",
		Message: "You have received the certificate \"" + current.Title + "\".",
		Data:    map[string]any{"certificateId": current.ID, "issuerId": current.IssuerID},
	})
	return recipientID, nil
}

func (o *Orchestrator) loadCertificate(ctx context.Context, id string) (*models.Certificate, error) {
	var cert *models.Certificate
	err := o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionCertificates, "certificate", id)
		if err != nil {
			return err
		}
		cert = models.CertificateFromRecord(rec)
		return nil
	})
	return cert, err
}

// linkRecipient sets recipientId only while it is still empty, so a racing
// delivery cannot overwrite a link made first.
func (o *Orchestrator) linkRecipient(ctx context.Context, certificateID, recipientID string) error {
	return o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionCertificates, "certificate", certificateID)
		if err != nil {
			return err
		}
		if existing := rec.String("recipientId"); existing != "" {
			if existing != recipientID {
				o.logger.WarnContext(ctx, "certificate already linked to another recipient",
					"certificate_id", certificateID,
					"recipient_id", existing,
				)
			}
			return nil
		}
		return tx.Apply(ctx, records.Merge(records.CollectionCertificates, certificateID, map[string]any{
			"recipientId": recipientID,
		}))
	})
}
