package workflow

import (
	"context"
	"errors"

	"certrepo/internal/activity"
	"certrepo/internal/models"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
	"certrepo/pkg/ids"
)

// ResolveOrCreateRecipient returns the id of the user registered with email,
// creating a minimal active recipient when there is none. Placeholder ids are
// derived from the email, so concurrent or repeated calls converge on one user.
func (o *Orchestrator) ResolveOrCreateRecipient(ctx context.Context, email string) (string, error) {
	email = ids.NormalizeEmail(email)
	if email == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "recipient email is required")
	}

	existing, err := o.store.Query(ctx, records.CollectionUsers, records.Where("email", records.OpEq, email))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "look up recipient")
	}
	if len(existing) > 0 {
		return preferRegistered(existing).ID, nil
	}

	user := models.NewPlaceholderRecipient(ids.ForEmail(email), email, o.now().UTC())
	err = o.store.BatchWrite(ctx, []records.Mutation{
		records.Create(records.CollectionUsers, user.ID, user.Fields()),
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "create recipient")
	}
	o.record(ctx, activity.Entry{
		Key:      "recipient_provisioned:" + user.ID,
		Type:     models.InteractionRecipientProvision,
		FromRole: models.RoleIssuingAuthority,
		ToRole:   models.RoleRecipient,
		EntityID: user.ID,
		Payload:  map[string]any{"email": email},
	})
	return user.ID, nil
}

// preferRegistered picks a registered account over a placeholder when both
// carry the same email. recs is sorted by id.
func preferRegistered(recs []records.Record) records.Record {
	for _, rec := range recs {
		if !rec.Bool("placeholder") {
			return rec
		}
	}
	return recs[0]
}

var errNoRecipient = errors.New("certificate has neither recipient id nor recipient email")
