package models

import (
	"time"

	"certrepo/internal/records"
)

// InteractionType names a cross-role workflow event.
type InteractionType string

const (
	InteractionTemplateSubmitted  InteractionType = "template_submitted"
	InteractionTemplateReviewed   InteractionType = "template_reviewed"
	InteractionTemplateActivated  InteractionType = "template_activated"
	InteractionDocumentSubmitted  InteractionType = "document_submitted"
	InteractionDocumentReviewed   InteractionType = "document_reviewed"
	InteractionCertificateIssued  InteractionType = "certificate_issued"
	InteractionUserStatusChanged  InteractionType = "user_status_changed"
	InteractionRecipientProvision InteractionType = "recipient_provisioned"
)

// Interaction is a write-once audit entry describing one cross-role event.
type Interaction struct {
	ID        string
	Type      InteractionType
	FromRole  Role
	ToRole    Role
	EntityID  string
	ActorID   string
	Payload   map[string]any
	Timestamp time.Time
}

func (i *Interaction) Fields() map[string]any {
	return map[string]any{
		"type":      string(i.Type),
		"fromRole":  string(i.FromRole),
		"toRole":    string(i.ToRole),
		"entityId":  i.EntityID,
		"actorId":   i.ActorID,
		"payload":   i.Payload,
		"timestamp": records.FormatTime(i.Timestamp),
	}
}

func InteractionFromRecord(rec records.Record) *Interaction {
	return &Interaction{
		ID:        rec.ID,
		Type:      InteractionType(rec.String("type")),
		FromRole:  Role(rec.String("fromRole")),
		ToRole:    Role(rec.String("toRole")),
		EntityID:  rec.String("entityId"),
		ActorID:   rec.String("actorId"),
		Payload:   rec.Map("payload"),
		Timestamp: rec.Time("timestamp"),
	}
}
