package models

import (
	"time"

	"certrepo/internal/records"
)

// NotificationType tags what a notification is about so the UI can route it.
type NotificationType string

const (
	NotificationTemplateReviewRequest NotificationType = "template_review_request"
	NotificationTemplateDecision      NotificationType = "template_decision"
	NotificationTemplateActivated     NotificationType = "template_activated"
	NotificationDocumentReviewRequest NotificationType = "document_review_request"
	NotificationDocumentDecision      NotificationType = "document_decision"
	NotificationCertificateIssued     NotificationType = "certificate_issued"
	NotificationAccountStatus         NotificationType = "account_status"
	NotificationWelcome               NotificationType = "welcome"
)

// Notification is a message addressed to one user. Only the dispatcher creates
// them; the UI flips Read.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
}

func (n *Notification) Fields() map[string]any {
	return map[string]any{
		"userId":    n.UserID,
		"type":      string(n.Type),
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"read":      n.Read,
		"createdAt": records.FormatTime(n.CreatedAt),
	}
}

func NotificationFromRecord(rec records.Record) *Notification {
	return &Notification{
		ID:        rec.ID,
		UserID:    rec.String("userId"),
		Type:      NotificationType(rec.String("type")),
		Title:     rec.String("title"),
		Message:   rec.String("message"),
		Data:      rec.Map("data"),
		Read:      rec.Bool("read"),
		CreatedAt: rec.Time("createdAt"),
	}
}
