package models

import (
	"strings"
	"time"

	"certrepo/internal/records"
)

// CertificateStatus only distinguishes issued from revoked; revocation itself
// is handled outside this engine.
type CertificateStatus string

const (
	CertificateStatusIssued  CertificateStatus = "issued"
	CertificateStatusRevoked CertificateStatus = "revoked"
)

// Certificate links an issuer to a recipient. It is immutable after issuance
// except for revocation status and the lazily resolved RecipientID.
type Certificate struct {
	ID             string
	IssuerID       string
	RecipientID    string
	RecipientEmail string
	RecipientName  string
	TemplateID     string
	Title          string
	Description    string
	Status         CertificateStatus
	IssuedAt       time.Time
}

// MissingDescriptiveFields lists required descriptive fields that are blank.
func (c *Certificate) MissingDescriptiveFields() []string {
	var missing []string
	if strings.TrimSpace(c.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(c.Description) == "" {
		missing = append(missing, "description")
	}
	return missing
}

func (c *Certificate) Fields() map[string]any {
	status := c.Status
	if status == "" {
		status = CertificateStatusIssued
	}
	return map[string]any{
		"issuerId":       c.IssuerID,
		"recipientId":    c.RecipientID,
		"recipientEmail": c.RecipientEmail,
		"recipientName":  c.RecipientName,
		"templateId":     c.TemplateID,
		"title":          c.Title,
		"description":    c.Description,
		"status":         string(status),
		"issuedAt":       records.FormatTime(c.IssuedAt),
	}
}

func CertificateFromRecord(rec records.Record) *Certificate {
	return &Certificate{
		ID:             rec.ID,
		IssuerID:       rec.String("issuerId"),
		RecipientID:    rec.String("recipientId"),
		RecipientEmail: rec.String("recipientEmail"),
		RecipientName:  rec.String("recipientName"),
		TemplateID:     rec.String("templateId"),
		Title:          rec.String("title"),
		Description:    rec.String("description"),
		Status:         CertificateStatus(rec.String("status")),
		IssuedAt:       rec.Time("issuedAt"),
	}
}
