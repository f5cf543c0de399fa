package models

import (
	"time"

	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// DocumentStatus is the verification lifecycle: uploaded → pending → {verified | rejected}.
type DocumentStatus string

const (
	DocumentStatusUploaded DocumentStatus = "uploaded"
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusVerified DocumentStatus = "verified"
	DocumentStatusRejected DocumentStatus = "rejected"
)

func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentStatusUploaded:
		return next == DocumentStatusPending
	case DocumentStatusPending:
		return next == DocumentStatusVerified || next == DocumentStatusRejected
	}
	return false
}

// Document is a user-submitted file awaiting issuing-authority verification.
type Document struct {
	ID              string
	Title           string
	UploaderID      string
	Status          DocumentStatus
	VerifierID      string
	FileRef         string
	Hash            string
	RejectionReason string
	UploadedAt      time.Time
	ReviewedAt      time.Time
	UpdatedAt       time.Time
}

// NeedsSubmission reports whether the uploaded → pending step is still due.
// Documents already past it make redelivered upload events a no-op.
func (d *Document) NeedsSubmission() (bool, error) {
	switch d.Status {
	case DocumentStatusUploaded:
		return true, nil
	case DocumentStatusPending, DocumentStatusVerified, DocumentStatusRejected:
		return false, nil
	}
	return false, dErrors.New(dErrors.CodeInvariantViolation, "document has unknown status "+string(d.Status))
}

func (d *Document) ApplySubmission(now time.Time) {
	d.Status = DocumentStatusPending
	d.UpdatedAt = now
}

// ReviewOutcome mirrors Template.ReviewOutcome for verification decisions.
func (d *Document) ReviewOutcome(target DocumentStatus) (bool, error) {
	if target != DocumentStatusVerified && target != DocumentStatusRejected {
		return false, dErrors.New(dErrors.CodeBadRequest, "unknown document decision: "+string(target))
	}
	if d.Status == target {
		return false, nil
	}
	if !d.Status.CanTransitionTo(target) {
		return false, dErrors.New(dErrors.CodeInvariantViolation,
			"document in status "+string(d.Status)+" cannot become "+string(target))
	}
	return true, nil
}

func (d *Document) ApplyReview(target DocumentStatus, verifierID, reason string, now time.Time) {
	d.Status = target
	d.VerifierID = verifierID
	d.RejectionReason = reason
	d.ReviewedAt = now
	d.UpdatedAt = now
}

func (d *Document) Fields() map[string]any {
	return map[string]any{
		"title":           d.Title,
		"uploaderId":      d.UploaderID,
		"status":          string(d.Status),
		"verifierId":      d.VerifierID,
		"fileRef":         d.FileRef,
		"hash":            d.Hash,
		"rejectionReason": d.RejectionReason,
		"uploadedAt":      records.FormatTime(d.UploadedAt),
		"reviewedAt":      records.FormatTime(d.ReviewedAt),
		"updatedAt":       records.FormatTime(d.UpdatedAt),
	}
}

func DocumentFromRecord(rec records.Record) *Document {
	return &Document{
		ID:              rec.ID,
		Title:           rec.String("title"),
		UploaderID:      rec.String("uploaderId"),
		Status:          DocumentStatus(rec.String("status")),
		VerifierID:      rec.String("verifierId"),
		FileRef:         rec.String("fileRef"),
		Hash:            rec.String("hash"),
		RejectionReason: rec.String("rejectionReason"),
		UploadedAt:      rec.Time("uploadedAt"),
		ReviewedAt:      rec.Time("reviewedAt"),
		UpdatedAt:       rec.Time("updatedAt"),
	}
}
