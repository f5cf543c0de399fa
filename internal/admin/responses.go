// Package admin holds the request and response DTOs of the admin API.
package admin

import (
	"time"

	"certrepo/internal/health"
	"certrepo/internal/validation"
	"certrepo/internal/workflow"
)

// ValidationResponse is a report plus its verdict.
type ValidationResponse struct {
	Valid     bool               `json:"valid"`
	Persisted bool               `json:"persisted"`
	Report    *validation.Report `json:"report"`
}

// ResyncResponse reports what a forced resynchronization re-drove.
type ResyncResponse struct {
	Result     workflow.ResyncResult `json:"result"`
	DurationMS int64                 `json:"duration_ms"`
}

// StatsResponse wraps cached statistics with their age.
type StatsResponse struct {
	Stats      health.Stats `json:"stats"`
	ComputedAt time.Time    `json:"computed_at"`
}

// TemplateReviewRequest is a client reviewer's decision.
type TemplateReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Decision   string `json:"decision"`
	Comments   string `json:"comments"`
}

// DocumentReviewRequest is a verifier's decision.
type DocumentReviewRequest struct {
	VerifierID string `json:"verifier_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
}

// UserStatusRequest changes an account's status.
type UserStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
}
