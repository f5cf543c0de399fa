// Package handler serves the engine's outward interface over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"certrepo/internal/admin"
	"certrepo/internal/health"
	"certrepo/internal/models"
	"certrepo/internal/platform/metrics"
	"certrepo/internal/platform/middleware"
	"certrepo/internal/validation"
	"certrepo/internal/workflow"
	dErrors "certrepo/pkg/domain-errors"
	"certrepo/pkg/platform/httputil"
)

// Service is the engine surface the admin API needs.
type Service interface {
	RunValidation(ctx context.Context, persist bool) (*validation.Report, error)
	CheckHealth(ctx context.Context) health.OverallHealth
	LatestHealth(ctx context.Context) health.OverallHealth
	SubscribeHealth() (<-chan health.OverallHealth, func())
	Stats(ctx context.Context) (health.Cached[health.Stats], error)
	ForceResynchronize(ctx context.Context) (workflow.ResyncResult, error)
}

// Workflow is the set of operator-triggered transitions.
type Workflow interface {
	SubmitTemplate(ctx context.Context, templateID string) error
	OnTemplateReviewed(ctx context.Context, templateID, reviewerID string, decision models.ReviewDecision, comments string) error
	OnDocumentReviewed(ctx context.Context, documentID, verifierID string, decision models.DocumentStatus, reason string) error
	ChangeUserStatus(ctx context.Context, userID string, next models.UserStatus, actorID string) error
}

// Handler handles the admin endpoints.
type Handler struct {
	service    Service
	workflow   Workflow
	logger     *slog.Logger
	metrics    *metrics.Metrics
	adminToken string
}

// New creates a Handler. A nil metrics disables /metrics and latency
// recording.
func New(service Service, wf Workflow, logger *slog.Logger, m *metrics.Metrics, adminToken string) *Handler {
	return &Handler{
		service:    service,
		workflow:   wf,
		logger:     logger,
		metrics:    m,
		adminToken: adminToken,
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	if h.metrics != nil {
		r.Use(middleware.Latency(h.metrics))
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	r.Get("/healthz", h.handleLiveness)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(middleware.Logger(h.logger))
		ar.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
		ar.Get("/validation", h.handleValidation)
		ar.Get("/health", h.handleHealth)
		ar.Get("/health/stream", h.handleHealthStream)
		ar.Get("/stats", h.handleStats)
		ar.Post("/resync", h.handleResync)
		ar.Post("/templates/{templateID}/submit", h.handleSubmitTemplate)
		ar.Post("/templates/{templateID}/review", h.handleReviewTemplate)
		ar.Post("/documents/{documentID}/review", h.handleReviewDocument)
		ar.Post("/users/{userID}/status", h.handleUserStatus)
	})
}

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	persist, err := boolQuery(r, "persist")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.RunValidation(ctx, persist)
	if err != nil && report == nil {
		h.logger.ErrorContext(ctx, "validation run failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if err != nil {
		h.logger.WarnContext(ctx, "validation report not persisted",
			"request_id", middleware.GetRequestID(ctx),
			"report_id", report.ID,
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, admin.ValidationResponse{
		Valid:     report.IsValid(),
		Persisted: persist && err == nil,
		Report:    report,
	})
}

// handleHealth returns the last periodic result, or runs the probes now with
// ?fresh=true. The status code follows the overall severity.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	fresh, err := boolQuery(r, "fresh")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var overall health.OverallHealth
	if fresh {
		overall = h.service.CheckHealth(r.Context())
	} else {
		overall = h.service.LatestHealth(r.Context())
	}
	status := http.StatusOK
	if health.SeverityRank(overall.Status) >= health.SeverityRank(health.StatusError) {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, overall)
}

// handleHealthStream streams every health result as a server-sent event until
// the client goes away or the aggregator stops.
func (h *Handler) handleHealthStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}
	feed, cancel := h.service.SubscribeHealth()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case overall, ok := <-feed:
			if !ok {
				return
			}
			payload, err := json.Marshal(overall)
			if err != nil {
				h.logger.ErrorContext(r.Context(), "encode health event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: health\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	cached, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, admin.StatsResponse{Stats: cached.Value, ComputedAt: cached.ComputedAt})
}

func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	res, err := h.service.ForceResynchronize(ctx)
	if err != nil && res.Failed == 0 {
		h.transitionFailed(w, r, "resynchronize", err)
		return
	}
	if err != nil {
		// Per-entity failures still report the progress made.
		h.logger.WarnContext(ctx, "resynchronization finished with failures",
			"request_id", middleware.GetRequestID(ctx),
			"failed", res.Failed,
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, admin.ResyncResponse{Result: res, DurationMS: time.Since(start).Milliseconds()})
}

func (h *Handler) handleSubmitTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.workflow.SubmitTemplate(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		h.transitionFailed(w, r, "submit template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req admin.TemplateReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ReviewerID) == "" || req.Decision == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "reviewer_id and decision are required"))
		return
	}
	err := h.workflow.OnTemplateReviewed(r.Context(), chi.URLParam(r, "templateID"), req.ReviewerID,
		models.ReviewDecision(req.Decision), req.Comments)
	if err != nil {
		h.transitionFailed(w, r, "review template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReviewDocument(w http.ResponseWriter, r *http.Request) {
	var req admin.DocumentReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.VerifierID) == "" || req.Decision == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "verifier_id and decision are required"))
		return
	}
	err := h.workflow.OnDocumentReviewed(r.Context(), chi.URLParam(r, "documentID"), req.VerifierID,
		models.DocumentStatus(req.Decision), req.Reason)
	if err != nil {
		h.transitionFailed(w, r, "review document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	var req admin.UserStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "status is required"))
		return
	}
	err := h.workflow.ChangeUserStatus(r.Context(), chi.URLParam(r, "userID"), models.UserStatus(req.Status), req.ActorID)
	if err != nil {
		h.transitionFailed(w, r, "change user status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid admin request body",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) transitionFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeBadRequest, "invalid "+key+" parameter")
	}
	return v, nil
}
