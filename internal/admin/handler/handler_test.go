package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certrepo/internal/admin"
	"certrepo/internal/admin/handler/mocks"
	"certrepo/internal/health"
	"certrepo/internal/models"
	"certrepo/internal/platform/metrics"
	"certrepo/internal/validation"
	"certrepo/internal/workflow"
	dErrors "certrepo/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/admin-mocks.go -package=mocks Service,Workflow

// =============================================================================
// Admin Handler Test Suite
// =============================================================================
// Justification for unit tests: status codes and error mapping of the admin
// API are its contract with operators and probes.

type AdminHandlerSuite struct {
	suite.Suite
	service  *mocks.MockService
	workflow *mocks.MockWorkflow
	router   chi.Router
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

func (s *AdminHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.workflow = mocks.NewMockWorkflow(ctrl)
	s.router = s.newRouter("")
}

func (s *AdminHandlerSuite) newRouter(token string) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(s.service, s.workflow, logger, metrics.New(), token).Register(r)
	return r
}

func (s *AdminHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(method, path, reader))
	return w
}

func (s *AdminHandlerSuite) decode(w *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), dst))
}

func invalidReport() *validation.Report {
	return &validation.Report{
		ID: "r1",
		Errors: []validation.Finding{{
			Severity: validation.SeverityError, Check: "certificate_issuer", EntityID: "c2", Message: "issuer missing",
		}},
	}
}

// =============================================================================
// Liveness and Metrics
// =============================================================================

func (s *AdminHandlerSuite) TestLivenessAndMetrics() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/healthz", nil).Code)

	w := s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "go_goroutines")
}

// =============================================================================
// Validation
// =============================================================================

func (s *AdminHandlerSuite) TestValidation() {
	s.Run("report is returned with its verdict", func() {
		s.service.EXPECT().RunValidation(gomock.Any(), false).Return(invalidReport(), nil)
		w := s.do(http.MethodGet, "/admin/validation", nil)
		s.Equal(http.StatusOK, w.Code)

		var resp admin.ValidationResponse
		s.decode(w, &resp)
		s.False(resp.Valid)
		s.False(resp.Persisted)
		s.Require().Len(resp.Report.Errors, 1)
		s.Equal("c2", resp.Report.Errors[0].EntityID)
	})

	s.Run("persist flag is forwarded", func() {
		s.service.EXPECT().RunValidation(gomock.Any(), true).Return(&validation.Report{ID: "r2"}, nil)
		var resp admin.ValidationResponse
		w := s.do(http.MethodGet, "/admin/validation?persist=true", nil)
		s.decode(w, &resp)
		s.True(resp.Persisted)
		s.True(resp.Valid)
	})

	s.Run("persist failure still returns the report", func() {
		s.service.EXPECT().RunValidation(gomock.Any(), true).
			Return(&validation.Report{ID: "r3"}, dErrors.New(dErrors.CodeUnavailable, "persist validation report"))
		var resp admin.ValidationResponse
		w := s.do(http.MethodGet, "/admin/validation?persist=1", nil)
		s.Equal(http.StatusOK, w.Code)
		s.decode(w, &resp)
		s.False(resp.Persisted)
	})

	s.Run("store outage is unavailable", func() {
		s.service.EXPECT().RunValidation(gomock.Any(), false).
			Return(nil, dErrors.New(dErrors.CodeUnavailable, "load users"))
		s.Equal(http.StatusServiceUnavailable, s.do(http.MethodGet, "/admin/validation", nil).Code)
	})

	s.Run("malformed flag is a bad request", func() {
		s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/admin/validation?persist=maybe", nil).Code)
	})
}

// =============================================================================
// Health
// =============================================================================

func (s *AdminHandlerSuite) TestHealth() {
	s.Run("latest result by default", func() {
		s.service.EXPECT().LatestHealth(gomock.Any()).Return(health.OverallHealth{Status: health.StatusWarning})
		w := s.do(http.MethodGet, "/admin/health", nil)
		s.Equal(http.StatusOK, w.Code)

		var h health.OverallHealth
		s.decode(w, &h)
		s.Equal(health.StatusWarning, h.Status)
	})

	s.Run("fresh check on request", func() {
		s.service.EXPECT().CheckHealth(gomock.Any()).Return(health.OverallHealth{Status: health.StatusHealthy})
		s.Equal(http.StatusOK, s.do(http.MethodGet, "/admin/health?fresh=true", nil).Code)
	})

	s.Run("error and critical are unavailable", func() {
		s.service.EXPECT().LatestHealth(gomock.Any()).Return(health.OverallHealth{Status: health.StatusCritical})
		s.Equal(http.StatusServiceUnavailable, s.do(http.MethodGet, "/admin/health", nil).Code)
	})
}

func (s *AdminHandlerSuite) TestHealthStream() {
	feed := make(chan health.OverallHealth, 2)
	cancelled := false
	s.service.EXPECT().SubscribeHealth().Return((<-chan health.OverallHealth)(feed), func() { cancelled = true })

	feed <- health.OverallHealth{Status: health.StatusHealthy}
	feed <- health.OverallHealth{Status: health.StatusError}
	close(feed)

	w := s.do(http.MethodGet, "/admin/health/stream", nil)
	s.Equal("text/event-stream", w.Header().Get("Content-Type"))
	s.Equal(2, strings.Count(w.Body.String(), "event: health\n"))
	s.Contains(w.Body.String(), `"status":"error"`)
	s.True(cancelled)
}

func (s *AdminHandlerSuite) TestStats() {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.service.EXPECT().Stats(gomock.Any()).Return(health.Cached[health.Stats]{
		Value:      health.Stats{Certificates: 4, UnlinkedCertificates: 1},
		ComputedAt: at,
	}, nil)

	var resp admin.StatsResponse
	w := s.do(http.MethodGet, "/admin/stats", nil)
	s.Equal(http.StatusOK, w.Code)
	s.decode(w, &resp)
	s.Equal(4, resp.Stats.Certificates)
	s.True(at.Equal(resp.ComputedAt))
}

// =============================================================================
// Resynchronization
// =============================================================================

func (s *AdminHandlerSuite) TestResync() {
	s.Run("result is returned", func() {
		s.service.EXPECT().ForceResynchronize(gomock.Any()).Return(workflow.ResyncResult{DocumentsSubmitted: 2}, nil)
		var resp admin.ResyncResponse
		w := s.do(http.MethodPost, "/admin/resync", nil)
		s.Equal(http.StatusOK, w.Code)
		s.decode(w, &resp)
		s.Equal(2, resp.Result.DocumentsSubmitted)
	})

	s.Run("concurrent run is a conflict", func() {
		s.service.EXPECT().ForceResynchronize(gomock.Any()).
			Return(workflow.ResyncResult{}, dErrors.New(dErrors.CodeConflict, "resynchronization already running"))
		s.Equal(http.StatusConflict, s.do(http.MethodPost, "/admin/resync", nil).Code)
	})

	s.Run("partial failure reports progress", func() {
		s.service.EXPECT().ForceResynchronize(gomock.Any()).
			Return(workflow.ResyncResult{TemplatesActivated: 1, Failed: 1}, errors.New("template t9: boom"))
		var resp admin.ResyncResponse
		w := s.do(http.MethodPost, "/admin/resync", nil)
		s.Equal(http.StatusOK, w.Code)
		s.decode(w, &resp)
		s.Equal(1, resp.Result.Failed)
	})

	s.Run("get is not allowed", func() {
		s.Equal(http.StatusMethodNotAllowed, s.do(http.MethodGet, "/admin/resync", nil).Code)
	})
}

// =============================================================================
// Workflow Transitions
// =============================================================================

func (s *AdminHandlerSuite) TestTransitions() {
	s.Run("submit template", func() {
		s.workflow.EXPECT().SubmitTemplate(gomock.Any(), "t1").Return(nil)
		s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/admin/templates/t1/submit", nil).Code)
	})

	s.Run("review template", func() {
		s.workflow.EXPECT().OnTemplateReviewed(gomock.Any(), "t1", "rev1", models.DecisionApproved, "looks good").Return(nil)
		w := s.do(http.MethodPost, "/admin/templates/t1/review",
			admin.TemplateReviewRequest{ReviewerID: "rev1", Decision: "approved", Comments: "looks good"})
		s.Equal(http.StatusNoContent, w.Code)
	})

	s.Run("review requires a reviewer", func() {
		w := s.do(http.MethodPost, "/admin/templates/t1/review", admin.TemplateReviewRequest{Decision: "approved"})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("forbidden verifier", func() {
		s.workflow.EXPECT().OnDocumentReviewed(gomock.Any(), "d1", "u9", models.DocumentStatusVerified, "").
			Return(dErrors.New(dErrors.CodeForbidden, "verifier cannot verify documents"))
		w := s.do(http.MethodPost, "/admin/documents/d1/review", admin.DocumentReviewRequest{VerifierID: "u9", Decision: "verified"})
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("user status change", func() {
		s.workflow.EXPECT().ChangeUserStatus(gomock.Any(), "ca1", models.UserStatusActive, "admin").Return(nil)
		w := s.do(http.MethodPost, "/admin/users/ca1/status", admin.UserStatusRequest{Status: "active", ActorID: "admin"})
		s.Equal(http.StatusNoContent, w.Code)
	})

	s.Run("unknown template is not found", func() {
		s.workflow.EXPECT().SubmitTemplate(gomock.Any(), "nope").Return(dErrors.New(dErrors.CodeNotFound, "template nope not found"))
		s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/admin/templates/nope/submit", nil).Code)
	})

	s.Run("malformed body", func() {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/users/ca1/status", strings.NewReader("{")))
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// Admin Token
// =============================================================================

func (s *AdminHandlerSuite) TestAdminToken() {
	s.router = s.newRouter("secret")

	s.Run("admin routes require the token", func() {
		s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/admin/health", nil).Code)
	})

	s.Run("liveness stays open", func() {
		s.Equal(http.StatusOK, s.do(http.MethodGet, "/healthz", nil).Code)
	})

	s.Run("token grants access", func() {
		s.service.EXPECT().LatestHealth(gomock.Any()).Return(health.OverallHealth{Status: health.StatusHealthy})
		req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
		req.Header.Set("X-Admin-Token", "secret")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusOK, w.Code)
	})
}
