// Package validation audits referential and domain invariants across the
// record collections and reports every check as a severity-classified
// finding. The validator only reads, except when asked to persist a report.
package validation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"certrepo/internal/models"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
	"certrepo/pkg/ids"
)

const tracerName = "certrepo/internal/validation"

// Check names used in findings.
const (
	CheckDocumentUploader    = "document_uploader"
	CheckDocumentVerifier    = "document_verifier"
	CheckCertificateIssuer   = "certificate_issuer"
	CheckCertificateReceiver = "certificate_recipient"
	CheckCertificateFields   = "certificate_fields"
	CheckTemplateOwner       = "template_owner"
	CheckTemplateReviewer    = "template_reviewer"
	CheckTemplateApproval    = "template_approval"
	CheckAdministrator       = "administrator_presence"
	CheckApprovalBacklog     = "approval_backlog"
)

// Validator walks the user, document, certificate and template collections.
type Validator struct {
	store   records.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the Validator.
type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func New(store records.Store, opts ...Option) *Validator {
	v := &Validator{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type snapshot struct {
	users        map[string]*models.User
	documents    []*models.Document
	certificates []*models.Certificate
	templates    []*models.Template
}

// Validate runs every check. The error is non-nil only when the collections
// could not be read; findings never surface as errors.
func (v *Validator) Validate(ctx context.Context) (report *Report, err error) {
	return v.run(ctx, "full", true)
}

// ValidateLinks runs only the cross-entity reference checks. Administrator
// presence and backlog checks are left to their own health probes.
func (v *Validator) ValidateLinks(ctx context.Context) (*Report, error) {
	return v.run(ctx, "links", false)
}

func (v *Validator) run(ctx context.Context, scope string, full bool) (report *Report, err error) {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "validation."+scope)
	defer func() {
		outcome := "valid"
		switch {
		case err != nil:
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !report.IsValid():
			outcome = "invalid"
		}
		if v.metrics != nil {
			v.metrics.Runs.WithLabelValues(scope, outcome).Inc()
			if full && err == nil {
				v.metrics.observe(report, start)
			}
		}
		span.End()
	}()

	snap, err := v.load(ctx)
	if err != nil {
		return nil, err
	}

	report = &Report{ID: ids.New(), GeneratedAt: v.now().UTC()}
	checkDocuments(report, snap)
	checkCertificates(report, snap)
	checkTemplates(report, snap, full)
	if full {
		checkAdministrators(report, snap)
		checkBacklog(report, snap)
	}

	span.SetAttributes(
		attribute.Int("validation.errors", len(report.Errors)),
		attribute.Int("validation.critical", len(report.Critical)),
	)
	level := slog.LevelDebug
	if !report.IsValid() {
		level = slog.LevelWarn
	}
	v.logger.Log(ctx, level, "validation finished",
		"scope", scope,
		"successes", len(report.Successes),
		"warnings", len(report.Warnings),
		"errors", len(report.Errors),
		"critical", len(report.Critical),
	)
	return report, nil
}

// Persist stores report in the validation_reports collection.
func (v *Validator) Persist(ctx context.Context, report *Report) error {
	if report == nil {
		return errors.New("report is required")
	}
	err := v.store.BatchWrite(ctx, []records.Mutation{
		records.Create(records.CollectionValidationReports, report.ID, report.Fields()),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist validation report")
	}
	return nil
}

func (v *Validator) load(ctx context.Context) (*snapshot, error) {
	var (
		users, docs, certs, tpls []records.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range []struct {
		collection string
		dst        *[]records.Record
	}{
		{records.CollectionUsers, &users},
		{records.CollectionDocuments, &docs},
		{records.CollectionCertificates, &certs},
		{records.CollectionTemplates, &tpls},
	} {
		g.Go(func() error {
			recs, err := v.store.Query(gctx, q.collection, records.All)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "load "+q.collection)
			}
			*q.dst = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &snapshot{users: make(map[string]*models.User, len(users))}
	for _, rec := range users {
		snap.users[rec.ID] = models.UserFromRecord(rec)
	}
	for _, rec := range docs {
		snap.documents = append(snap.documents, models.DocumentFromRecord(rec))
	}
	for _, rec := range certs {
		snap.certificates = append(snap.certificates, models.CertificateFromRecord(rec))
	}
	for _, rec := range tpls {
		snap.templates = append(snap.templates, models.TemplateFromRecord(rec))
	}
	return snap, nil
}

func checkDocuments(r *Report, snap *snapshot) {
	const coll = records.CollectionDocuments
	for _, d := range snap.documents {
		if _, ok := snap.users[d.UploaderID]; ok {
			r.pass(CheckDocumentUploader, coll, d.ID, "uploader resolves")
		} else {
			r.fail(SeverityError, CheckDocumentUploader, coll, d.ID, "uploader "+quote(d.UploaderID)+" not found")
		}

		if d.VerifierID == "" {
			if d.Status == models.DocumentStatusVerified {
				r.fail(SeverityError, CheckDocumentVerifier, coll, d.ID, "verified document has no verifier")
			}
			continue
		}
		verifier, ok := snap.users[d.VerifierID]
		switch {
		case !ok:
			r.fail(SeverityError, CheckDocumentVerifier, coll, d.ID, "verifier "+quote(d.VerifierID)+" not found")
		case !verifier.Role.CanVerify():
			r.fail(SeverityError, CheckDocumentVerifier, coll, d.ID, "verifier "+quote(d.VerifierID)+" has role "+string(verifier.Role))
		default:
			r.pass(CheckDocumentVerifier, coll, d.ID, "verifier resolves with role "+string(verifier.Role))
		}
	}
}

func checkCertificates(r *Report, snap *snapshot) {
	const coll = records.CollectionCertificates
	for _, c := range snap.certificates {
		issuer, ok := snap.users[c.IssuerID]
		switch {
		case !ok:
			r.fail(SeverityError, CheckCertificateIssuer, coll, c.ID, "issuer "+quote(c.IssuerID)+" not found")
		case !issuer.Role.CanVerify():
			r.fail(SeverityError, CheckCertificateIssuer, coll, c.ID, "issuer "+quote(c.IssuerID)+" has role "+string(issuer.Role))
		default:
			r.pass(CheckCertificateIssuer, coll, c.ID, "issuer resolves with role "+string(issuer.Role))
		}

		if c.RecipientID != "" {
			if _, ok := snap.users[c.RecipientID]; ok {
				r.pass(CheckCertificateReceiver, coll, c.ID, "recipient resolves")
			} else {
				r.fail(SeverityError, CheckCertificateReceiver, coll, c.ID, "recipient "+quote(c.RecipientID)+" not found")
			}
		}

		if missing := c.MissingDescriptiveFields(); len(missing) > 0 {
			for _, field := range missing {
				r.fail(SeverityError, CheckCertificateFields, coll, c.ID, field+" is empty")
			}
		} else {
			r.pass(CheckCertificateFields, coll, c.ID, "descriptive fields present")
		}
	}
}

func checkTemplates(r *Report, snap *snapshot, full bool) {
	const coll = records.CollectionTemplates
	for _, t := range snap.templates {
		owner, ok := snap.users[t.OwnerID]
		switch {
		case !ok:
			r.fail(SeverityError, CheckTemplateOwner, coll, t.ID, "owner "+quote(t.OwnerID)+" not found")
		case full && !owner.Role.CanVerify():
			r.fail(SeverityError, CheckTemplateOwner, coll, t.ID, "owner "+quote(t.OwnerID)+" has role "+string(owner.Role))
		default:
			r.pass(CheckTemplateOwner, coll, t.ID, "owner resolves")
		}

		if t.ClientReviewerID != "" {
			if _, ok := snap.users[t.ClientReviewerID]; ok {
				r.pass(CheckTemplateReviewer, coll, t.ID, "client reviewer resolves")
			} else {
				r.fail(SeverityError, CheckTemplateReviewer, coll, t.ID, "client reviewer "+quote(t.ClientReviewerID)+" not found")
			}
		}

		if full && t.Status == models.TemplateStatusActive {
			if t.ApprovedAt.IsZero() {
				r.fail(SeverityError, CheckTemplateApproval, coll, t.ID, "active template was never client approved")
			} else {
				r.pass(CheckTemplateApproval, coll, t.ID, "active template was client approved")
			}
		}
	}
}

func checkAdministrators(r *Report, snap *snapshot) {
	n := 0
	for _, u := range snap.users {
		if u.Role == models.RoleAdministrator && u.IsActive() {
			n++
		}
	}
	if n == 0 {
		r.fail(SeverityCritical, CheckAdministrator, records.CollectionUsers, "", "no active administrator")
		return
	}
	r.pass(CheckAdministrator, records.CollectionUsers, "", strconv.Itoa(n)+" active administrator(s)")
}

func checkBacklog(r *Report, snap *snapshot) {
	n := 0
	for _, u := range snap.users {
		if u.Role == models.RoleIssuingAuthority && u.Status == models.UserStatusPending {
			n++
		}
	}
	if n > 0 {
		r.fail(SeverityWarning, CheckApprovalBacklog, records.CollectionUsers, "", strconv.Itoa(n)+" issuing authority account(s) awaiting approval")
		return
	}
	r.pass(CheckApprovalBacklog, records.CollectionUsers, "", "no issuing authority accounts awaiting approval")
}

func quote(id string) string {
	return strconv.Quote(id)
}
