package validation

import (
	"time"

	"certrepo/internal/records"
)

// Severity classifies one finding.
type Severity string

const (
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Finding is the outcome of one check against one entity.
type Finding struct {
	Severity   Severity `json:"severity"`
	Check      string   `json:"check"`
	Collection string   `json:"collection,omitempty"`
	EntityID   string   `json:"entity_id,omitempty"`
	Message    string   `json:"message"`
}

// Report is the result of one validator run. Every check lands in exactly
// one of the four lists.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Successes   []Finding `json:"successes"`
	Warnings    []Finding `json:"warnings"`
	Errors      []Finding `json:"errors"`
	Critical    []Finding `json:"critical"`
}

// IsValid is true when there are no errors and no critical errors. Warnings
// do not count.
func (r *Report) IsValid() bool {
	return len(r.Errors) == 0 && len(r.Critical) == 0
}

// Findings returns every non-success finding, most severe first.
func (r *Report) Findings() []Finding {
	out := make([]Finding, 0, len(r.Critical)+len(r.Errors)+len(r.Warnings))
	out = append(out, r.Critical...)
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// ForEntity returns the non-success findings about one entity.
func (r *Report) ForEntity(id string) []Finding {
	var out []Finding
	for _, f := range r.Findings() {
		if f.EntityID == id {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) add(f Finding) {
	switch f.Severity {
	case SeveritySuccess:
		r.Successes = append(r.Successes, f)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, f)
	case SeverityError:
		r.Errors = append(r.Errors, f)
	case SeverityCritical:
		r.Critical = append(r.Critical, f)
	}
}

func (r *Report) pass(check, collection, id, msg string) {
	r.add(Finding{Severity: SeveritySuccess, Check: check, Collection: collection, EntityID: id, Message: msg})
}

func (r *Report) fail(sev Severity, check, collection, id, msg string) {
	r.add(Finding{Severity: sev, Check: check, Collection: collection, EntityID: id, Message: msg})
}

// Fields encodes the report for the validation_reports collection.
func (r *Report) Fields() map[string]any {
	encode := func(fs []Finding) []any {
		out := make([]any, 0, len(fs))
		for _, f := range fs {
			out = append(out, map[string]any{
				"severity":   string(f.Severity),
				"check":      f.Check,
				"collection": f.Collection,
				"entityId":   f.EntityID,
				"message":    f.Message,
			})
		}
		return out
	}
	return map[string]any{
		"generatedAt":  records.FormatTime(r.GeneratedAt),
		"valid":        r.IsValid(),
		"successCount": len(r.Successes),
		"warnings":     encode(r.Warnings),
		"errors":       encode(r.Errors),
		"critical":     encode(r.Critical),
	}
}
