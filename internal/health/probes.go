package health

import (
	"context"
	"strconv"
	"time"

	"certrepo/internal/models"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	"certrepo/internal/validation"
)

// ProbeFunc produces one component snapshot. A returned error or a panic is
// reported as critical for that component.
type ProbeFunc func(ctx context.Context) (ComponentHealth, error)

// Probe is a named ProbeFunc.
type Probe struct {
	Name  string
	Check ProbeFunc
}

// DispatchStats exposes notification dispatch counters.
type DispatchStats interface {
	Stats() notification.Stats
}

// LinkValidator runs the cross-entity reference checks.
type LinkValidator interface {
	ValidateLinks(ctx context.Context) (*validation.Report, error)
}

// Thresholds tune when probes degrade.
type Thresholds struct {
	// SlowStore is the round-trip latency above which the store is a warning.
	SlowStore time.Duration
	// FailureWindow is how long a notification failure keeps the dispatcher degraded.
	FailureWindow time.Duration
	// PendingDocuments is the verification backlog above which issuing
	// authority health is a warning.
	PendingDocuments int
}

var defaultThresholds = Thresholds{
	SlowStore:        500 * time.Millisecond,
	FailureWindow:    5 * time.Minute,
	PendingDocuments: 50,
}

func (a *Aggregator) defaultProbes() []Probe {
	probes := []Probe{
		{Name: ComponentAdministration, Check: a.probeAdministration},
		{Name: ComponentIssuingAuthority, Check: a.probeIssuingAuthority},
		{Name: ComponentRecipient, Check: a.probeRecipient},
		{Name: ComponentRecordStore, Check: a.probeRecordStore},
	}
	if a.dispatch != nil {
		probes = append(probes, Probe{Name: ComponentNotification, Check: a.probeNotification})
	}
	if a.links != nil {
		probes = append(probes, Probe{Name: ComponentIntegration, Check: a.probeIntegration})
	}
	return probes
}

func (a *Aggregator) count(ctx context.Context, collection string, filter records.Filter) (int, error) {
	recs, err := a.store.Query(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func activeRole(role models.Role) records.Filter {
	return records.Where("role", records.OpEq, string(role)).And("status", records.OpEq, string(models.UserStatusActive))
}

func (a *Aggregator) probeAdministration(ctx context.Context) (ComponentHealth, error) {
	n, err := a.count(ctx, records.CollectionUsers, activeRole(models.RoleAdministrator))
	if err != nil {
		return ComponentHealth{}, err
	}
	c := ComponentHealth{Status: StatusHealthy, Message: strconv.Itoa(n) + " active administrator(s)", Details: map[string]any{"active": n}}
	if n == 0 {
		c.Status = StatusCritical
		c.Message = "no active administrator"
	}
	return c, nil
}

func (a *Aggregator) probeIssuingAuthority(ctx context.Context) (ComponentHealth, error) {
	active, err := a.count(ctx, records.CollectionUsers, activeRole(models.RoleIssuingAuthority))
	if err != nil {
		return ComponentHealth{}, err
	}
	pendingAccounts, err := a.count(ctx, records.CollectionUsers,
		records.Where("role", records.OpEq, string(models.RoleIssuingAuthority)).And("status", records.OpEq, string(models.UserStatusPending)))
	if err != nil {
		return ComponentHealth{}, err
	}
	pendingDocs, err := a.count(ctx, records.CollectionDocuments,
		records.Where("status", records.OpIn, []string{string(models.DocumentStatusUploaded), string(models.DocumentStatusPending)}))
	if err != nil {
		return ComponentHealth{}, err
	}

	c := ComponentHealth{
		Status:  StatusHealthy,
		Message: strconv.Itoa(active) + " active issuing authorities",
		Details: map[string]any{"active": active, "pending_accounts": pendingAccounts, "pending_documents": pendingDocs},
	}
	switch {
	case active == 0:
		c.Status = StatusError
		c.Message = "no active issuing authority can verify documents"
	case pendingAccounts > 0:
		c.Status = StatusWarning
		c.Message = strconv.Itoa(pendingAccounts) + " issuing authority account(s) awaiting approval"
	case pendingDocs > a.thresholds.PendingDocuments:
		c.Status = StatusWarning
		c.Message = strconv.Itoa(pendingDocs) + " documents awaiting verification"
	}
	return c, nil
}

func (a *Aggregator) probeRecipient(ctx context.Context) (ComponentHealth, error) {
	recipients, err := a.count(ctx, records.CollectionUsers, records.Where("role", records.OpEq, string(models.RoleRecipient)))
	if err != nil {
		return ComponentHealth{}, err
	}
	unlinked, err := a.count(ctx, records.CollectionCertificates, records.Where("recipientId", records.OpEq, ""))
	if err != nil {
		return ComponentHealth{}, err
	}
	missing, err := a.count(ctx, records.CollectionCertificates, records.Where("recipientId", records.OpExists, false))
	if err != nil {
		return ComponentHealth{}, err
	}
	unlinked += missing
	c := ComponentHealth{
		Status:  StatusHealthy,
		Message: strconv.Itoa(recipients) + " recipients",
		Details: map[string]any{"recipients": recipients, "unlinked_certificates": unlinked},
	}
	if unlinked > 0 {
		c.Status = StatusWarning
		c.Message = strconv.Itoa(unlinked) + " certificate(s) not yet linked to a recipient"
	}
	return c, nil
}

func (a *Aggregator) probeRecordStore(ctx context.Context) (ComponentHealth, error) {
	start := time.Now()
	if err := a.store.Ping(ctx); err != nil {
		return ComponentHealth{}, err
	}
	latency := time.Since(start)
	c := ComponentHealth{
		Status:  StatusHealthy,
		Message: "round trip " + latency.Round(time.Microsecond).String(),
		Details: map[string]any{"latency_ms": float64(latency.Microseconds()) / 1000},
	}
	if latency > a.thresholds.SlowStore {
		c.Status = StatusWarning
		c.Message = "slow round trip " + latency.Round(time.Millisecond).String()
	}
	return c, nil
}

func (a *Aggregator) probeNotification(_ context.Context) (ComponentHealth, error) {
	st := a.dispatch.Stats()
	c := ComponentHealth{
		Status:  StatusHealthy,
		Message: strconv.FormatInt(st.Sent, 10) + " sent, " + strconv.FormatInt(st.Failed, 10) + " failed",
		Details: map[string]any{"sent": st.Sent, "failed": st.Failed},
	}
	if st.Failed == 0 {
		return c, nil
	}
	c.Details["last_error"] = st.LastError
	c.Details["last_failure_at"] = st.LastFailureAt
	switch {
	case st.Failed > st.Sent:
		c.Status = StatusError
		c.Message = "most notification writes are failing: " + st.LastError
	case a.now().Sub(st.LastFailureAt) < a.thresholds.FailureWindow:
		c.Status = StatusWarning
		c.Message = "recent notification failure: " + st.LastError
	}
	return c, nil
}

func (a *Aggregator) probeIntegration(ctx context.Context) (ComponentHealth, error) {
	report, err := a.links.ValidateLinks(ctx)
	if err != nil {
		return ComponentHealth{}, err
	}
	c := ComponentHealth{
		Status:  StatusHealthy,
		Message: strconv.Itoa(len(report.Successes)) + " cross-entity links verified",
		Details: map[string]any{"passed": len(report.Successes), "broken": len(report.Errors)},
	}
	if len(report.Errors) > 0 {
		c.Status = StatusError
		c.Message = strconv.Itoa(len(report.Errors)) + " broken cross-entity link(s)"
	}
	return c, nil
}

// DependencyProbe reports an external dependency as healthy when ping
// succeeds and as error otherwise.
func DependencyProbe(name string, ping func(ctx context.Context) error) Probe {
	return Probe{Name: name, Check: func(ctx context.Context) (ComponentHealth, error) {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusError, Message: err.Error()}, nil
		}
		return ComponentHealth{
			Status:  StatusHealthy,
			Message: "reachable in " + time.Since(start).Round(time.Microsecond).String(),
		}, nil
	}}
}
