package health

import "time"

// Status is a component or overall health level.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusCritical Status = "critical"
	// StatusChecking marks a probe still in flight. It is never final.
	StatusChecking Status = "checking"
)

// SeverityRank orders statuses healthy < warning < error < critical.
// Checking and unknown values rank below healthy.
func SeverityRank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	case StatusError:
		return 2
	case StatusCritical:
		return 3
	}
	return -1
}

// Max reduces statuses to the most severe one, ignoring checking. With no
// final status it returns checking.
func Max(statuses ...Status) Status {
	out := StatusChecking
	for _, s := range statuses {
		if SeverityRank(s) > SeverityRank(out) {
			out = s
		}
	}
	return out
}

// Component names reported by the aggregator.
const (
	ComponentAdministration   = "administration"
	ComponentIssuingAuthority = "issuing_authority"
	ComponentRecipient        = "recipient"
	ComponentRecordStore      = "record_store"
	ComponentNotification     = "notification"
	ComponentIntegration      = "integration"
	ComponentLockBackend      = "lock_backend"
	ComponentChangeStream     = "change_stream"
)

// ComponentHealth is one subsystem's snapshot.
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// OverallHealth is the reduction of every component snapshot.
type OverallHealth struct {
	Status     Status            `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components"`
}

// Component returns the named snapshot.
func (h OverallHealth) Component(name string) (ComponentHealth, bool) {
	for _, c := range h.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentHealth{}, false
}

// Reduce builds an OverallHealth from component snapshots.
func Reduce(components []ComponentHealth, at time.Time) OverallHealth {
	statuses := make([]Status, 0, len(components))
	for _, c := range components {
		statuses = append(statuses, c.Status)
	}
	return OverallHealth{Status: Max(statuses...), CheckedAt: at, Components: components}
}
