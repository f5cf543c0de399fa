package health

import "time"

// Cached holds a computed value and when it was computed. Freshness is
// decided by the caller.
type Cached[T any] struct {
	Value      T
	ComputedAt time.Time
}

// Fresh reports whether the value was computed less than ttl before now.
func (c Cached[T]) Fresh(now time.Time, ttl time.Duration) bool {
	return !c.ComputedAt.IsZero() && now.Sub(c.ComputedAt) < ttl
}

// Stats counts records per collection and status.
type Stats struct {
	UsersByRole          map[string]int `json:"users_by_role"`
	UsersByStatus        map[string]int `json:"users_by_status"`
	TemplatesByStatus    map[string]int `json:"templates_by_status"`
	DocumentsByStatus    map[string]int `json:"documents_by_status"`
	Certificates         int            `json:"certificates"`
	UnlinkedCertificates int            `json:"unlinked_certificates"`
	Notifications        int            `json:"notifications"`
}
