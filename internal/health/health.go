// Package health defines the shared status model used by index backends
// and the orchestrator. A Report is a tree: leaf nodes describe individual
// backends, interior nodes aggregate their children with worst-of semantics.
package health

// Status is the health of a single component.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

// String returns the lowercase wire form used in CLI and MCP output.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so Status renders as its
// string form in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Worst returns the more severe of two statuses.
// Severity order: unhealthy > degraded > healthy.
func Worst(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// Report describes the health of one component and its children.
type Report struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Components []*Report `json:"components,omitempty"`
}

// Aggregate recomputes r.Status as the worst status across r and all
// descendants. Call after assembling a tree from child reports.
func (r *Report) Aggregate() Status {
	worst := r.Status
	for _, c := range r.Components {
		worst = Worst(worst, c.Aggregate())
	}
	r.Status = worst
	return worst
}

// Healthy reports whether the component (after aggregation) is fully healthy.
func (r *Report) Healthy() bool {
	return r.Status == StatusHealthy
}
