package index

import (
	"context"

	"github.com/corpusmcp/corpusmcp/internal/health"
)

// ComponentDescriptor declares one registered component: what data it
// provides, which operations it serves, and how to probe its health. The
// probe is bound to its component at construction time, never captured
// from a loop variable.
type ComponentDescriptor struct {
	Name         string
	Kinds        []string
	Capabilities []string
	Dependencies []string
	Probe        func(ctx context.Context) *health.Report
}

// Registry is the read-only component registry health checks walk. Built
// once at orchestrator construction.
type Registry struct {
	descriptors []*ComponentDescriptor
}

// Add appends a descriptor.
func (r *Registry) Add(d *ComponentDescriptor) {
	r.descriptors = append(r.descriptors, d)
}

// Descriptors returns the registered components in registration order.
func (r *Registry) Descriptors() []*ComponentDescriptor {
	return r.descriptors
}

// HealthCheck probes every component and assembles the nested report,
// aggregated worst-of.
func (r *Registry) HealthCheck(ctx context.Context) *health.Report {
	report := &health.Report{Name: "index", Status: health.StatusHealthy}
	for _, d := range r.descriptors {
		report.Components = append(report.Components, d.Probe(ctx))
	}
	report.Aggregate()
	return report
}

// Capability and data-kind names used in descriptors.
const (
	kindChunks  = "chunks"
	kindVectors = "vectors"
	kindSymbols = "symbols"
	kindEdges   = "edges"

	capSearch       = "search"
	capSearchAST    = "search_ast"
	capCallers      = "find_callers"
	capDependencies = "find_dependencies"
	capCallPaths    = "find_call_paths"
)

// semanticDescriptor describes one semantic backend, probe bound to it.
func semanticDescriptor(name string, b SemanticBackend, deps []string) *ComponentDescriptor {
	return &ComponentDescriptor{
		Name:         name,
		Kinds:        []string{kindChunks, kindVectors},
		Capabilities: []string{capSearch},
		Dependencies: deps,
		Probe:        b.HealthCheck,
	}
}

// graphDescriptor describes one graph backend, probe bound to it.
func graphDescriptor(name string, b GraphBackend, deps []string) *ComponentDescriptor {
	return &ComponentDescriptor{
		Name:         name,
		Kinds:        []string{kindSymbols, kindEdges},
		Capabilities: []string{capSearchAST, capCallers, capDependencies, capCallPaths},
		Dependencies: deps,
		Probe:        b.HealthCheck,
	}
}

// partitionDescriptor describes one partition: both backends probed
// together under a "partition:<name>" node. The probe closes over the
// partition handle passed here, binding it explicitly.
func partitionDescriptor(p *Partition, deps []string) *ComponentDescriptor {
	return &ComponentDescriptor{
		Name:         "partition:" + p.Name,
		Kinds:        []string{kindChunks, kindVectors, kindSymbols, kindEdges},
		Capabilities: []string{capSearch, capSearchAST, capCallers, capDependencies, capCallPaths},
		Dependencies: deps,
		Probe:        partitionProbe(p),
	}
}

// partitionProbe returns a probe for exactly the partition it was given.
func partitionProbe(p *Partition) func(ctx context.Context) *health.Report {
	return func(ctx context.Context) *health.Report {
		report := &health.Report{
			Name:   "partition:" + p.Name,
			Status: health.StatusHealthy,
			Components: []*health.Report{
				p.Semantic.HealthCheck(ctx),
				p.Graph.HealthCheck(ctx),
			},
		}
		report.Aggregate()
		return report
	}
}
