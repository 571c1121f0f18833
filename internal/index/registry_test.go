package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusmcp/corpusmcp/internal/health"
)

func TestRegistry_ProbesBoundPerPartition(t *testing.T) {
	// Descriptors built in a loop must each probe their own partition.
	reg := &Registry{}
	var fakes []*fakeSemantic
	for _, name := range []string{"a", "b", "c"} {
		p, sem, _ := newFakePartition(name, "/repo/"+name)
		fakes = append(fakes, sem)
		reg.Add(partitionDescriptor(p, infraDeps()))
	}
	fakes[1].healthy = false

	report := reg.HealthCheck(context.Background())
	assert.Equal(t, health.StatusUnhealthy, report.Status)
	require.Len(t, report.Components, 3)

	assert.Equal(t, "partition:a", report.Components[0].Name)
	assert.Equal(t, health.StatusHealthy, report.Components[0].Status)
	assert.Equal(t, "partition:b", report.Components[1].Name)
	assert.Equal(t, health.StatusUnhealthy, report.Components[1].Status)
	assert.Equal(t, "partition:c", report.Components[2].Name)
	assert.Equal(t, health.StatusHealthy, report.Components[2].Status)
}

func TestRegistry_Descriptors(t *testing.T) {
	p, _, _ := newFakePartition("alpha", "/repo/a")
	reg := &Registry{}
	reg.Add(semanticDescriptor("semantic", p.Semantic, []string{"lock:code", "parse-cache"}))
	reg.Add(graphDescriptor("graph", p.Graph, []string{"lock:code", "parse-cache"}))

	ds := reg.Descriptors()
	require.Len(t, ds, 2)
	assert.Equal(t, "semantic", ds[0].Name)
	assert.Contains(t, ds[0].Kinds, "chunks")
	assert.Contains(t, ds[0].Capabilities, "search")
	assert.Equal(t, []string{"lock:code", "parse-cache"}, ds[0].Dependencies)
	assert.Equal(t, "graph", ds[1].Name)
	assert.Contains(t, ds[1].Kinds, "edges")
	assert.Contains(t, ds[1].Capabilities, "find_callers")
}
