package health

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorst(t *testing.T) {
	tests := []struct {
		name string
		a, b Status
		want Status
	}{
		{"healthy vs healthy", StatusHealthy, StatusHealthy, StatusHealthy},
		{"healthy vs degraded", StatusHealthy, StatusDegraded, StatusDegraded},
		{"degraded vs healthy", StatusDegraded, StatusHealthy, StatusDegraded},
		{"degraded vs unhealthy", StatusDegraded, StatusUnhealthy, StatusUnhealthy},
		{"unhealthy vs healthy", StatusUnhealthy, StatusHealthy, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Worst(tt.a, tt.b))
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestAggregate_WorstOfDescendants(t *testing.T) {
	// Given a tree where one grandchild is unhealthy
	root := &Report{
		Name:   "index",
		Status: StatusHealthy,
		Components: []*Report{
			{
				Name:   "backend",
				Status: StatusHealthy,
				Components: []*Report{
					{Name: "semantic", Status: StatusHealthy},
					{Name: "graph", Status: StatusUnhealthy, Message: "store unavailable"},
				},
			},
			{Name: "other", Status: StatusDegraded},
		},
	}

	// When aggregating
	got := root.Aggregate()

	// Then the worst status propagates to the root
	assert.Equal(t, StatusUnhealthy, got)
	assert.Equal(t, StatusUnhealthy, root.Status)
	assert.False(t, root.Healthy())

	// And intermediate nodes reflect their own subtree
	assert.Equal(t, StatusUnhealthy, root.Components[0].Status)
	assert.Equal(t, StatusDegraded, root.Components[1].Status)
}

func TestAggregate_AllHealthy(t *testing.T) {
	root := &Report{
		Name:   "index",
		Status: StatusHealthy,
		Components: []*Report{
			{Name: "a", Status: StatusHealthy},
			{Name: "b", Status: StatusHealthy},
		},
	}

	assert.Equal(t, StatusHealthy, root.Aggregate())
	assert.True(t, root.Healthy())
}

func TestReportJSON_StatusAsText(t *testing.T) {
	r := &Report{Name: "semantic", Status: StatusDegraded, Message: "bm25 only"}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	assert.JSONEq(t, `{"name":"semantic","status":"degraded","message":"bm25 only"}`, string(data))
}
