package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/corpusmcp/corpusmcp/internal/index"
)

// Resource URIs. The set is fixed at construction: the partition layout
// cannot change while the server runs.
const (
	statsResourceURI        = "corpusmcp://stats"
	healthResourceURI       = "corpusmcp://health"
	partitionResourcePrefix = "corpusmcp://partitions/"
)

// jsonMIMEType is the MIME type of every registered resource.
const jsonMIMEType = "application/json"

// partitionResourceURI returns the stats document URI for one partition.
func partitionResourceURI(name string) string {
	return partitionResourcePrefix + name
}

// ResourceInfo describes one registered resource.
type ResourceInfo struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
}

// ListResources returns every registered resource: the aggregate stats
// and health documents, plus one stats document per partition in
// partitioned mode.
func (s *Server) ListResources() []ResourceInfo {
	resources := []ResourceInfo{
		{
			URI:         statsResourceURI,
			Name:        "stats",
			Description: "Aggregated index statistics across all partitions",
			MIMEType:    jsonMIMEType,
		},
		{
			URI:         healthResourceURI,
			Name:        "health",
			Description: "Component health tree with worst-of aggregation",
			MIMEType:    jsonMIMEType,
		},
	}

	if s.idx.Mode() == index.ModePartitioned {
		for _, name := range s.idx.PartitionNames() {
			resources = append(resources, ResourceInfo{
				URI:         partitionResourceURI(name),
				Name:        "partition-" + name,
				Description: fmt.Sprintf("Index statistics for the %q partition", name),
				MIMEType:    jsonMIMEType,
			})
		}
	}
	return resources
}

// registerResources registers every resource with the SDK server.
func (s *Server) registerResources() {
	resources := s.ListResources()
	for _, r := range resources {
		s.mcp.AddResource(&mcp.Resource{
			Name:        r.Name,
			URI:         r.URI,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		}, s.makeResourceHandler(r.URI))
	}
	s.logger.Debug("MCP resources registered", slog.Int("count", len(resources)))
}

// makeResourceHandler creates an SDK read handler bound to one URI.
func (s *Server) makeResourceHandler(uri string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := s.ReadResource(ctx, uri)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: uri, MIMEType: jsonMIMEType, Text: content},
			},
		}, nil
	}
}

// ReadResource renders the JSON document behind a resource URI. The CLI
// and tests use this transport-free path.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch {
	case uri == statsResourceURI:
		return s.statsDocument(ctx)
	case uri == healthResourceURI:
		return s.healthDocument(ctx)
	case strings.HasPrefix(uri, partitionResourcePrefix):
		return s.partitionDocument(ctx, strings.TrimPrefix(uri, partitionResourcePrefix))
	default:
		return "", NewResourceNotFoundError(uri)
	}
}

// statsDocument marshals the aggregated stats report. Stats take the
// shared lock, so reads during a background build answer with the
// building error instead of blocking.
func (s *Server) statsDocument(ctx context.Context) (string, error) {
	if snap, ok := s.building(); ok {
		return "", NewIndexBuildingError(snap)
	}

	stats, err := s.idx.Stats(ctx)
	if err != nil {
		return "", MapError(err)
	}
	return marshalDocument(stats)
}

// healthDocument marshals the health tree. Health checks skip the lock,
// so this document stays readable during builds.
func (s *Server) healthDocument(ctx context.Context) (string, error) {
	return marshalDocument(s.idx.HealthCheck(ctx))
}

// partitionDocument marshals one partition's stats block.
func (s *Server) partitionDocument(ctx context.Context, name string) (string, error) {
	if snap, ok := s.building(); ok {
		return "", NewIndexBuildingError(snap)
	}

	stats, err := s.idx.Stats(ctx)
	if err != nil {
		return "", MapError(err)
	}
	for _, p := range stats.Partitions {
		if p != nil && p.Name == name {
			return marshalDocument(p)
		}
	}
	return "", NewResourceNotFoundError(partitionResourceURI(name))
}

// marshalDocument renders a resource payload as indented JSON.
func marshalDocument(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", MapError(err)
	}
	return string(data), nil
}
