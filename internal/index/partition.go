package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/parse"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
	"github.com/corpusmcp/corpusmcp/internal/ui"
)

// Partition is one isolated index scope: a repository root, its named
// domains, and private backend handles. Backends are never shared between
// partitions; each pair writes to its own storage directory.
type Partition struct {
	Name    string
	Root    string
	Domains map[string][]string

	Semantic SemanticBackend
	Graph    GraphBackend
}

// partitionOptions carries the shared pieces every partition's backends
// are built from.
type partitionOptions struct {
	cfg         *config.Config
	embedder    embed.Embedder
	coordinator *parse.Coordinator
	renderer    ui.Renderer
	logger      *slog.Logger
}

// newPartition constructs a partition and its backend pair under dir.
// Both backends share the directory; their files do not collide.
func newPartition(name, root string, domains map[string][]string, dir string, opts partitionOptions) (*Partition, error) {
	sem, err := semantic.New(semantic.BackendOptions{
		Partition:   name,
		Root:        root,
		Dir:         dir,
		Config:      opts.cfg,
		Embedder:    opts.embedder,
		Coordinator: opts.coordinator,
		Renderer:    opts.renderer,
		Logger:      opts.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic backend: %w", err)
	}

	grph, err := graph.New(graph.BackendOptions{
		Partition:   name,
		Root:        root,
		Dir:         dir,
		Config:      opts.cfg,
		Coordinator: opts.coordinator,
		Renderer:    opts.renderer,
		Logger:      opts.logger,
	})
	if err != nil {
		_ = sem.Close()
		return nil, fmt.Errorf("graph backend: %w", err)
	}

	return &Partition{
		Name:     name,
		Root:     root,
		Domains:  domains,
		Semantic: sem,
		Graph:    grph,
	}, nil
}

// sourcePaths resolves the partition's build inputs. Each domain's include
// paths resolve against the root; a partition with no include paths builds
// from its root.
func (p *Partition) sourcePaths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, domain := range p.domainNames() {
		for _, include := range p.Domains[domain] {
			abs := include
			if !filepath.IsAbs(include) {
				abs = filepath.Join(p.Root, include)
			}
			abs = filepath.Clean(abs)
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
	}
	if len(paths) == 0 {
		return []string{p.Root}
	}
	return paths
}

// domainNames returns the partition's domain names in sorted order.
func (p *Partition) domainNames() []string {
	names := make([]string, 0, len(p.Domains))
	for name := range p.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// contains reports whether abs lies inside the partition root. Containment
// respects path boundaries: /a/b does not contain /a/bc.
func (p *Partition) contains(abs string) bool {
	rel, err := filepath.Rel(p.Root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// rel converts an absolute path inside the partition to root-relative form.
func (p *Partition) rel(abs string) (string, error) {
	return filepath.Rel(p.Root, abs)
}

// close releases both backends, reporting the first failure.
func (p *Partition) close() error {
	semErr := p.Semantic.Close()
	graphErr := p.Graph.Close()
	if semErr != nil {
		return semErr
	}
	return graphErr
}

// resolveRoot makes a configured partition path absolute, resolving
// relative paths against the orchestrator root, and verifies it is an
// existing directory.
func resolveRoot(configured, base string) (string, error) {
	path := configured
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}
	return path, nil
}
