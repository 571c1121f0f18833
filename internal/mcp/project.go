package mcp

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ProjectInfo identifies the indexed project in index_status output.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// ProjectDetector sniffs project identity from manifest files at the root.
type ProjectDetector struct {
	root   string
	logger *slog.Logger
}

// NewProjectDetector creates a detector rooted at the project directory.
func NewProjectDetector(root string, logger *slog.Logger) *ProjectDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectDetector{root: root, logger: logger}
}

// Detect identifies the project. Probe order: go.mod, package.json,
// pyproject.toml; the directory name covers everything else.
func (d *ProjectDetector) Detect() *ProjectInfo {
	info := &ProjectInfo{
		Name:     filepath.Base(d.root),
		RootPath: d.root,
		Type:     "unknown",
	}

	probes := []struct {
		kind string
		name func() string
	}{
		{"go", d.goModule},
		{"node", d.nodePackage},
		{"python", d.pythonProject},
	}
	for _, p := range probes {
		if name := p.name(); name != "" {
			info.Name = name
			info.Type = p.kind
			return info
		}
	}
	return info
}

// goModule extracts the last segment of the module path from go.mod.
func (d *ProjectDetector) goModule() string {
	file, err := os.Open(filepath.Join(d.root, "go.mod"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "module" {
			return filepath.Base(fields[1])
		}
	}
	return ""
}

// nodePackage extracts the package name from package.json, unscoping
// @org/name to name.
func (d *ProjectDetector) nodePackage() string {
	data, err := os.ReadFile(filepath.Join(d.root, "package.json"))
	if err != nil {
		return ""
	}

	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		d.logger.Debug("malformed package.json", slog.String("error", err.Error()))
		return ""
	}

	name := pkg.Name
	if strings.HasPrefix(name, "@") {
		if _, after, ok := strings.Cut(name, "/"); ok {
			name = after
		}
	}
	return name
}

// pythonProject extracts the project name from the [project] table of
// pyproject.toml. A line scan over the PEP 621 layout; only the name key
// is read.
func (d *ProjectDetector) pythonProject() string {
	file, err := os.Open(filepath.Join(d.root, "pyproject.toml"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	inProject := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inProject = line == "[project]"
			continue
		}
		if !inProject {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "name" {
			continue
		}
		return unquoteTOML(strings.TrimSpace(value))
	}
	return ""
}

// unquoteTOML extracts the content of a quoted TOML string, tolerating
// trailing comments.
func unquoteTOML(v string) string {
	if len(v) < 2 || (v[0] != '"' && v[0] != '\'') {
		return ""
	}
	if end := strings.IndexByte(v[1:], v[0]); end >= 0 {
		return v[1 : 1+end]
	}
	return ""
}
