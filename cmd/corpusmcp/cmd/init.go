package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpusmcp/corpusmcp/configs"
	"github.com/corpusmcp/corpusmcp/internal/config"
	"github.com/corpusmcp/corpusmcp/internal/embed"
	"github.com/corpusmcp/corpusmcp/internal/output"
	"github.com/corpusmcp/corpusmcp/pkg/version"
)

// MCPServerConfig represents one server entry in .mcp.json.
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPConfig represents the root .mcp.json structure.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

func newInitCmd() *cobra.Command {
	var (
		force      bool
		offline    bool
		configOnly bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize corpusmcp for a project",
		Long: `Initialize corpusmcp for the current project.

This command:
1. Writes the MCP client configuration (.mcp.json)
2. Generates a .corpusmcp.yaml configuration template
3. Adds the index data directory to .gitignore
4. Builds the index (unless --config-only)

After running, restart your MCP client to pick up the server.`,
		Example: `  # Initialize in current project
  corpusmcp init

  # Force reinitialize (overwrite existing config)
  corpusmcp init --force

  # Fix config only (skip indexing)
  corpusmcp init --force --config-only

  # Use hash embeddings (no Ollama required)
  corpusmcp init --offline`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runInit(ctx, cmd, force, offline, configOnly)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use hash embeddings (no Ollama required)")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "Configure only, skip indexing")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, force, offline, configOnly bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "corpusmcp %s - Initializing...", version.Version)
	out.Newline()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	out.Statusf("📁", "Project: %s", absRoot)

	mcpConfigPath := filepath.Join(absRoot, ".mcp.json")

	if !force {
		if _, err := os.Stat(mcpConfigPath); err == nil {
			isValid, warnings := validateExistingMCPConfig(mcpConfigPath)
			out.Newline()

			if !isValid && len(warnings) > 0 {
				out.Warning("Existing .mcp.json has configuration issues:")
				for _, w := range warnings {
					out.Statusf("  ⚠️ ", "%s", w)
				}
				out.Newline()
				out.Status("💡", "Use --force to fix these issues")
				return nil
			}

			out.Warning("Project already initialized (.mcp.json exists)")
			out.Status("💡", "Use --force to reinitialize")
			return nil
		}
	}

	out.Newline()
	out.Status("⚙️ ", "Configuring MCP integration...")

	mcpConfigured, err := configureMCPJSON(out, absRoot, force)
	if err != nil {
		out.Warningf("MCP configuration failed: %v", err)
		out.Status("💡", "You can manually configure .mcp.json later")
	} else if mcpConfigured {
		out.Success("Added MCP server (project scope)")
	}

	if err := generateProjectYAML(out, absRoot); err != nil {
		out.Warningf("Could not create .corpusmcp.yaml template: %v", err)
	}

	added, err := ensureGitignore(absRoot)
	if err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Status("📝", "Added .corpusmcp to .gitignore")
	}

	if configOnly {
		out.Newline()
		out.Status("⏭️ ", "Skipping indexing (--config-only)")
	} else {
		if !offline {
			if err := checkEmbedderReady(ctx, out, absRoot); err != nil {
				return err
			}
		}

		out.Newline()
		out.Status("📊", "Indexing project...")

		startTime := time.Now()
		if err := runBuild(ctx, cmd, absRoot, force, false, offline); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		duration := time.Since(startTime)

		out.Newline()
		out.Status("⏱️ ", fmt.Sprintf("Completed in %.1fs", duration.Seconds()))
	}

	out.Newline()
	if configOnly {
		out.Success("Configuration complete!")
	} else {
		out.Success("Initialization complete!")
	}
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Restart your MCP client to activate the server")
	out.Status("", "  2. Test with: \"Search my codebase for...\"")
	out.Status("", "  3. Run 'corpusmcp doctor' to verify setup")

	if !mcpConfigured {
		out.Newline()
		out.Warning("MCP not auto-configured - manual setup required")
		out.Status("💡", fmt.Sprintf("Add to .mcp.json: %s", mcpConfigPath))
	}

	return nil
}

// checkEmbedderReady probes the configured embedding provider. The hash
// provider is always ready; an unreachable Ollama is a hard error here
// rather than a silent fallback, because an index built with one
// provider is not queryable with the other.
func checkEmbedderReady(ctx context.Context, out *output.Writer, root string) error {
	cfg := loadProjectConfig(root, false)
	if embed.ParseProvider(cfg.Embeddings.Provider) != embed.ProviderOllama {
		return nil
	}

	out.Newline()
	out.Status("🧠", "Checking embedder availability...")

	embedder, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:        cfg.Embeddings.Provider,
		Model:           cfg.Embeddings.Model,
		Host:            cfg.Embeddings.OllamaHost,
		Dimensions:      cfg.Embeddings.Dimensions,
		SkipHealthCheck: true,
	})
	if err != nil {
		return fmt.Errorf("embedder check failed: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	if !embedder.Available(ctx) {
		out.Warning("Ollama is not reachable at its configured host")
		out.Status("💡", "Start Ollama and re-run, or use --offline for hash embeddings")
		return fmt.Errorf("embedding provider unavailable (use --offline to proceed without Ollama)")
	}

	out.Success("Ollama is available")
	return nil
}

// generateProjectYAML creates a template .corpusmcp.yaml if none exists.
// An existing file is never overwritten; the template is embedded from
// configs/project-config.example.yaml.
func generateProjectYAML(out *output.Writer, projectRoot string) error {
	yamlPath := filepath.Join(projectRoot, ".corpusmcp.yaml")

	if _, err := os.Stat(yamlPath); err == nil {
		out.Status("ℹ️ ", "Existing .corpusmcp.yaml preserved")
		return nil
	}

	ymlPath := filepath.Join(projectRoot, ".corpusmcp.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		out.Status("ℹ️ ", "Existing .corpusmcp.yml found, skipping template")
		return nil
	}

	if err := os.WriteFile(yamlPath, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write .corpusmcp.yaml: %w", err)
	}

	out.Statusf("📝", "Created .corpusmcp.yaml (optional project configuration)")
	return nil
}

// hasDataDirIgnore checks if .corpusmcp is already in .gitignore,
// covering the common pattern variations.
func hasDataDirIgnore(content string) bool {
	patterns := []string{
		".corpusmcp",
		".corpusmcp/",
		"/.corpusmcp",
		"/.corpusmcp/",
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, pattern := range patterns {
			if line == pattern {
				return true
			}
		}
	}
	return false
}

// ensureGitignore adds .corpusmcp to .gitignore if not present.
// Returns (true, nil) if added, (false, nil) if already present.
func ensureGitignore(projectRoot string) (bool, error) {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	if hasDataDirIgnore(string(content)) {
		return false, nil
	}

	// Match the file's existing line endings.
	lineEnding := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		lineEnding = "\r\n"
	}

	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, []byte(lineEnding)...)
	}

	var entry string
	if len(content) == 0 {
		entry = fmt.Sprintf("# corpusmcp index data (auto-generated)%s.corpusmcp/%s",
			lineEnding, lineEnding)
	} else {
		entry = fmt.Sprintf("%s# corpusmcp index data (auto-generated)%s.corpusmcp/%s",
			lineEnding, lineEnding, lineEnding)
	}

	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0o644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}

	return true, nil
}

// validateExistingMCPConfig checks whether an existing .mcp.json has the
// fields the server needs.
func validateExistingMCPConfig(mcpPath string) (bool, []string) {
	var warnings []string

	data, err := os.ReadFile(mcpPath)
	if err != nil {
		return false, nil
	}

	var mcpCfg MCPConfig
	if err := json.Unmarshal(data, &mcpCfg); err != nil {
		warnings = append(warnings, "Invalid JSON in .mcp.json")
		return false, warnings
	}

	entry, exists := mcpCfg.MCPServers["corpusmcp"]
	if !exists {
		warnings = append(warnings, "corpusmcp not configured in .mcp.json")
		return false, warnings
	}

	if entry.Cwd == "" {
		warnings = append(warnings, "Missing 'cwd' field - MCP server may run from wrong directory")
	}
	if entry.Command == "" {
		warnings = append(warnings, "Missing 'command' field")
	}

	return len(warnings) == 0, warnings
}

// configureMCPJSON creates or updates .mcp.json in the project root.
func configureMCPJSON(out *output.Writer, projectRoot string, force bool) (bool, error) {
	mcpPath := filepath.Join(projectRoot, ".mcp.json")

	var existing MCPConfig
	if data, err := os.ReadFile(mcpPath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return false, fmt.Errorf("failed to parse existing .mcp.json: %w", err)
		}

		if _, exists := existing.MCPServers["corpusmcp"]; exists && !force {
			out.Status("ℹ️ ", "corpusmcp already configured in .mcp.json")
			return true, nil
		}
	} else {
		existing = MCPConfig{
			MCPServers: make(map[string]MCPServerConfig),
		}
	}
	if existing.MCPServers == nil {
		existing.MCPServers = make(map[string]MCPServerConfig)
	}

	binPath, err := findServerBinary()
	if err != nil {
		return false, fmt.Errorf("failed to find corpusmcp binary: %w", err)
	}

	existing.MCPServers["corpusmcp"] = MCPServerConfig{
		Type:    "stdio",
		Command: binPath,
		Args:    []string{"serve"},
		Cwd:     projectRoot,
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(mcpPath, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write .mcp.json: %w", err)
	}

	out.Statusf("📝", "Created %s", mcpPath)
	return true, nil
}

// findServerBinary locates the running corpusmcp binary so .mcp.json
// can point at it by absolute path.
func findServerBinary() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	if realPath, err := filepath.EvalSymlinks(execPath); err == nil {
		return realPath, nil
	}
	return execPath, nil
}
