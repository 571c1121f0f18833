package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete corpusmcp configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Index       IndexConfig       `yaml:"index" json:"index"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Parser      ParserConfig      `yaml:"parser" json:"parser"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Watcher     WatcherConfig     `yaml:"watcher" json:"watcher"`
}

// StorageConfig configures where index data lives and how it is locked.
type StorageConfig struct {
	// Dir is the base storage directory. Empty means <root>/.corpusmcp.
	Dir string `yaml:"dir" json:"dir"`

	// LockMode selects the lock backing.
	// Options: "process" (default, in-process only) or "file" (flock-backed,
	// coordinates across processes sharing the same storage directory).
	LockMode string `yaml:"lock_mode" json:"lock_mode"`
}

// IndexConfig configures what gets indexed.
// A non-empty Partitions map puts the orchestrator in multi-partition mode;
// otherwise it indexes the project root as a single repository.
type IndexConfig struct {
	// Partitions maps partition name to its repository configuration.
	Partitions map[string]PartitionConfig `yaml:"partitions" json:"partitions"`

	// Include restricts single-repository indexing to these path prefixes.
	Include []string `yaml:"include" json:"include"`
	// Exclude adds glob patterns on top of the built-in exclusions.
	Exclude []string `yaml:"exclude" json:"exclude"`

	// MaxFileSizeKB skips files larger than this (default: 1024).
	MaxFileSizeKB int `yaml:"max_file_size_kb" json:"max_file_size_kb"`
	// MaxFiles caps the number of files indexed per partition.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// PartitionConfig describes one isolated repository partition.
type PartitionConfig struct {
	// Path is the repository root, absolute or relative to the project root.
	Path string `yaml:"path" json:"path"`

	// Domains maps a named sub-scope to include-path patterns relative to
	// Path. An empty map means the whole repository root.
	Domains map[string][]string `yaml:"domains" json:"domains"`
}

// SearchConfig configures hybrid search parameters.
// Weights and the RRF constant are configurable via:
//  1. User config (~/.config/corpusmcp/config.yaml) - personal defaults
//  2. Project config (.corpusmcp.yaml) - per-repo tuning
//  3. Env vars (CORPUSMCP_BM25_WEIGHT, CORPUSMCP_SEMANTIC_WEIGHT, ...) - highest priority
type SearchConfig struct {
	// BM25Weight is the weight for BM25 keyword matching (0.0-1.0).
	// Must sum to 1.0 with SemanticWeight.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// SemanticWeight is the weight for semantic similarity (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60. Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// BM25Backend selects the BM25 index backend.
	// Options: "sqlite" (default, concurrent WAL access) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults   int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "hash" (default, local, deterministic)
	// or "ollama" (requires a running Ollama server).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// CacheSize is the embedding LRU cache capacity (default: 10000).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ParserConfig configures AST parsing.
type ParserConfig struct {
	// CacheCapacity is the parse-cache window capacity in files (default: 4096).
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	IndexWorkers  int `yaml:"index_workers" json:"index_workers"`
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// WatcherConfig configures the filesystem watcher.
type WatcherConfig struct {
	// Debounce is the quiet window before a change batch is flushed.
	Debounce string `yaml:"debounce" json:"debounce"`
	// PollInterval is the fallback polling interval when fsnotify is
	// unavailable (network filesystems, watch limit exhaustion).
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Dir:      "",
			LockMode: "process",
		},
		Index: IndexConfig{
			Partitions:    nil,
			Include:       []string{},
			Exclude:       defaultExcludePatterns,
			MaxFileSizeKB: 1024,
			MaxFiles:      100000,
		},
		Search: SearchConfig{
			BM25Weight:     0.35,
			SemanticWeight: 0.65,
			// RRF constant k=60 is the common industry default
			RRFConstant:  60,
			BM25Backend:  "sqlite",
			ChunkSize:    1500,
			ChunkOverlap: 200,
			MaxResults:   20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "hash",
			Model:      "",
			Dimensions: 0, // Auto-detect from embedder
			BatchSize:  32,
			OllamaHost: "",
			CacheSize:  10000,
		},
		Parser: ParserConfig{
			CacheCapacity: 4096,
		},
		Performance: PerformanceConfig{
			IndexWorkers:  runtime.NumCPU(),
			SQLiteCacheMB: 64,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Watcher: WatcherConfig{
			Debounce:     "500ms",
			PollInterval: "5s",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/corpusmcp/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/corpusmcp/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corpusmcp", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "corpusmcp", "config.yaml")
	}
	return filepath.Join(home, ".config", "corpusmcp", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the given project directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/corpusmcp/config.yaml)
//  3. Project config (.corpusmcp.yaml in project root)
//  4. Environment variables (CORPUSMCP_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .corpusmcp.yaml or .corpusmcp.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".corpusmcp.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".corpusmcp.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Storage
	if other.Storage.Dir != "" {
		c.Storage.Dir = other.Storage.Dir
	}
	if other.Storage.LockMode != "" {
		c.Storage.LockMode = other.Storage.LockMode
	}

	// Index
	if len(other.Index.Partitions) > 0 {
		c.Index.Partitions = other.Index.Partitions
	}
	if len(other.Index.Include) > 0 {
		c.Index.Include = other.Index.Include
	}
	if len(other.Index.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Index.Exclude = append(c.Index.Exclude, other.Index.Exclude...)
	}
	if other.Index.MaxFileSizeKB != 0 {
		c.Index.MaxFileSizeKB = other.Index.MaxFileSizeKB
	}
	if other.Index.MaxFiles != 0 {
		c.Index.MaxFiles = other.Index.MaxFiles
	}

	// Search weights and RRF constant
	// Note: 0 is not a practical value for weights, so only non-zero merges
	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Parser
	if other.Parser.CacheCapacity != 0 {
		c.Parser.CacheCapacity = other.Parser.CacheCapacity
	}

	// Performance
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Watcher
	if other.Watcher.Debounce != "" {
		c.Watcher.Debounce = other.Watcher.Debounce
	}
	if other.Watcher.PollInterval != "" {
		c.Watcher.PollInterval = other.Watcher.PollInterval
	}
}

// applyEnvOverrides applies CORPUSMCP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CORPUSMCP_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("CORPUSMCP_LOCK_MODE"); v != "" {
		c.Storage.LockMode = v
	}

	if v := os.Getenv("CORPUSMCP_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("CORPUSMCP_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("CORPUSMCP_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("CORPUSMCP_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}

	if v := os.Getenv("CORPUSMCP_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CORPUSMCP_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("CORPUSMCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CORPUSMCP_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or .corpusmcp.yaml/.yml file by walking up
// the directory tree, falling back to the starting directory.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".corpusmcp.yaml")) ||
			fileExists(filepath.Join(currentDir, ".corpusmcp.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}

	sum := c.Search.BM25Weight + c.Search.SemanticWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + semantic_weight must equal 1.0, got %.2f", sum)
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.Search.ChunkSize)
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Search.BM25Backend)] {
		return fmt.Errorf("search.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Search.BM25Backend)
	}

	validProviders := map[string]bool{"hash": true, "ollama": true}
	if c.Embeddings.Provider != "" && !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'hash' or 'ollama', got %s", c.Embeddings.Provider)
	}

	validLockModes := map[string]bool{"process": true, "file": true}
	if c.Storage.LockMode != "" && !validLockModes[strings.ToLower(c.Storage.LockMode)] {
		return fmt.Errorf("storage.lock_mode must be 'process' or 'file', got %s", c.Storage.LockMode)
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if err := c.validatePartitions(); err != nil {
		return err
	}

	return nil
}

// validatePartitions rejects empty partition paths and overlapping roots.
// Overlap is checked lexically on cleaned paths: one root being a
// path-prefix of another makes update routing ambiguous.
func (c *Config) validatePartitions() error {
	if len(c.Index.Partitions) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Index.Partitions))
	for name, p := range c.Index.Partitions {
		if strings.TrimSpace(p.Path) == "" {
			return fmt.Errorf("partition %q has an empty path", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for i, a := range names {
		for _, b := range names[i+1:] {
			pa := filepath.Clean(c.Index.Partitions[a].Path)
			pb := filepath.Clean(c.Index.Partitions[b].Path)
			if pathContains(pa, pb) || pathContains(pb, pa) {
				return fmt.Errorf("partition roots overlap: %q (%s) and %q (%s)", a, pa, b, pb)
			}
		}
	}

	return nil
}

// pathContains reports whether child is parent itself or nested under it.
// Comparison is lexical with a path-boundary check, so /a/b does not
// contain /a/bc.
func pathContains(parent, child string) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// PartitionNames returns the configured partition names, sorted.
func (c *Config) PartitionNames() []string {
	names := make([]string, 0, len(c.Index.Partitions))
	for name := range c.Index.Partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MultiPartition reports whether the configuration declares partitions.
func (c *Config) MultiPartition() bool {
	return len(c.Index.Partitions) > 0
}

// StorageDir resolves the base storage directory for a project root.
func (c *Config) StorageDir(root string) string {
	if c.Storage.Dir != "" {
		if filepath.IsAbs(c.Storage.Dir) {
			return c.Storage.Dir
		}
		return filepath.Join(root, c.Storage.Dir)
	}
	return filepath.Join(root, ".corpusmcp")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
