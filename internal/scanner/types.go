// Package scanner discovers indexable files under a source root. It applies
// built-in exclusions, sensitive-file filters, custom patterns, and
// .gitignore rules, and streams results as they are found. Each call scans
// one root; multi-root partitions scan each source path in turn.
package scanner

import "time"

// ContentType classifies a discovered file.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeConfig   ContentType = "config"
)

// FileInfo describes one discovered file.
type FileInfo struct {
	Path        string // relative to the scanned root
	AbsPath     string
	Size        int64
	ModTime     time.Time
	ContentType ContentType
	Language    string
	IsGenerated bool
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// RootDir is the directory to scan. Empty means the current directory.
	RootDir string

	// IncludePatterns restricts results to matching paths (empty = all).
	IncludePatterns []string

	// ExcludePatterns adds patterns on top of the built-in exclusions.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing, including nested files.
	RespectGitignore bool

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// FollowSymlinks includes symlinked files. Off by default; symlink
	// cycles would otherwise trap the walk.
	FollowSymlinks bool
}

// ScanResult is one streamed scan outcome. Error is set for walk failures;
// the channel stays open for the remaining files.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize caps indexable files at 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

var languageByName = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

var languageByExt = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".ex":    "elixir",
	".exs":   "elixir",
	".lua":   "lua",
	".sql":   "sql",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",

	".html": "html",
	".css":  "css",
	".scss": "scss",

	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".ini":   "ini",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	".proto":   "protobuf",
	".graphql": "graphql",
	".vue":     "vue",
	".svelte":  "svelte",
}

var contentTypeByLanguage = map[string]ContentType{
	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeMarkdown,

	"text": ContentTypeText,

	"json":       ContentTypeConfig,
	"yaml":       ContentTypeConfig,
	"toml":       ContentTypeConfig,
	"xml":        ContentTypeConfig,
	"ini":        ContentTypeConfig,
	"dockerfile": ContentTypeConfig,
	"makefile":   ContentTypeConfig,
}

// DetectLanguage maps a path to a language name, checking well-known
// filenames before extensions. Returns "" for unrecognized files.
func DetectLanguage(path string) string {
	base := baseName(path)
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	if lang, ok := languageByExt[extOf(base)]; ok {
		return lang
	}
	return ""
}

// DetectContentType maps a language to its content type. Unlisted languages
// are code; an unrecognized file is plain text.
func DetectContentType(language string) ContentType {
	if ct, ok := contentTypeByLanguage[language]; ok {
		return ct
	}
	if language == "" {
		return ContentTypeText
	}
	return ContentTypeCode
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extOf(base string) string {
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[i:]
		}
	}
	return ""
}
