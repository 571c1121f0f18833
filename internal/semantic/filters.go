package semantic

import (
	"sort"
	"strings"

	"github.com/corpusmcp/corpusmcp/internal/store"
)

// Ranking penalties applied after fusion.
const (
	// TestFilePenalty demotes test files. Mocks and fixtures repeat real
	// signatures many times over and would otherwise outrank the
	// implementations they copy.
	TestFilePenalty = 0.5

	// GeneratedFilePenalty demotes generated files, which are indexed for
	// completeness but rarely what a query is after.
	GeneratedFilePenalty = 0.5
)

// MetadataKeyGenerated marks chunks from generated files. The build pipeline
// stamps it from the scanner's detection.
const MetadataKeyGenerated = "generated"

// FilterFunc reports whether a result passes one filter criterion.
type FilterFunc func(r *Result) bool

// ApplyFilters drops results that fail the options' criteria. Criteria
// combine with AND; a result must pass all of them.
func ApplyFilters(results []*Result, opts SearchOptions) []*Result {
	filters := buildFilters(opts)
	if len(filters) == 0 {
		return results
	}

	filtered := make([]*Result, 0, len(results))
	for _, r := range results {
		if passesAll(r, filters) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func buildFilters(opts SearchOptions) []FilterFunc {
	var filters []FilterFunc

	if opts.Filter != "" && opts.Filter != "all" {
		filters = append(filters, contentTypeFilter(opts.Filter))
	}
	if opts.Language != "" {
		filters = append(filters, languageFilter(opts.Language))
	}
	if opts.SymbolType != "" {
		filters = append(filters, symbolTypeFilter(opts.SymbolType))
	}
	if len(opts.Scopes) > 0 {
		filters = append(filters, scopeFilter(opts.Scopes))
	}

	return filters
}

func passesAll(r *Result, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(r) {
			return false
		}
	}
	return true
}

// contentTypeFilter maps the user-facing filter names onto stored content
// types. "code" selects source chunks; "docs" selects markdown and text.
func contentTypeFilter(filter string) FilterFunc {
	return func(r *Result) bool {
		if r.Chunk == nil {
			return false
		}
		switch filter {
		case "code":
			return r.Chunk.ContentType == store.ContentTypeCode
		case "docs":
			return r.Chunk.ContentType == store.ContentTypeMarkdown ||
				r.Chunk.ContentType == store.ContentTypeText
		default:
			return true
		}
	}
}

func languageFilter(lang string) FilterFunc {
	return func(r *Result) bool {
		return r.Chunk != nil && r.Chunk.Language == lang
	}
}

func symbolTypeFilter(symbolType string) FilterFunc {
	return func(r *Result) bool {
		if r.Chunk == nil {
			return false
		}
		for _, s := range r.Chunk.Symbols {
			if s.Kind == symbolType {
				return true
			}
		}
		return false
	}
}

// NormalizeScope strips leading and trailing slashes for consistent prefix
// matching.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter matches files under any of the given path prefixes. Prefixes
// are checked at directory boundaries: scope "services/api" must not match
// "services/api-v2".
func scopeFilter(scopes []string) FilterFunc {
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}
	if len(normalized) == 0 {
		return func(*Result) bool { return true }
	}

	return func(r *Result) bool {
		if r.Chunk == nil {
			return false
		}
		path := NormalizeScope(r.Chunk.FilePath) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(path, scope) {
				return true
			}
		}
		return false
	}
}

// ApplyRankingPenalties demotes test and generated files, then re-sorts by
// the adjusted score. Runs after enrichment because both checks need chunk
// metadata.
func ApplyRankingPenalties(results []*Result) []*Result {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		if IsTestFile(r.Chunk.FilePath) {
			r.Score *= TestFilePenalty
		}
		if r.Chunk.Metadata[MetadataKeyGenerated] == "true" {
			r.Score *= GeneratedFilePenalty
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// IsTestFile reports whether a path looks like a test file. Covers Go
// (_test.go), JavaScript/TypeScript (.test., .spec.), Python (test_*.py,
// *_test.py), and conventional test directories.
func IsTestFile(path string) bool {
	if strings.HasSuffix(path, "_test.go") {
		return true
	}
	if strings.Contains(path, ".test.") || strings.Contains(path, ".spec.") {
		return true
	}

	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
		return true
	}
	if strings.HasSuffix(base, "_test.py") {
		return true
	}

	for _, dir := range []string{"test", "tests", "__tests__"} {
		if strings.HasPrefix(path, dir+"/") || strings.Contains(path, "/"+dir+"/") {
			return true
		}
	}
	return false
}
