package semantic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryExpander_Expand(t *testing.T) {
	expander := NewQueryExpander()

	tests := []struct {
		name     string
		query    string
		contains []string
	}{
		{
			name:     "function expands to declaration vocabulary",
			query:    "search function",
			contains: []string{"search", "function", "find", "func", "method"},
		},
		{
			name:     "error expands to handling vocabulary",
			query:    "error handling",
			contains: []string{"error", "err", "exception"},
		},
		{
			name:     "class expands to Go type vocabulary",
			query:    "define class",
			contains: []string{"define", "class", "type", "struct"},
		},
		{
			name:     "question vocabulary bridges to code vocabulary",
			query:    "where defined",
			contains: []string{"where", "defined", "definition", "location"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expander.Expand(tt.query)
			for _, term := range tt.contains {
				assert.Contains(t, result, term,
					"expected expanded query to contain %q, got %q", term, result)
			}
		})
	}
}

func TestQueryExpander_OriginalTermsFirst(t *testing.T) {
	// Given: a query whose terms all have synonyms
	expander := NewQueryExpander()

	// When: expanding
	result := expander.Expand("search function")

	// Then: the original terms lead so exact matches keep their rank edge
	terms := strings.Fields(result)
	require.GreaterOrEqual(t, len(terms), 2)
	assert.Equal(t, "search", terms[0])
	assert.Equal(t, "function", terms[1])
}

func TestQueryExpander_MaxExpansions(t *testing.T) {
	t.Run("cap of one takes the first synonym only", func(t *testing.T) {
		expander := NewQueryExpander(WithMaxExpansions(1), WithCasingVariants(false))
		assert.Equal(t, "function func", expander.Expand("function"))
	})

	t.Run("default cap takes three", func(t *testing.T) {
		expander := NewQueryExpander(WithCasingVariants(false))
		assert.Equal(t, "function func method fn", expander.Expand("function"))
	})
}

func TestQueryExpander_Deduplicates(t *testing.T) {
	// Given: the same term repeated in different casings
	expander := NewQueryExpander()

	// When: expanding
	result := expander.Expand("search Search SEARCH")

	// Then: each term appears once, case-insensitively
	terms := strings.Fields(result)
	seen := make(map[string]int)
	for _, term := range terms {
		seen[strings.ToLower(term)]++
	}
	for term, count := range seen {
		assert.Equal(t, 1, count, "term %q appears %d times", term, count)
	}
}

func TestQueryExpander_DisableCasingVariants(t *testing.T) {
	expander := NewQueryExpander(WithCasingVariants(false))

	result := expander.Expand("search")

	assert.NotContains(t, result, "SEARCH")
}

func TestQueryExpander_CustomSynonyms(t *testing.T) {
	custom := map[string][]string{
		"corpus": {"repository", "partition"},
	}
	expander := NewQueryExpander(WithSynonyms(custom))

	result := expander.Expand("corpus layout")

	assert.Contains(t, result, "repository")
	assert.Contains(t, result, "partition")
}

func TestQueryExpander_UnexpandableQuery(t *testing.T) {
	expander := NewQueryExpander()

	t.Run("empty query passes through", func(t *testing.T) {
		assert.Equal(t, "", expander.Expand(""))
	})

	t.Run("punctuation-only query passes through", func(t *testing.T) {
		assert.Equal(t, "???", expander.Expand("???"))
	})

	t.Run("unknown terms survive unchanged", func(t *testing.T) {
		result := expander.Expand("frobnicate")
		assert.Contains(t, result, "frobnicate")
	})
}

func TestTokenizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"whitespace", "search the index", []string{"search", "the", "index"}},
		{"punctuation", "engine.Search(ctx)", []string{"engine", "Search", "ctx"}},
		{"camelCase", "parseFile", []string{"parse", "File"}},
		{"snake_case", "parse_file", []string{"parse", "file"}},
		{"PascalCase", "QueryExpander", []string{"Query", "Expander"}},
		{"digits", "utf8 decode", []string{"utf8", "decode"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenizeQuery(tt.query))
		})
	}
}

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		token string
		want  []string
	}{
		{"parseFile", []string{"parse", "File"}},
		{"parse_file", []string{"parse", "file"}},
		{"__init__", []string{"init"}},
		{"HTTPServer", []string{"H", "T", "T", "P", "Server"}},
		{"simple", []string{"simple"}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, splitIdentifier(tt.token))
		})
	}
}

func TestCasingVariants(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"search", []string{"Search"}},
		{"Search", []string{"search"}},
		{"ctx", []string{"CTX", "Ctx"}},
		{"CTX", []string{"ctx", "Ctx"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, casingVariants(tt.input))
		})
	}
}
