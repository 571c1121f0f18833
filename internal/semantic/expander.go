package semantic

import (
	"strings"
	"unicode"
)

// QueryExpander rewrites queries for the keyword branch. It keeps the
// original terms, appends code synonyms, and adds casing variants for Go
// naming conventions. Only BM25 sees the expanded query; the vector branch
// embeds the original, since the embedding model covers synonymy itself and
// extra terms only add noise there.
type QueryExpander struct {
	synonyms      map[string][]string
	maxExpansions int
	includeCasing bool
}

// ExpanderOption configures a QueryExpander.
type ExpanderOption func(*QueryExpander)

// WithMaxExpansions caps how many synonyms are added per term.
func WithMaxExpansions(n int) ExpanderOption {
	return func(e *QueryExpander) {
		e.maxExpansions = n
	}
}

// WithCasingVariants toggles casing-variant expansion.
func WithCasingVariants(enabled bool) ExpanderOption {
	return func(e *QueryExpander) {
		e.includeCasing = enabled
	}
}

// WithSynonyms merges extra synonym mappings into the default table.
func WithSynonyms(extra map[string][]string) ExpanderOption {
	return func(e *QueryExpander) {
		for k, v := range extra {
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// NewQueryExpander creates an expander with the built-in code synonym table,
// three synonyms per term, and casing variants enabled.
func NewQueryExpander(opts ...ExpanderOption) *QueryExpander {
	e := &QueryExpander{
		synonyms:      make(map[string][]string, len(codeSynonyms)),
		maxExpansions: 3,
		includeCasing: true,
	}
	for k, v := range codeSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the query with synonyms and casing variants appended.
// Original terms come first so exact matches keep their rank advantage.
// Terms are deduplicated case-insensitively.
func (e *QueryExpander) Expand(query string) string {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]bool)
	var expanded []string

	add := func(term string) {
		key := strings.ToLower(term)
		if !seen[key] {
			expanded = append(expanded, term)
			seen[key] = true
		}
	}

	for _, term := range terms {
		add(term)
	}

	for _, term := range terms {
		added := 0
		for _, syn := range e.synonyms[strings.ToLower(term)] {
			if added >= e.maxExpansions {
				break
			}
			if !seen[strings.ToLower(syn)] {
				add(syn)
				added++
			}
		}
	}

	if e.includeCasing {
		for _, term := range terms {
			for _, v := range casingVariants(term) {
				add(v)
			}
		}
	}

	return strings.Join(expanded, " ")
}

// tokenizeQuery splits a query into terms, breaking on whitespace and
// punctuation and then on camelCase and snake_case boundaries.
func tokenizeQuery(query string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	var terms []string
	for _, token := range tokens {
		terms = append(terms, splitIdentifier(token)...)
	}
	return terms
}

// splitIdentifier breaks a token on snake_case and camelCase boundaries.
// "parseFile" becomes ["parse", "File"], "parse_file" becomes
// ["parse", "file"].
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	}

	var parts []string
	var current strings.Builder
	for i, r := range token {
		if i > 0 && unicode.IsUpper(r) && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// casingVariants returns Go-convention variants of a term: lowercase,
// exported TitleCase, and for short terms the all-caps initialism form.
func casingVariants(term string) []string {
	if term == "" {
		return nil
	}

	var variants []string
	lower := strings.ToLower(term)
	if term != lower {
		variants = append(variants, lower)
	}
	if upper := strings.ToUpper(term); term != upper && len(term) <= 4 {
		variants = append(variants, upper)
	}
	if title := titleCase(lower); term != title {
		variants = append(variants, title)
	}
	return variants
}

// titleCase uppercases the first rune of an already-lowercase word.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
