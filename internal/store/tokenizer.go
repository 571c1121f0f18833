package store

import (
	"regexp"
	"strings"
	"unicode"
)

// identRegex matches identifier-like runs; punctuation and whitespace split.
var identRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text into lowercase search tokens with code-aware
// rules: identifiers are broken on underscores and camelCase boundaries,
// and tokens shorter than two characters are dropped.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range identRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitIdentifier breaks a single identifier on underscores and camelCase
// boundaries. "parseHTTPResponse_v2" becomes [parse HTTP Response v2].
func SplitIdentifier(ident string) []string {
	var parts []string
	for _, seg := range strings.Split(ident, "_") {
		if seg == "" {
			continue
		}
		parts = append(parts, splitCamel(seg)...)
	}
	return parts
}

// splitCamel splits on lower-to-upper transitions. A boundary also falls
// before the last upper rune of an acronym run, so HTTPServer yields
// HTTP + Server.
func splitCamel(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}

	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || nextLower {
			if i > start {
				parts = append(parts, string(runes[start:i]))
			}
			start = i
		}
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

// BuildStopWordMap converts a stop word list into a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	if len(stopWords) == 0 {
		return tokens
	}
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := stopWords[t]; !stop {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
