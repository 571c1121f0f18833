package mcp

import (
	"fmt"
	"strings"

	"github.com/corpusmcp/corpusmcp/internal/graph"
	"github.com/corpusmcp/corpusmcp/internal/semantic"
)

// FormatSearchResults renders hybrid search hits as markdown.
func FormatSearchResults(query string, results []*semantic.Result) string {
	valid := filterValidResults(results)
	if len(valid) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for %q\n\n", query)
	fmt.Fprintf(&sb, "Found %s\n\n", countNoun(len(valid), "result", "results"))
	for i, r := range valid {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

// formatResult renders one hit: header, partition, symbols, fenced code.
func formatResult(sb *strings.Builder, num int, r *semantic.Result) {
	c := r.Chunk
	fmt.Fprintf(sb, "### %d. %s:%d-%d (score: %.2f)\n", num, c.FilePath, c.StartLine, c.EndLine, r.Score)

	if r.Partition != "" {
		fmt.Fprintf(sb, "**Partition:** `%s`\n", r.Partition)
	}
	if len(c.Symbols) > 0 {
		names := make([]string, len(c.Symbols))
		for i, sym := range c.Symbols {
			names[i] = fmt.Sprintf("`%s`", sym.Name)
		}
		fmt.Fprintf(sb, "**Symbols:** %s\n", strings.Join(names, ", "))
	}
	sb.WriteString("\n")

	lang := c.Language
	if lang == "" {
		lang = "text"
	}
	content := c.RawContent
	if content == "" {
		content = c.Content
	}
	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, content)
}

// FormatSymbolMatches renders structural pattern hits as markdown.
func FormatSymbolMatches(pattern string, nodes []*graph.Node) string {
	if len(nodes) == 0 {
		return fmt.Sprintf("No symbols match %q", pattern)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Symbols Matching %q\n\n", pattern)
	fmt.Fprintf(&sb, "Found %s\n\n", countNoun(len(nodes), "match", "matches"))

	for i, n := range nodes {
		fmt.Fprintf(&sb, "### %d. %s (%s)\n", i+1, n.Name, n.Kind)
		fmt.Fprintf(&sb, "%s:%d-%d", n.FilePath, n.StartLine, n.EndLine)
		if n.Partition != "" {
			fmt.Fprintf(&sb, " [%s]", n.Partition)
		}
		sb.WriteString("\n")
		if n.Container != "" {
			fmt.Fprintf(&sb, "Defined in `%s`\n", n.Container)
		}
		if n.Signature != "" {
			fmt.Fprintf(&sb, "```\n%s\n```\n", n.Signature)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatTraversal renders a call graph walk grouped by depth. The relation
// is the heading word, "Callers" or "Dependencies"; nodes must arrive
// sorted by depth, which is how the graph store returns them.
func FormatTraversal(relation, symbol string, nodes []*graph.TraversalNode) string {
	if len(nodes) == 0 {
		return fmt.Sprintf("No %s found for `%s`", strings.ToLower(relation), symbol)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s of `%s`\n\n", relation, symbol)
	fmt.Fprintf(&sb, "Found %s\n\n", countNoun(len(nodes), "symbol", "symbols"))

	depth := 0
	for _, n := range nodes {
		if n.Depth != depth {
			depth = n.Depth
			fmt.Fprintf(&sb, "**Depth %d**\n\n", depth)
		}
		fmt.Fprintf(&sb, "- `%s` (%s) %s:%d", n.Name, n.Kind, n.FilePath, n.StartLine)
		if n.Partition != "" {
			fmt.Fprintf(&sb, " [%s]", n.Partition)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatCallPaths renders call chains between two symbols, one numbered
// line per path.
func FormatCallPaths(from, to string, paths [][]string) string {
	if len(paths) == 0 {
		return fmt.Sprintf("No call paths found from `%s` to `%s`", from, to)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Call Paths from `%s` to `%s`\n\n", from, to)
	fmt.Fprintf(&sb, "Found %s\n\n", countNoun(len(paths), "path", "paths"))

	for i, path := range paths {
		steps := make([]string, len(path))
		for j, step := range path {
			steps[j] = fmt.Sprintf("`%s`", step)
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(steps, " -> "))
	}
	return sb.String()
}

// filterValidResults drops nil results and results with nil chunks.
func filterValidResults(results []*semantic.Result) []*semantic.Result {
	valid := make([]*semantic.Result, 0, len(results))
	for _, r := range results {
		if r != nil && r.Chunk != nil {
			valid = append(valid, r)
		}
	}
	return valid
}

// countNoun renders "1 result" or "3 results".
func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

// clampLimit bounds a client-supplied count, substituting the default for
// zero and negative values.
func clampLimit(limit, def, lo, hi int) int {
	if limit <= 0 {
		return def
	}
	if limit < lo {
		return lo
	}
	if limit > hi {
		return hi
	}
	return limit
}

// ToSearchResultOutput converts an engine hit into the structured tool
// output, including a one-line explanation of why it matched.
func ToSearchResultOutput(r *semantic.Result) SearchResultOutput {
	if r == nil || r.Chunk == nil {
		return SearchResultOutput{}
	}

	out := SearchResultOutput{
		FilePath:     r.Chunk.FilePath,
		Partition:    r.Partition,
		StartLine:    r.Chunk.StartLine,
		EndLine:      r.Chunk.EndLine,
		Content:      r.Chunk.Content,
		Score:        r.Score,
		Language:     r.Chunk.Language,
		MatchedTerms: r.MatchedTerms,
		InBoth:       r.InBoth,
	}
	if len(r.Chunk.Symbols) > 0 {
		sym := r.Chunk.Symbols[0]
		out.Symbol = sym.Name
		out.SymbolKind = sym.Kind
		out.Signature = sym.Signature
	}
	out.MatchReason = matchReason(r)
	return out
}

// matchReason explains in one line why a chunk ranked.
func matchReason(r *semantic.Result) string {
	var parts []string

	if len(r.Chunk.Symbols) > 0 {
		sym := r.Chunk.Symbols[0]
		parts = append(parts, fmt.Sprintf("%s '%s'", sym.Kind, sym.Name))
	}
	if len(r.MatchedTerms) > 0 {
		terms := r.MatchedTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		parts = append(parts, "matched: "+strings.Join(terms, ", "))
	}
	if r.InBoth {
		parts = append(parts, "ranked by both keyword and vector retrieval")
	}

	if len(parts) == 0 {
		return "content match"
	}
	return strings.Join(parts, "; ")
}

// toSymbolMatch converts a graph node into the structured tool output.
func toSymbolMatch(n *graph.Node) SymbolMatch {
	return SymbolMatch{
		Name:      n.Name,
		Kind:      n.Kind,
		FilePath:  n.FilePath,
		StartLine: n.StartLine,
		EndLine:   n.EndLine,
		Signature: n.Signature,
		Container: n.Container,
		Partition: n.Partition,
	}
}

// toTraversalHit converts a traversal node into the structured tool output.
func toTraversalHit(n *graph.TraversalNode) TraversalHit {
	return TraversalHit{
		Name:      n.Name,
		Kind:      n.Kind,
		FilePath:  n.FilePath,
		StartLine: n.StartLine,
		Depth:     n.Depth,
		Partition: n.Partition,
	}
}
