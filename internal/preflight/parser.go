package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/corpusmcp/corpusmcp/internal/parse"
)

// CheckParser verifies the tree-sitter grammars load and can parse.
func (c *Checker) CheckParser(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "parser",
		Required: true,
	}

	langs := parse.DefaultRegistry().Languages()
	if len(langs) == 0 {
		result.Status = StatusFail
		result.Message = "no language grammars registered"
		return result
	}

	parser := parse.NewParser()
	defer parser.Close()

	if _, err := parser.Parse(ctx, []byte("package probe\n"), "go"); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("grammar probe failed: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d languages (%s)", len(langs), strings.Join(langs, ", "))
	return result
}
