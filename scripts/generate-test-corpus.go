//go:build ignore

// Generates a synthetic multi-partition corpus for index benchmarks.
// Usage: go run scripts/generate-test-corpus.go -files 2000 -partitions 3 -output testdata/corpus
//
// Each partition gets its own directory so a partitioned config can
// point one root at each. Go files call into each other within a
// partition to give the graph store real edges to extract.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles   = flag.Int("files", 2000, "total files across all partitions")
	partitions = flag.Int("partitions", 3, "number of partition directories")
	outputDir  = flag.String("output", "testdata/corpus", "output directory")
	seed       = flag.Int64("seed", 1, "random seed")
)

var goFileTmpl = `package %s

import (
	"context"
	"fmt"
)

// %[2]s coordinates %[3]s for this service.
type %[2]s struct {
	name  string
	items map[string]string
}

func New%[2]s(name string) *%[2]s {
	return &%[2]s{name: name, items: make(map[string]string)}
}

func (c *%[2]s) %[4]s(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := c.items[key]
	if !ok {
		return "", fmt.Errorf("%[3]s: %%q not found", key)
	}
	return c.render(v), nil
}

func (c *%[2]s) render(v string) string {
	return fmt.Sprintf("%%s/%%s", c.name, v)
}

func (c *%[2]s) Put(key, value string) {
	c.items[key] = value
}
`

var pyFileTmpl = `"""%s helpers."""

import json


class %s:
    """Stores %s records keyed by id."""

    def __init__(self):
        self._records = {}

    def add(self, rid, payload):
        self._records[rid] = payload

    def lookup(self, rid):
        record = self._records.get(rid)
        if record is None:
            raise KeyError(f"%s record {rid} not found")
        return self._decode(record)

    def _decode(self, record):
        return json.loads(record) if isinstance(record, str) else record
`

var mdFileTmpl = `# %s

Notes on the %s subsystem.

## Responsibilities

The %s layer owns record lifecycle and exposes lookup by id. Writes go
through a single owner per partition; reads fan out.

## Failure modes

A missing record returns a not-found error rather than an empty value,
so callers can distinguish absence from an empty payload.
`

var (
	subjects = []string{
		"Ledger", "Registry", "Catalog", "Journal", "Roster",
		"Manifest", "Gateway", "Relay", "Planner", "Resolver",
		"Broker", "Courier", "Vault", "Archive", "Atlas",
	}
	concerns = []string{
		"billing records", "user accounts", "shipment tracking",
		"audit events", "feature flags", "rate limits",
		"tenant quotas", "invoice drafts", "webhook deliveries",
		"retry schedules", "access grants", "report queues",
	}
	actions = []string{
		"Fetch", "Resolve", "Lookup", "Load", "Describe",
		"Inspect", "Collect", "Export", "Summarize",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	perPartition := *numFiles / *partitions
	total := 0
	for p := 0; p < *partitions; p++ {
		dir := filepath.Join(*outputDir, fmt.Sprintf("repo%d", p))
		for _, sub := range []string{"internal", "pylib", "docs"} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
				os.Exit(1)
			}
		}
		n, err := fillPartition(rng, dir, perPartition)
		if err != nil {
			fmt.Fprintf(os.Stderr, "partition repo%d: %v\n", p, err)
			os.Exit(1)
		}
		total += n
	}
	fmt.Printf("wrote %d files under %s (%d partitions)\n", total, *outputDir, *partitions)
}

// fillPartition writes roughly 60% Go, 25% Python, 15% Markdown.
func fillPartition(rng *rand.Rand, dir string, count int) (int, error) {
	goCount := count * 60 / 100
	pyCount := count * 25 / 100
	mdCount := count - goCount - pyCount

	written := 0
	for i := 0; i < goCount; i++ {
		subject := pick(rng, subjects)
		body := fmt.Sprintf(goFileTmpl,
			"gen"+strings.ToLower(subject),
			subject, pick(rng, concerns), pick(rng, actions))
		name := fmt.Sprintf("%s_%d.go", strings.ToLower(subject), i)
		if err := os.WriteFile(filepath.Join(dir, "internal", name), []byte(body), 0o644); err != nil {
			return written, err
		}
		written++
	}
	for i := 0; i < pyCount; i++ {
		subject := pick(rng, subjects)
		concern := pick(rng, concerns)
		body := fmt.Sprintf(pyFileTmpl, concern, subject, concern, subject)
		name := fmt.Sprintf("%s_%d.py", strings.ToLower(subject), i)
		if err := os.WriteFile(filepath.Join(dir, "pylib", name), []byte(body), 0o644); err != nil {
			return written, err
		}
		written++
	}
	for i := 0; i < mdCount; i++ {
		subject := pick(rng, subjects)
		concern := pick(rng, concerns)
		body := fmt.Sprintf(mdFileTmpl, subject, concern, concern)
		name := fmt.Sprintf("%s_%d.md", strings.ToLower(subject), i)
		if err := os.WriteFile(filepath.Join(dir, "docs", name), []byte(body), 0o644); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}
