//go:build ignore

// Compares two `go test -bench` output files and flags regressions.
// Usage: go run scripts/bench-compare.go [-threshold 0.2] <current.txt> <baseline.txt>
//
// A benchmark regresses when its ns/op grows past the threshold, or
// when its allocs/op grow at all while ns/op also got worse. Exits
// nonzero on regression so CI can gate on it.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	threshold = flag.Float64("threshold", 0.20, "ns/op growth treated as a regression (fraction)")
	asJSON    = flag.Bool("json", false, "emit the report as JSON")
	showAll   = flag.Bool("all", false, "list every benchmark, not just changed ones")
)

// benchLine matches "BenchmarkX-8  1000  1234 ns/op  56 B/op  7 allocs/op".
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+\d+\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

type sample struct {
	NsPerOp     float64 `json:"ns_per_op"`
	AllocsPerOp int     `json:"allocs_per_op"`
}

type delta struct {
	Name     string  `json:"name"`
	Current  float64 `json:"current_ns"`
	Baseline float64 `json:"baseline_ns"`
	Growth   float64 `json:"growth"`
	Verdict  string  `json:"verdict"`
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <current.txt> <baseline.txt>\n", os.Args[0])
		os.Exit(2)
	}

	current, err := readSamples(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := readSamples(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	deltas, regressed := diff(current, baseline)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(deltas)
	} else {
		printTable(deltas)
	}
	if regressed {
		os.Exit(1)
	}
}

func readSamples(path string) (map[string]sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]sample)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		ns, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		s := sample{NsPerOp: ns}
		if m[4] != "" {
			s.AllocsPerOp, _ = strconv.Atoi(m[4])
		}
		out[m[1]] = s
	}
	return out, sc.Err()
}

func diff(current, baseline map[string]sample) ([]delta, bool) {
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	var deltas []delta
	regressed := false
	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			if *showAll {
				deltas = append(deltas, delta{Name: name, Current: curr.NsPerOp, Verdict: "new"})
			}
			continue
		}
		growth := 0.0
		if base.NsPerOp > 0 {
			growth = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp
		}
		d := delta{Name: name, Current: curr.NsPerOp, Baseline: base.NsPerOp, Growth: growth}
		switch {
		case growth > *threshold,
			growth > 0 && curr.AllocsPerOp > base.AllocsPerOp:
			d.Verdict = "regression"
			regressed = true
		case growth < -*threshold:
			d.Verdict = "improved"
		default:
			d.Verdict = "ok"
		}
		if d.Verdict != "ok" || *showAll {
			deltas = append(deltas, d)
		}
	}
	return deltas, regressed
}

func printTable(deltas []delta) {
	if len(deltas) == 0 {
		fmt.Println("no changes past threshold")
		return
	}
	fmt.Printf("%-55s %12s %12s %8s  %s\n", "benchmark", "current", "baseline", "growth", "verdict")
	for _, d := range deltas {
		if d.Baseline == 0 {
			fmt.Printf("%-55s %10.0fns %12s %8s  %s\n", d.Name, d.Current, "-", "-", d.Verdict)
			continue
		}
		fmt.Printf("%-55s %10.0fns %10.0fns %+7.1f%%  %s\n",
			d.Name, d.Current, d.Baseline, d.Growth*100, d.Verdict)
	}
}
