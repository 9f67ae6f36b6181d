// Command sessionguard-benchcheck compares two `go test -bench` outputs and
// fails when a tracked hot path regressed past the threshold.
//
//	go test -run '^$' -bench . -count 5 ./... > base.txt
//	go test -run '^$' -bench . -count 5 ./... > head.txt
//	go run ./cmd/sessionguard-benchcheck -baseline base.txt -candidate head.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// Hot paths: every request validates, most touch, auth flows refresh.
var defaultTracked = map[string][]string{
	"BenchmarkEngineValidate":         {"ns/op", "allocs/op"},
	"BenchmarkEngineValidateParallel": {"ns/op"},
	"BenchmarkEngineTouch":            {"ns/op", "allocs/op"},
	"BenchmarkEngineRefresh":          {"ns/op"},
	"BenchmarkMetricsIncParallel":     {"ns/op"},
}

// samples maps benchmark name to unit to every observed value.
type samples map[string]map[string][]float64

type comparison struct {
	Benchmark string
	Unit      string
	Baseline  float64
	Candidate float64
	Delta     float64
}

func main() {
	var (
		baselinePath  = flag.String("baseline", "", "path to baseline benchmark output")
		candidatePath = flag.String("candidate", "", "path to candidate benchmark output")
		threshold     = flag.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	)
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := parseFile(*baselinePath, defaultTracked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseFile(*candidatePath, defaultTracked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	rows, failures := compare(baseline, candidate, defaultTracked, *threshold)
	fmt.Println("benchmark unit baseline candidate delta")
	for _, r := range rows {
		fmt.Printf("%s %s %.3f %.3f %+0.2f%%\n", r.Benchmark, r.Unit, r.Baseline, r.Candidate, r.Delta*100)
	}
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "regression threshold exceeded:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
}

// compare checks the median of every tracked benchmark and unit. Rows come
// back sorted by benchmark then unit.
func compare(baseline, candidate samples, tracked map[string][]string, threshold float64) ([]comparison, []string) {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		rows     []comparison
		failures []string
	)
	for _, name := range names {
		for _, unit := range tracked[name] {
			base, cand := baseline[name][unit], candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, unit))
				continue
			}
			bm, cm := median(base), median(cand)
			if bm <= 0 {
				// Zero-alloc baselines only regress when the candidate allocates.
				if cm > 0 {
					failures = append(failures, fmt.Sprintf("%s %s went from 0 to %.3f", name, unit, cm))
				}
				rows = append(rows, comparison{Benchmark: name, Unit: unit, Baseline: bm, Candidate: cm})
				continue
			}
			delta := (cm - bm) / bm
			rows = append(rows, comparison{Benchmark: name, Unit: unit, Baseline: bm, Candidate: cm, Delta: delta})
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, unit, delta*100, threshold*100))
			}
		}
	}
	return rows, failures
}

func parseFile(path string, tracked map[string][]string) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f, tracked)
}

// parse reads `go test -bench` output. Lines look like
// "BenchmarkX-8  1000  1234 ns/op  16 B/op  1 allocs/op".
func parse(r io.Reader, tracked map[string][]string) (samples, error) {
	out := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := trimProcs(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], v)
		}
	}
	return out, scanner.Err()
}

// trimProcs drops the GOMAXPROCS suffix ("-8").
func trimProcs(raw string) string {
	if i := strings.LastIndexByte(raw, '-'); i > 0 {
		if _, err := strconv.Atoi(raw[i+1:]); err == nil {
			return raw[:i]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
