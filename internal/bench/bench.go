// Package bench implements the Benchmark Runner: it executes a named
// benchmark's Problems against a pluggable Executor, scores each outcome,
// and persists BenchmarkRuns and baseline pointers to disk, per spec.md
// §4.11/§6. The "sequential-by-default, save-to-disk, baseline-pointer-
// file, compare-two-runs" shape is grounded directly on
// original_source/core/benchmarks/runner.py's BenchmarkRunner — this
// repository does not depend on that runner's Python internals, only its
// persisted-artifact contract, which spec.md §6 names explicitly
// ("run_id, benchmark_name, started_at, finished_at, results, totals" and
// a "{benchmark}_baseline.json" pointer). Per-problem scoring for the
// test-runner validation kind (write generated code to a temp file, run a
// sibling fixture, parse a RESULT: passed/total marker from subprocess
// output) mirrors original_source/core/benchmarks/executor.py's
// sandboxed-subprocess scoring approach, adapted to Go's os/exec instead
// of asyncio subprocess.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hcwagner/orchestrator/internal/types"
)

// Executor runs one Problem and returns its raw output text, the token
// count spent producing it, and an error if the call itself failed (not a
// scoring failure — scoring failures are captured as a zero score).
type Executor func(ctx context.Context, problem types.BenchmarkProblem) (output string, tokens int, err error)

// Runner executes benchmark problem sets and persists their results.
type Runner struct {
	resultsDir  string
	fixturesDir string
}

// New creates a Runner. fixturesDir holds the sibling ".fixture" shell
// command files the "test_runner" validation kind executes against
// generated code; it may be empty if no benchmark in use needs that kind.
func New(resultsDir, fixturesDir string) *Runner {
	_ = os.MkdirAll(resultsDir, 0o755)
	return &Runner{resultsDir: resultsDir, fixturesDir: fixturesDir}
}

// Run executes every problem (sequentially, matching spec.md §4.11's
// default) against exec, scoring each and aggregating the results into a
// persisted BenchmarkRun with a stable run id.
func (r *Runner) Run(ctx context.Context, benchmarkName string, problems []types.BenchmarkProblem, run Executor) (types.BenchmarkRun, error) {
	if len(problems) == 0 {
		return types.BenchmarkRun{}, fmt.Errorf("bench: no problems for benchmark %q", benchmarkName)
	}

	result := types.BenchmarkRun{
		RunID:         fmt.Sprintf("%s_%d_%s", benchmarkName, time.Now().Unix(), uuid.NewString()[:8]),
		BenchmarkName: benchmarkName,
		StartedAt:     time.Now(),
		Results:       make(map[string]types.ProblemOutcome, len(problems)),
	}

	var scoreSum float64
	for _, p := range problems {
		outcome := r.runProblem(ctx, p, run)
		result.Results[p.ID] = outcome
		scoreSum += outcome.Score
		result.TotalTokens += outcome.Tokens
		result.TotalDuration += outcome.Duration
		if outcome.Passed {
			result.PassCount++
		}
	}
	result.AverageScore = scoreSum / float64(len(problems))
	result.FinishedAt = time.Now()

	if err := r.save(result); err != nil {
		return result, fmt.Errorf("bench: save run %s: %w", result.RunID, err)
	}
	return result, nil
}

func (r *Runner) runProblem(ctx context.Context, p types.BenchmarkProblem, run Executor) types.ProblemOutcome {
	start := time.Now()
	outcome := types.ProblemOutcome{ProblemID: p.ID}

	pctx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	output, tokens, err := run(pctx, p)
	outcome.Tokens = tokens
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Output = err.Error()
		outcome.Score = 0
		outcome.Passed = false
		return outcome
	}

	const outputCap = 1000
	if len(output) > outputCap {
		outcome.Output = output[:outputCap]
	} else {
		outcome.Output = output
	}

	score, passed, scoreErr := r.score(pctx, p, output)
	if scoreErr != nil {
		outcome.Score = 0
		outcome.Passed = false
		outcome.Output = scoreErr.Error()
		return outcome
	}
	outcome.Score = score
	outcome.Passed = passed
	return outcome
}

var resultMarkerRe = regexp.MustCompile(`RESULT:\s*(\d+)\s*/\s*(\d+)`)

// score applies problem.Validation: "literal_contains" checks the raw
// output contains the expected substring; "test_runner" writes output to a
// temp file and runs the problem's sibling fixture command against it,
// parsing a "RESULT: passed/total" marker from the fixture's stdout.
func (r *Runner) score(ctx context.Context, p types.BenchmarkProblem, output string) (score float64, passed bool, err error) {
	switch p.Validation {
	case "literal_contains", "":
		ok := p.ExpectedOutput != "" && strings.Contains(output, p.ExpectedOutput)
		if ok {
			return 1, true, nil
		}
		return 0, false, nil
	case "test_runner":
		return r.runTestRunner(ctx, p, output)
	default:
		return 0, false, fmt.Errorf("bench: unknown validation kind %q for problem %s", p.Validation, p.ID)
	}
}

func (r *Runner) runTestRunner(ctx context.Context, p types.BenchmarkProblem, output string) (float64, bool, error) {
	tmp, err := os.CreateTemp("", p.ID+"-*.out")
	if err != nil {
		return 0, false, fmt.Errorf("bench: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(output); err != nil {
		tmp.Close()
		return 0, false, fmt.Errorf("bench: write temp file: %w", err)
	}
	tmp.Close()

	fixturePath := filepath.Join(r.fixturesDir, p.ID+".fixture")
	fixtureCmd, err := os.ReadFile(fixturePath)
	if err != nil {
		return 0, false, fmt.Errorf("bench: read fixture %s: %w", fixturePath, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", strings.TrimSpace(string(fixtureCmd)))
	cmd.Env = append(os.Environ(), "PROBLEM_FILE="+tmp.Name())
	out, _ := cmd.CombinedOutput() // non-zero exit is expected when assertions fail; the marker still prints

	m := resultMarkerRe.FindStringSubmatch(string(out))
	if len(m) != 3 {
		return 0, false, fmt.Errorf("bench: fixture for %s did not print a RESULT marker", p.ID)
	}
	passedN, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	if total == 0 {
		return 0, false, fmt.Errorf("bench: fixture for %s reported 0 total assertions", p.ID)
	}
	score := float64(passedN) / float64(total)
	return score, passedN == total, nil
}

func (r *Runner) save(run types.BenchmarkRun) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.resultsDir, run.RunID+".json"), data, 0o644)
}

// LoadRun reads a persisted run by id.
func (r *Runner) LoadRun(runID string) (types.BenchmarkRun, error) {
	data, err := os.ReadFile(filepath.Join(r.resultsDir, runID+".json"))
	if err != nil {
		return types.BenchmarkRun{}, fmt.Errorf("bench: load run %s: %w", runID, err)
	}
	var run types.BenchmarkRun
	if err := json.Unmarshal(data, &run); err != nil {
		return types.BenchmarkRun{}, fmt.Errorf("bench: decode run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns every persisted run id for benchmarkName, newest first.
// An empty benchmarkName lists every run.
func (r *Runner) ListRuns(benchmarkName string) []string {
	entries, err := os.ReadDir(r.resultsDir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, "_baseline.json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if benchmarkName == "" || strings.HasPrefix(id, benchmarkName+"_") {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids
}

// SetBaseline marks runID as benchmarkName's baseline pointer, per spec.md
// §6's "{benchmark}_baseline.json" artifact.
func (r *Runner) SetBaseline(runID string) error {
	run, err := r.LoadRun(runID)
	if err != nil {
		return err
	}
	baseline := types.BenchmarkBaseline{
		RunID:         runID,
		SetAt:         time.Now(),
		AverageScore:  run.AverageScore,
		PassedCount:   run.PassCount,
		TotalProblems: len(run.Results),
	}
	data, err := json.MarshalIndent(baseline, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.resultsDir, run.BenchmarkName+"_baseline.json"), data, 0o644)
}

// GetBaseline reads benchmarkName's baseline pointer.
func (r *Runner) GetBaseline(benchmarkName string) (types.BenchmarkBaseline, error) {
	data, err := os.ReadFile(filepath.Join(r.resultsDir, benchmarkName+"_baseline.json"))
	if err != nil {
		return types.BenchmarkBaseline{}, fmt.Errorf("bench: no baseline for %q: %w", benchmarkName, err)
	}
	var b types.BenchmarkBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return types.BenchmarkBaseline{}, fmt.Errorf("bench: decode baseline for %q: %w", benchmarkName, err)
	}
	return b, nil
}

// Comparison is the result of comparing two persisted runs problem by
// problem, per original_source/core/benchmarks/runner.py's compare().
type Comparison struct {
	Improved      []string
	Regressed     []string
	Unchanged     []string
	ScoreDiff     float64
	IsImprovement bool
}

// Compare loads runID1 and runID2 and diffs them per-problem, using a 0.01
// score-delta tolerance to classify a problem as improved/regressed/
// unchanged, matching the original's comparison tolerance.
func (r *Runner) Compare(runID1, runID2 string) (Comparison, error) {
	run1, err := r.LoadRun(runID1)
	if err != nil {
		return Comparison{}, err
	}
	run2, err := r.LoadRun(runID2)
	if err != nil {
		return Comparison{}, err
	}

	seen := map[string]bool{}
	for id := range run1.Results {
		seen[id] = true
	}
	for id := range run2.Results {
		seen[id] = true
	}

	var cmp Comparison
	for id := range seen {
		o1, ok1 := run1.Results[id]
		o2, ok2 := run2.Results[id]
		if !ok1 || !ok2 {
			continue
		}
		switch {
		case o2.Score > o1.Score+0.01:
			cmp.Improved = append(cmp.Improved, id)
		case o2.Score < o1.Score-0.01:
			cmp.Regressed = append(cmp.Regressed, id)
		default:
			cmp.Unchanged = append(cmp.Unchanged, id)
		}
	}
	sort.Strings(cmp.Improved)
	sort.Strings(cmp.Regressed)
	sort.Strings(cmp.Unchanged)

	cmp.ScoreDiff = run2.AverageScore - run1.AverageScore
	cmp.IsImprovement = len(cmp.Regressed) == 0 && run2.AverageScore >= run1.AverageScore
	return cmp, nil
}
