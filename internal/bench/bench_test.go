package bench

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hcwagner/orchestrator/internal/types"
)

func problems() []types.BenchmarkProblem {
	return []types.BenchmarkProblem{
		{ID: "p1", Statement: "say hello", ExpectedOutput: "hello", Validation: "literal_contains"},
		{ID: "p2", Statement: "say goodbye", ExpectedOutput: "goodbye", Validation: "literal_contains"},
	}
}

func TestRunScoresLiteralContains(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, dir)

	exec := func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
		if p.ID == "p1" {
			return "hello world", 10, nil
		}
		return "wrong answer", 10, nil
	}

	run, err := r.Run(context.Background(), "demo", problems(), exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.PassCount != 1 {
		t.Errorf("expected 1 pass, got %d", run.PassCount)
	}
	if run.Results["p1"].Score != 1 || run.Results["p2"].Score != 0 {
		t.Errorf("unexpected per-problem scores: %+v", run.Results)
	}
	if run.AverageScore != 0.5 {
		t.Errorf("expected average score 0.5, got %f", run.AverageScore)
	}
}

func TestRunPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, dir)
	exec := func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
		return p.ExpectedOutput, 1, nil
	}
	run, err := r.Run(context.Background(), "demo", problems(), exec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, run.RunID+".json")); err != nil {
		t.Fatalf("expected run file on disk: %v", err)
	}
	loaded, err := r.LoadRun(run.RunID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.AverageScore != run.AverageScore || loaded.PassCount != run.PassCount {
		t.Errorf("round-trip mismatch: got %+v, want %+v", loaded, run)
	}
}

func TestSetAndGetBaseline(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, dir)
	exec := func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
		return p.ExpectedOutput, 1, nil
	}
	run, _ := r.Run(context.Background(), "demo", problems(), exec)
	if err := r.SetBaseline(run.RunID); err != nil {
		t.Fatalf("set baseline: %v", err)
	}
	baseline, err := r.GetBaseline("demo")
	if err != nil {
		t.Fatalf("get baseline: %v", err)
	}
	if baseline.RunID != run.RunID {
		t.Errorf("expected baseline run id %q, got %q", run.RunID, baseline.RunID)
	}
}

func TestCompareClassifiesImprovedAndRegressed(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, dir)

	good := func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
		return p.ExpectedOutput, 1, nil
	}
	bad := func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
		if p.ID == "p1" {
			return "wrong", 1, nil
		}
		return p.ExpectedOutput, 1, nil
	}

	run1, _ := r.Run(context.Background(), "demo", problems(), bad)
	run2, _ := r.Run(context.Background(), "demo", problems(), good)

	cmp, err := r.Compare(run1.RunID, run2.RunID)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(cmp.Improved) != 1 || cmp.Improved[0] != "p1" {
		t.Errorf("expected p1 improved, got %+v", cmp)
	}
	if !cmp.IsImprovement {
		t.Errorf("expected overall improvement, got %+v", cmp)
	}
}

func TestUnknownValidationKindIsAnError(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, dir)
	probs := []types.BenchmarkProblem{{ID: "p1", Validation: "bogus"}}
	exec := func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
		return "anything", 0, nil
	}
	run, err := r.Run(context.Background(), "demo", probs, exec)
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if run.Results["p1"].Passed {
		t.Error("expected unknown validation kind to fail, not pass")
	}
}
