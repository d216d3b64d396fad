// Package rsi implements the Recursive Self-Improvement Loop: a state
// machine that benchmarks the current fleet, analyzes weaknesses,
// generates an improvement hypothesis, stages it (backing up the files it
// touches into a sandbox), re-benchmarks, and decides on the score delta:
// an accepted hypothesis has its changes applied, a rejected one is rolled
// back, per spec.md §4.11. The seven-phase state machine and its
// benchmark→analyze→plan→implement→re-benchmark→decide shape are grounded
// directly on original_source/core/rsi/loop.py's RSILoop.iterate; the
// sandbox-stage/apply/rollback file protocol (modify: replace old with new
// once, create: write content, delete: unlink, each independently
// reversible) mirrors that file's _implement_hypothesis/_apply_changes/
// _rollback_changes. Phase-change, improvement, and approval callbacks
// generalize the original's on_phase_change/on_improvement/
// on_approval_needed registration hooks into plain Go function fields.
package rsi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hcwagner/orchestrator/internal/types"
)

// Config mirrors the original's RSIConfig acceptance thresholds, per
// spec.md §4.11/§8 (P8): an iteration is accepted iff
// new-baseline >= MinImprovement and baseline-new <= MaxRegression.
type Config struct {
	Benchmarks     []string
	MinImprovement float64
	MaxRegression  float64
}

// BenchmarkFunc runs the named benchmark and returns its aggregate score
// in [0,1]. The Loop does not know how a benchmark actually runs — that is
// the Benchmark Runner's job (internal/bench); this keeps the RSI Loop
// decoupled from any one scoring mechanism, matching the original's
// injected benchmark_runner.
type BenchmarkFunc func(ctx context.Context, benchmarkName string) (float64, error)

// Analysis is what the ANALYZING phase hands to the hypothesis generator.
type Analysis struct {
	WeakBenchmarks []string
	Scores         map[string]float64
}

// HypothesisGenerator proposes one change given an Analysis, or returns a
// nil hypothesis when it has nothing to propose (the loop then idles for
// that iteration without attempting IMPLEMENTING), per the original's
// "no weaknesses identified - nothing to improve" short-circuit.
type HypothesisGenerator func(ctx context.Context, analysis Analysis) (*types.ImprovementHypothesis, error)

// fileChangeSpec is the structured shape carried inside
// ImprovementHypothesis.Changes' per-file string values — the original
// represents each change as a dict with action/old/new/content keys; this
// is that dict's Go-JSON-encoded equivalent, kept inside the spec's
// existing map[string]string shape rather than widening the shared type.
type fileChangeSpec struct {
	Action  string `json:"action"` // "modify" | "create" | "delete"
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
	Content string `json:"content,omitempty"`
}

// Loop drives one hypothesis through the RSI state machine per Iterate
// call. All fields besides Config are optional hooks; a nil hook is simply
// skipped (matching the original's "auto-approve if no callback" default).
type Loop struct {
	cfg       Config
	bench     BenchmarkFunc
	generate  HypothesisGenerator
	sandbox   string
	statePath string

	OnPhaseChange    func(old, new types.RSIPhase)
	OnImprovement    func(hyp types.ImprovementHypothesis, delta float64)
	OnApprovalNeeded func(ctx context.Context, hyp types.ImprovementHypothesis) bool

	mu         sync.Mutex
	phase      types.RSIPhase
	iterations []types.RSIIteration
}

// New creates a Loop. sandboxDir holds per-hypothesis backup files used to
// roll back DELETE actions; statePath, if non-empty, is a directory each
// iteration is persisted into as JSON, matching the original's
// storage_path/iteration_<id>.json files.
func New(cfg Config, bench BenchmarkFunc, generate HypothesisGenerator, sandboxDir, statePath string) *Loop {
	return &Loop{
		cfg:       cfg,
		bench:     bench,
		generate:  generate,
		sandbox:   sandboxDir,
		statePath: statePath,
		phase:     types.PhaseIdle,
	}
}

// Phase returns the loop's current phase.
func (l *Loop) Phase() types.RSIPhase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Iterations returns a copy of every iteration run so far.
func (l *Loop) Iterations() []types.RSIIteration {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.RSIIteration, len(l.iterations))
	copy(out, l.iterations)
	return out
}

func (l *Loop) setPhase(p types.RSIPhase) {
	l.mu.Lock()
	old := l.phase
	l.phase = p
	l.mu.Unlock()
	slog.Info("rsi phase transition", "from", old, "to", p)
	if l.OnPhaseChange != nil {
		l.OnPhaseChange(old, p)
	}
}

// Iterate runs one complete pass of the RSI loop: BENCHMARKING ->
// ANALYZING -> PLANNING -> (IDLE if no hypothesis) -> IMPLEMENTING ->
// RE-BENCHMARKING -> DECIDING -> ACCEPTED|REJECTED -> IDLE.
func (l *Loop) Iterate(ctx context.Context) (types.RSIIteration, error) {
	l.mu.Lock()
	id := len(l.iterations) + 1
	l.mu.Unlock()

	iter := types.RSIIteration{ID: id}

	l.setPhase(types.PhaseBenchmarking)
	baseline, err := l.runBenchmarks(ctx)
	if err != nil {
		l.setPhase(types.PhaseIdle)
		return l.finish(iter), fmt.Errorf("rsi: baseline benchmark: %w", err)
	}
	iter.BaselineScore = aggregate(baseline)

	l.setPhase(types.PhaseAnalyzing)
	analysis := analyze(baseline)

	l.setPhase(types.PhasePlanning)
	if l.generate == nil {
		l.setPhase(types.PhaseIdle)
		return l.finish(iter), nil
	}
	hypothesis, err := l.generate(ctx, analysis)
	if err != nil {
		l.setPhase(types.PhaseIdle)
		return l.finish(iter), fmt.Errorf("rsi: generate hypothesis: %w", err)
	}
	if hypothesis == nil {
		l.setPhase(types.PhaseIdle)
		return l.finish(iter), nil
	}
	iter.Hypothesis = hypothesis

	l.setPhase(types.PhaseImplementing)
	if err := l.implement(hypothesis); err != nil {
		hypothesis.RejectionReason = err.Error()
		l.setPhase(types.PhaseRejected)
		return l.finish(iter), nil
	}

	l.setPhase(types.PhaseReBenchmarking)
	newResults, err := l.runBenchmarks(ctx)
	if err != nil {
		l.rollback(hypothesis)
		hypothesis.RejectionReason = err.Error()
		l.setPhase(types.PhaseRejected)
		return l.finish(iter), nil
	}
	iter.NewScore = aggregate(newResults)
	iter.Delta = iter.NewScore - iter.BaselineScore

	l.setPhase(types.PhaseDeciding)
	accept, reason := decide(iter.BaselineScore, iter.NewScore, l.cfg)

	if accept {
		l.setPhase(types.PhaseAccepted)
		approved := true
		if l.OnApprovalNeeded != nil {
			approved = l.OnApprovalNeeded(ctx, *hypothesis)
		}
		if approved {
			l.apply(hypothesis)
			hypothesis.Accepted = true
			iter.Accepted = true
			if l.OnImprovement != nil {
				l.OnImprovement(*hypothesis, iter.Delta)
			}
		} else {
			l.rollback(hypothesis)
			hypothesis.RejectionReason = "rejected by approval callback"
			l.setPhase(types.PhaseRejected)
		}
	} else {
		l.setPhase(types.PhaseRejected)
		l.rollback(hypothesis)
		hypothesis.RejectionReason = reason
	}
	hypothesis.Tested = true

	return l.finish(iter), nil
}

func (l *Loop) finish(iter types.RSIIteration) types.RSIIteration {
	iter.Phase = l.Phase()
	l.mu.Lock()
	l.iterations = append(l.iterations, iter)
	l.mu.Unlock()
	l.setPhase(types.PhaseIdle)
	l.save(iter)
	return iter
}

func (l *Loop) runBenchmarks(ctx context.Context) (map[string]float64, error) {
	if l.bench == nil {
		return nil, fmt.Errorf("rsi: no benchmark function configured")
	}
	results := make(map[string]float64, len(l.cfg.Benchmarks))
	for _, name := range l.cfg.Benchmarks {
		score, err := l.bench(ctx, name)
		if err != nil {
			slog.Warn("benchmark failed during rsi iteration", "benchmark", name, "error", err)
			continue
		}
		results[name] = score
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("rsi: every configured benchmark failed")
	}
	return results, nil
}

func aggregate(results map[string]float64) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, s := range results {
		sum += s
	}
	return sum / float64(len(results))
}

// analyze flags any benchmark scoring below 0.8 as weak, matching the
// original's weak-area threshold.
func analyze(results map[string]float64) Analysis {
	a := Analysis{Scores: results}
	for name, score := range results {
		if score < 0.8 {
			a.WeakBenchmarks = append(a.WeakBenchmarks, name)
		}
	}
	return a
}

// decide applies spec.md §8's P8 acceptance rule.
func decide(baseline, newScore float64, cfg Config) (accept bool, reason string) {
	improvement := newScore - baseline
	if improvement < -cfg.MaxRegression {
		return false, fmt.Sprintf("Regression detected: %.2f%%", improvement*100)
	}
	if improvement < cfg.MinImprovement {
		return false, fmt.Sprintf("Improvement too small: %.2f%%", improvement*100)
	}
	return true, ""
}

func (l *Loop) sandboxDir(hypothesisID string) string {
	return filepath.Join(l.sandbox, hypothesisID)
}

// implement stages the hypothesis: any file that will be modified or
// deleted has its current content backed up into the sandbox so rollback
// can restore it, matching the original's "copy original to sandbox"
// staging before any mutation is attempted.
func (l *Loop) implement(hyp *types.ImprovementHypothesis) error {
	if len(hyp.Changes) == 0 {
		return fmt.Errorf("rsi: hypothesis %s has no file changes", hyp.ID)
	}
	dir := l.sandboxDir(hyp.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rsi: create sandbox dir: %w", err)
	}
	for path, raw := range hyp.Changes {
		spec, err := parseChange(raw)
		if err != nil {
			return fmt.Errorf("rsi: change for %s: %w", path, err)
		}
		if spec.Action == "modify" || spec.Action == "delete" {
			if data, err := os.ReadFile(path); err == nil {
				backup := filepath.Join(dir, sandboxName(path))
				_ = os.WriteFile(backup, data, 0o644)
			}
		}
	}
	hyp.Implemented = true
	return nil
}

// apply permanently commits the hypothesis's changes.
func (l *Loop) apply(hyp *types.ImprovementHypothesis) {
	for path, raw := range hyp.Changes {
		spec, err := parseChange(raw)
		if err != nil {
			slog.Warn("rsi: skipping unparsable change on apply", "file", path, "error", err)
			continue
		}
		switch spec.Action {
		case "modify":
			content, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("rsi: apply modify: read failed", "file", path, "error", err)
				continue
			}
			if !strings.Contains(string(content), spec.Old) {
				slog.Warn("rsi: apply modify: old text not found", "file", path)
				continue
			}
			updated := strings.Replace(string(content), spec.Old, spec.New, 1)
			_ = os.WriteFile(path, []byte(updated), 0o644)
		case "create":
			_ = os.MkdirAll(filepath.Dir(path), 0o755)
			_ = os.WriteFile(path, []byte(spec.Content), 0o644)
		case "delete":
			_ = os.Remove(path)
		}
	}
}

// rollback reverses a hypothesis's changes: modify is un-replaced, create
// is deleted, delete is restored from its sandbox backup.
func (l *Loop) rollback(hyp *types.ImprovementHypothesis) {
	dir := l.sandboxDir(hyp.ID)
	for path, raw := range hyp.Changes {
		spec, err := parseChange(raw)
		if err != nil {
			continue
		}
		switch spec.Action {
		case "modify":
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if strings.Contains(string(content), spec.New) {
				reverted := strings.Replace(string(content), spec.New, spec.Old, 1)
				_ = os.WriteFile(path, []byte(reverted), 0o644)
			}
		case "create":
			_ = os.Remove(path)
		case "delete":
			backup := filepath.Join(dir, sandboxName(path))
			if data, err := os.ReadFile(backup); err == nil {
				_ = os.WriteFile(path, data, 0o644)
			}
		}
	}
}

func parseChange(raw string) (fileChangeSpec, error) {
	var spec fileChangeSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return spec, fmt.Errorf("decode file change: %w", err)
	}
	if spec.Action == "" {
		return spec, fmt.Errorf("missing action")
	}
	return spec, nil
}

func sandboxName(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, string(filepath.Separator)), string(filepath.Separator), "_") + ".bak"
}

func (l *Loop) save(iter types.RSIIteration) {
	if l.statePath == "" {
		return
	}
	if err := os.MkdirAll(l.statePath, 0o755); err != nil {
		slog.Warn("rsi: could not create state dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(iter, "", "  ")
	if err != nil {
		slog.Warn("rsi: could not marshal iteration", "error", err)
		return
	}
	name := fmt.Sprintf("iteration_%d_%d.json", iter.ID, time.Now().Unix())
	if err := os.WriteFile(filepath.Join(l.statePath, name), data, 0o644); err != nil {
		slog.Warn("rsi: could not save iteration", "error", err)
	}
}

// Summary mirrors the original's get_summary() rollup.
type Summary struct {
	TotalIterations  int
	Accepted         int
	Rejected         int
	TotalImprovement float64
	CurrentPhase     types.RSIPhase
}

// Summarize aggregates every iteration run so far.
func (l *Loop) Summarize() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Summary{CurrentPhase: l.phase}
	for _, it := range l.iterations {
		s.TotalIterations++
		if it.Accepted {
			s.Accepted++
			s.TotalImprovement += it.Delta
		} else {
			s.Rejected++
		}
	}
	return s
}
