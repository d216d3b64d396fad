package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/metrics"
	"github.com/hcwagner/orchestrator/internal/types"
)

// fakeChatter stubs the pool's chatter dependency so tests never hit a
// network client.
type fakeChatter struct{}

func (fakeChatter) Chat(ctx context.Context, system, user, modelAlias string, temperature float64, maxTokens int) (llm.Response, error) {
	return llm.Response{Text: "ok", Model: modelAlias}, nil
}

// fakeSearcher stubs the pool's searcher dependency so tests never hit a
// network meta-search endpoint.
type fakeSearcher struct {
	text string
	err  error
}

func (f fakeSearcher) Search(ctx context.Context, query string) (string, error) {
	return f.text, f.err
}

func TestNewAssignsCatalogueRoundRobin(t *testing.T) {
	p := New(5, []string{"fast", "tiny"}, nil, nil)
	want := []string{"fast", "tiny", "fast", "tiny", "fast"}
	for i, w := range p.workers {
		if w.Model != want[i] {
			t.Errorf("worker %d: got model %q, want %q", i, w.Model, want[i])
		}
	}
}

func TestNewEmptyCatalogueFallsBackToFast(t *testing.T) {
	p := New(2, nil, nil, nil)
	for _, w := range p.workers {
		if w.Model != "fast" {
			t.Errorf("got model %q, want fallback \"fast\"", w.Model)
		}
	}
}

func TestWorkerAcquireReleaseIsExclusive(t *testing.T) {
	w := &Worker{ID: 0, Model: "fast"}
	if !w.tryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if w.tryAcquire() {
		t.Fatal("expected second acquire to fail while busy")
	}
	w.release()
	if !w.tryAcquire() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestAcquireWorkerTimesOutWhenAllBusy(t *testing.T) {
	p := New(1, []string{"fast"}, nil, nil)
	p.workers[0].tryAcquire() // occupy the only worker

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.acquireWorker(ctx)
	if err == nil {
		t.Fatal("expected acquireWorker to fail when context expires before a worker frees up")
	}
}

func TestSubmitParallelPreservesInputOrder(t *testing.T) {
	p := New(3, []string{"fast"}, fakeChatter{}, nil)
	tasks := []types.WorkerTask{
		{ID: "a", Kind: types.TaskGeneral, Prompt: "x"},
		{ID: "b", Kind: types.TaskGeneral, Prompt: "y"},
		{ID: "c", Kind: types.TaskGeneral, Prompt: "z"},
	}
	results := p.SubmitParallel(context.Background(), tasks)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].TaskID != want {
			t.Errorf("result %d: got task id %q, want %q (order not preserved)", i, results[i].TaskID, want)
		}
	}
}

func TestSweepReplacesFiredWorkerModel(t *testing.T) {
	reg := metrics.New("", metrics.DefaultThresholds(), nil)
	for i := 0; i < 10; i++ {
		reg.Record("slow", false, time.Millisecond, nil)
	}
	quality := 9.0
	for i := 0; i < 20; i++ {
		reg.Record("fast", true, time.Millisecond, &quality)
	}

	p := New(2, []string{"slow", "slow"}, nil, reg)
	if !p.Sweep() {
		t.Fatal("expected sweep to replace the fired model's workers")
	}
	for _, w := range p.workers {
		if w.Model != "fast" {
			t.Errorf("expected worker rebound to \"fast\", got %q", w.Model)
		}
	}
}

func TestSweepIsNoopWithoutRegistry(t *testing.T) {
	p := New(1, []string{"fast"}, nil, nil)
	if p.Sweep() {
		t.Fatal("expected sweep to be a no-op with no metrics registry")
	}
}

func TestSubmitRoutesTaskSearchThroughSearcherNotChatter(t *testing.T) {
	p := New(1, []string{"fast"}, fakeChatter{}, nil)
	p.SetSearcher(fakeSearcher{text: "search result text"})

	result := p.Submit(context.Background(), types.WorkerTask{ID: "s1", Kind: types.TaskSearch, Prompt: "hyprland config"})
	if !result.Success || result.Text != "search result text" {
		t.Fatalf("expected the searcher's text to come back verbatim, got %+v", result)
	}
}

func TestSubmitTaskSearchWithoutSearcherFails(t *testing.T) {
	p := New(1, []string{"fast"}, fakeChatter{}, nil)
	result := p.Submit(context.Background(), types.WorkerTask{ID: "s1", Kind: types.TaskSearch, Prompt: "q"})
	if result.Success {
		t.Fatal("expected TaskSearch to fail when no searcher is configured")
	}
}

func TestSubmitNonSearchTaskIgnoresSearcher(t *testing.T) {
	p := New(1, []string{"fast"}, fakeChatter{}, nil)
	p.SetSearcher(fakeSearcher{err: fmt.Errorf("should never be called")})

	result := p.Submit(context.Background(), types.WorkerTask{ID: "g1", Kind: types.TaskGeneral, Prompt: "hello"})
	if !result.Success || result.Text != "ok" {
		t.Fatalf("expected the chatter's response for a non-search task, got %+v", result)
	}
}

func TestSubmitPopulatesNonZeroQualityOnSuccess(t *testing.T) {
	reg := metrics.New("", metrics.DefaultThresholds(), nil)
	p := New(1, []string{"fast"}, fakeChatter{}, reg)

	result := p.Submit(context.Background(), types.WorkerTask{ID: "g1", Kind: types.TaskGeneral, Prompt: "hello"})
	if result.Quality <= 0 {
		t.Errorf("expected a positive quality score on success, got %f", result.Quality)
	}
}

func TestSubmitPopulatesZeroQualityOnFailure(t *testing.T) {
	p := New(1, []string{"fast"}, fakeChatter{}, nil)
	result := p.Submit(context.Background(), types.WorkerTask{ID: "s1", Kind: types.TaskSearch, Prompt: "q"})
	if result.Quality != 0 {
		t.Errorf("expected quality 0 on a failed dispatch, got %f", result.Quality)
	}
}

func TestSubmitRecordsNonNilQualityWithRegistry(t *testing.T) {
	reg := metrics.New("", metrics.DefaultThresholds(), nil)
	p := New(1, []string{"fast"}, fakeChatter{}, reg)

	p.Submit(context.Background(), types.WorkerTask{ID: "g1", Kind: types.TaskGeneral, Prompt: "hello"})
	stats, ok := reg.Get("fast")
	if !ok {
		t.Fatal("expected metrics to be recorded for model \"fast\"")
	}
	if stats.AvgQuality() <= 0 {
		t.Errorf("expected a non-zero rolling avg_quality after a successful dispatch, got %f", stats.AvgQuality())
	}
}
