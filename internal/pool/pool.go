// Package pool implements the Worker Pool: a fixed-size fleet of Workers,
// each bound to a model identity drawn round-robin from a small-model
// catalogue, dispatching typed WorkerTasks. The availability-wait poll loop
// and parallel dispatch are grounded on the teacher's cmd/agsh/main.go
// runSubtaskDispatcher, generalized from a single dispatcher goroutine to a
// fixed worker slice; submit_parallel's ordered fan-out uses
// golang.org/x/sync/errgroup, matching the rest of the retrieval pack's
// concurrent-fan-out idiom.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/metrics"
	"github.com/hcwagner/orchestrator/internal/types"
)

const (
	availabilityPoll    = 100 * time.Millisecond
	availabilityTimeout = 10 * time.Second
)

// Worker is one small-model task executor bound to a model alias, which
// Sweep may rebind to a better-performing model.
type Worker struct {
	ID    int
	Model string

	mu   sync.Mutex
	busy bool
}

func (w *Worker) tryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return false
	}
	w.busy = true
	return true
}

func (w *Worker) release() {
	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
}

// chatter is the subset of *llm.Client the pool depends on, narrowed to an
// interface so tests can inject a fake rather than hit a network client.
type chatter interface {
	Chat(ctx context.Context, system, user, modelAlias string, temperature float64, maxTokens int) (llm.Response, error)
}

// searcher is the meta-search external call a Worker makes for TaskSearch
// tasks, narrowed to an interface (internal/search.Client satisfies it) so
// tests can inject a fake rather than hit a network endpoint.
type searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Pool is the fixed-size Worker fleet, per spec.md §4.8.
type Pool struct {
	workers []*Worker
	client  chatter
	search  searcher
	reg     *metrics.Registry
}

// SetSearcher installs the meta-search client TaskSearch tasks dispatch
// through. Without one, TaskSearch tasks fail with a descriptive error
// rather than silently falling back to an LLM chat call.
func (p *Pool) SetSearcher(s searcher) {
	p.search = s
}

// New builds a Pool of size workers, assigning catalogue entries round-robin
// as each Worker's bound model. An empty catalogue falls back to "fast".
func New(size int, catalogue []string, client chatter, reg *metrics.Registry) *Pool {
	if len(catalogue) == 0 {
		catalogue = []string{"fast"}
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = &Worker{ID: i, Model: catalogue[i%len(catalogue)]}
	}
	return &Pool{workers: workers, client: client, reg: reg}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// acquireWorker polls every availabilityPoll for up to availabilityTimeout
// looking for an idle Worker, per spec.md §4.8.
func (p *Pool) acquireWorker(ctx context.Context) (*Worker, error) {
	deadline := time.Now().Add(availabilityTimeout)
	ticker := time.NewTicker(availabilityPoll)
	defer ticker.Stop()

	for _, w := range p.workers {
		if w.tryAcquire() {
			return w, nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			for _, w := range p.workers {
				if w.tryAcquire() {
					return w, nil
				}
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("pool: no workers available after %s", availabilityTimeout)
			}
		}
	}
}

// Submit dispatches a single WorkerTask to the first available Worker.
func (p *Pool) Submit(ctx context.Context, task types.WorkerTask) types.WorkerResult {
	w, err := p.acquireWorker(ctx)
	if err != nil {
		return types.WorkerResult{TaskID: task.ID, Success: false, Error: err.Error()}
	}
	defer w.release()
	return p.run(ctx, w, task)
}

func (p *Pool) run(ctx context.Context, w *Worker, task types.WorkerTask) types.WorkerResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	start := time.Now()
	var result types.WorkerResult
	if task.Kind == types.TaskSearch {
		result = p.runSearch(runCtx, w, task)
	} else {
		result = p.runChat(runCtx, w, task)
	}
	result.Latency = time.Since(start)

	quality := scoreQuality(result.Success, result.Text, result.Latency)
	result.Quality = quality
	if p.reg != nil {
		p.reg.Record(w.Model, result.Success, result.Latency, &quality)
	}
	return result
}

// runChat dispatches task as a chat call against the Inference Client, per
// spec.md §4.8's "chat against the Inference Client" external call.
func (p *Pool) runChat(ctx context.Context, w *Worker, task types.WorkerTask) types.WorkerResult {
	result := types.WorkerResult{TaskID: task.ID, Model: w.Model}
	system := systemPromptFor(task.Kind)
	resp, err := p.client.Chat(ctx, system, task.Prompt, w.Model, 0.2, 1024)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Text = llm.StripFences(llm.StripThinkBlocks(resp.Text))
	return result
}

// runSearch dispatches task as a meta-search query, per spec.md §4.8's
// "search against a meta-search endpoint" external call — a Worker running
// a search task never touches the Inference Client.
func (p *Pool) runSearch(ctx context.Context, w *Worker, task types.WorkerTask) types.WorkerResult {
	result := types.WorkerResult{TaskID: task.ID, Model: w.Model}
	if p.search == nil {
		result.Success = false
		result.Error = "pool: no meta-search client configured"
		return result
	}
	text, err := p.search.Search(ctx, task.Prompt)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Text = text
	return result
}

// scoreQuality grades a completed dispatch on a 0-10 scale, matching the
// scale ModelStats.Composite's avg_quality input expects. Grounded on
// original_source/core/search_agents.py's _rate_agents heuristic (base
// score + a speed bonus + a non-empty-content bonus), rescaled from that
// file's 0-1 range to 0-10. A failed dispatch scores 0, so it still drags
// the rolling average down rather than being silently omitted.
func scoreQuality(success bool, text string, latency time.Duration) float64 {
	if !success {
		return 0
	}
	score := 5.0
	speedFactor := 1 - float64(latency.Milliseconds())/5000
	if speedFactor < 0 {
		speedFactor = 0
	}
	if speedFactor > 1 {
		speedFactor = 1
	}
	score += 3.0 * speedFactor
	if strings.TrimSpace(text) != "" {
		score += 2.0
	}
	if score > 10 {
		score = 10
	}
	return score
}

func systemPromptFor(kind types.WorkerTaskKind) string {
	switch kind {
	case types.TaskSearch:
		return "You are a focused search worker. Return only the most relevant findings, concisely."
	case types.TaskSummarize:
		return "You are a summarization worker. Produce a concise, faithful summary."
	case types.TaskExtract:
		return "You are an extraction worker. Return only the requested structured data."
	case types.TaskValidate:
		return "You are a validation worker. State PASS or FAIL and a one-line reason."
	default:
		return "You are a general-purpose task worker. Be concise and precise."
	}
}

// SubmitParallel dispatches tasks concurrently, preserving input order in
// the returned slice regardless of completion order.
func (p *Pool) SubmitParallel(ctx context.Context, tasks []types.WorkerTask) []types.WorkerResult {
	results := make([]types.WorkerResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = p.Submit(gctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Sweep replaces every idle Worker bound to the Metrics Registry's worst
// performing fired model with the current top composite-score model, per
// spec.md §4.8/§4.10's fire-replacement rule. It reports whether any
// Worker was reassigned. A Worker mid-task is left alone and stays bound
// to the fired model until a later Sweep finds it idle.
func (p *Pool) Sweep() bool {
	if p.reg == nil {
		return false
	}
	worstName, worst, found := p.reg.WorstPerformer()
	if !found || !worst.Fired {
		return false
	}
	best := p.reg.GetBestModels(1, true)
	if len(best) == 0 || best[0] == worstName {
		return false
	}

	replaced := false
	for _, w := range p.workers {
		w.mu.Lock()
		if !w.busy && w.Model == worstName {
			w.Model = best[0]
			replaced = true
		}
		w.mu.Unlock()
	}
	return replaced
}

// ParallelSearch synthesizes one search WorkerTask per query variant and
// dispatches them concurrently.
func (p *Pool) ParallelSearch(ctx context.Context, variants []string, idPrefix string) []types.WorkerResult {
	tasks := make([]types.WorkerTask, len(variants))
	for i, v := range variants {
		tasks[i] = types.WorkerTask{
			ID:      fmt.Sprintf("%s-%d", idPrefix, i),
			Kind:    types.TaskSearch,
			Prompt:  v,
			Timeout: 30 * time.Second,
		}
	}
	return p.SubmitParallel(ctx, tasks)
}
