// Command orchestrator wires the Complexity Gate, Supervisor, Operator,
// Worker Pool, Council Engine, Metrics Registry, VRAM Guard, Persistent
// Store, Service Registry, Benchmark Runner, RSI Loop, and HTTP/WebSocket
// facade into one process and serves either an interactive REPL or a
// one-shot query, mirroring the teacher's cmd/agsh/main.go bootstrap shape:
// load .env, resolve a cache dir under the user's home, redirect debug logs
// there, build the bus first since every component taps or emits onto it,
// then start persistent goroutines before handling input.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/hcwagner/orchestrator/internal/bench"
	"github.com/hcwagner/orchestrator/internal/bus"
	"github.com/hcwagner/orchestrator/internal/config"
	"github.com/hcwagner/orchestrator/internal/council"
	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/metrics"
	"github.com/hcwagner/orchestrator/internal/operator"
	"github.com/hcwagner/orchestrator/internal/pool"
	"github.com/hcwagner/orchestrator/internal/rag"
	"github.com/hcwagner/orchestrator/internal/registry"
	"github.com/hcwagner/orchestrator/internal/registry/httpapi"
	"github.com/hcwagner/orchestrator/internal/rsi"
	"github.com/hcwagner/orchestrator/internal/search"
	"github.com/hcwagner/orchestrator/internal/store"
	"github.com/hcwagner/orchestrator/internal/supervisor"
	"github.com/hcwagner/orchestrator/internal/taskexec"
	"github.com/hcwagner/orchestrator/internal/tools"
	"github.com/hcwagner/orchestrator/internal/types"
	"github.com/hcwagner/orchestrator/internal/vram"
)

func main() {
	_ = godotenv.Load(".env")

	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".cache", "orchestrator")
	_ = os.MkdirAll(cacheDir, 0o755)

	// Redirect debug logs to file so they don't interfere with the terminal
	// UI. Tail ~/.cache/orchestrator/debug.log to observe internal activity.
	if f, err := os.OpenFile(filepath.Join(cacheDir, "debug.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		log.SetOutput(f)
		slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
		defer f.Close()
	}

	cfg, err := config.Load(os.Getenv("ORCHESTRATOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// The bus is foundational — everything below either emits onto it or
	// taps it.
	b := bus.New()

	// Inference Client tiers — each reads {TIER}_{API_KEY,BASE_URL,MODEL},
	// falling back to the shared VLLM_*/OPENAI_* vars for any unset tier.
	brainClient := llm.NewTier("BRAIN")
	toolClient := llm.NewTier("TOOL")
	brainClient.SetAliases(cfg.ModelAliases)
	toolClient.SetAliases(cfg.ModelAliases)

	st, err := store.Open(filepath.Join(cacheDir, "orchestrator.db"), store.MachineKey())
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}

	metricsReg := metrics.New(filepath.Join(cacheDir, "metrics.json"), metrics.Thresholds{
		FireMinTasks: cfg.Metrics.FireMinTasks, FireSuccessRate: cfg.Metrics.FireSuccessRate, FireAvgQuality: cfg.Metrics.FireAvgQuality,
		PromoteMinTasks: cfg.Metrics.PromoteMinTasks, PromoteSuccessRate: cfg.Metrics.PromoteSuccessRate, PromoteAvgQuality: cfg.Metrics.PromoteAvgQuality,
	}, nil)

	guard := vram.New(vram.SysfsProber{}, cfg.VRAM.SafeCeilingPercent)

	workerPool := pool.New(cfg.Pool.Size, cfg.Pool.Catalogue, toolClient, metricsReg)
	workerPool.SetSearcher(search.New())

	// Built conditionally rather than left as a possibly-nil *sdk.MessageService
	// passed through council.New's interface parameter: a typed-nil pointer
	// boxed into an interface is non-nil, which would defeat the Engine's own
	// "no anthropic client configured" nil check.
	var councilEngine *council.Engine
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		client := sdk.NewClient(option.WithAPIKey(key))
		councilEngine = council.New(cfg.Council.Members, toolClient, &client.Messages)
	} else {
		councilEngine = council.New(cfg.Council.Members, toolClient, nil)
	}

	if err := tools.EnsureWorkspace(); err != nil {
		slog.Warn("failed to create tool workspace directory", "error", err)
	}

	sup := supervisor.New(brainClient)
	op := operator.New(toolClient, b)
	op.Register("find_files", tools.FindFiles)
	op.Register("read_file", tools.ReadFileTool)
	op.Register("write_file", tools.WriteFileTool)
	op.Register("run_shortcut", tools.RunShortcutTool)
	exec := taskexec.New(sup, op, metricsReg)

	reg := registry.New(b)
	benchRunner := bench.New(filepath.Join(cacheDir, "bench_results"), filepath.Join(cacheDir, "fixtures"))

	workingDir, _ := os.Getwd()
	ragIndex := rag.NewIndex(workingDir, nil)

	rsiLoop := newRSILoop(cfg, brainClient, exec, benchRunner, cacheDir)

	httpServer := &http.Server{
		Addr:    envOr("ORCHESTRATOR_HTTP_ADDR", ":8089"),
		Handler: httpapi.New(reg, b, exec).Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := ragIndex.Update(ctx); err != nil {
		slog.Warn("initial rag index build failed", "error", err)
	}

	reg.Register("council", []string{"deliberate"}, "1.0", runnerService(func(rctx context.Context) {
		runCouncilResponder(rctx, b, councilEngine)
	}))
	reg.Register("store", []string{"memories", "preferences", "sessions", "error-patterns"}, "1.0", runnerService(st.Run))
	reg.Register("vram-guard", []string{"vram-admission"}, "1.0", tickerService(func(tctx context.Context) { _ = guard.Refresh(tctx) }, 15*time.Second))
	reg.Register("pool-sweep", []string{"fire-replacement"}, "1.0", tickerService(func(context.Context) { workerPool.Sweep() }, time.Minute))
	reg.Register("http-api", []string{"status", "services", "chat", "events"}, "1.0", httpServiceAdapter{httpServer})
	reg.Register("rsi-loop", []string{"self-improvement"}, "1.0", tickerService(func(tctx context.Context) {
		if _, err := rsiLoop.Iterate(tctx); err != nil {
			slog.Warn("rsi iteration failed", "error", err)
		}
	}, 30*time.Minute))
	reg.Register("rag-index", []string{"search"}, "1.0", tickerService(func(tctx context.Context) {
		if _, err := ragIndex.Update(tctx); err != nil {
			slog.Warn("rag index update failed", "error", err)
		}
	}, 5*time.Minute))
	reg.Register("rag", []string{"search"}, "1.0", runnerService(func(rctx context.Context) {
		runRagResponder(rctx, b, ragIndex)
	}))

	for _, name := range []string{"council", "store", "vram-guard", "pool-sweep", "http-api", "rsi-loop", "rag-index", "rag"} {
		if err := reg.Start(ctx, name); err != nil {
			slog.Error("failed to start service", "service", name, "error", err)
		}
	}
	go reg.RunHealthMonitor(ctx, 10*time.Second)

	if len(os.Args) > 1 && os.Args[1] != "" {
		query := strings.Join(os.Args[1:], " ")
		result := exec.Handle(ctx, query, types.Context{SessionID: "one-shot"})
		fmt.Println(result.Output)
		cancel()
		time.Sleep(200 * time.Millisecond)
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	runREPL(ctx, cancel, exec, cacheDir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runnerService adapts a blocking run(ctx) function (the shape store.Run and
// similar long-lived loops take) into a registry.Service.
type runnerService func(ctx context.Context)

func (r runnerService) Start(ctx context.Context) error {
	go r(ctx)
	return nil
}
func (runnerService) Stop(ctx context.Context) error { return nil }

type tickerServiceImpl struct {
	tick     func(ctx context.Context)
	interval time.Duration
	cancel   context.CancelFunc
}

// tickerService builds a registry.Service that calls tick once per interval
// until stopped.
func tickerService(tick func(ctx context.Context), interval time.Duration) *tickerServiceImpl {
	return &tickerServiceImpl{tick: tick, interval: interval}
}

func (t *tickerServiceImpl) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
				t.tick(rctx)
			}
		}
	}()
	return nil
}

func (t *tickerServiceImpl) Stop(context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

type httpServiceAdapter struct {
	srv *http.Server
}

func (h httpServiceAdapter) Start(ctx context.Context) error {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http-api server error", "error", err)
		}
	}()
	return nil
}

func (h httpServiceAdapter) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// runCouncilResponder answers bus requests targeting "council" by running a
// deliberation round, the same request/respond bridge pattern bus_test.go's
// TestRequestRespondRoundTrip demonstrates — the query text travels as the
// request's Data, the CouncilResult travels back as the response's Data, so
// the HTTP facade's generic /services/{name}/call endpoint reaches the
// Council Engine with no facade-side change.
func runCouncilResponder(ctx context.Context, b *bus.Bus, engine *council.Engine) {
	requests := b.Subscribe("council", string(bus.EventRequest))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-requests:
			if !ok {
				return
			}
			payload, ok := ev.Data.(struct {
				RequestID string
				Data      any
			})
			if !ok {
				continue
			}
			query, _ := payload.Data.(string)
			go func(requestID, query string) {
				result := engine.Deliberate(ctx, query)
				b.Respond("council", requestID, result)
			}(payload.RequestID, query)
		}
	}
}

// ragSearchRequest is the payload a "rag" bus request carries: a query
// string and a result-count limit.
type ragSearchRequest struct {
	Query string
	Limit int
}

// runRagResponder answers bus requests targeting "rag" by searching the
// Code Index, the same request/respond bridge pattern as runCouncilResponder.
func runRagResponder(ctx context.Context, b *bus.Bus, idx *rag.Index) {
	requests := b.Subscribe("rag", string(bus.EventRequest))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-requests:
			if !ok {
				return
			}
			payload, ok := ev.Data.(struct {
				RequestID string
				Data      any
			})
			if !ok {
				continue
			}
			req, ok := payload.Data.(ragSearchRequest)
			if !ok {
				// JSON-decoded data from the HTTP facade arrives as a map;
				// re-decode it into the request shape by field name.
				if raw, err := json.Marshal(payload.Data); err == nil {
					_ = json.Unmarshal(raw, &req)
				}
			}
			if req.Limit <= 0 {
				req.Limit = 5
			}
			go func(requestID string, req ragSearchRequest) {
				results := idx.Search(ctx, req.Query, req.Limit)
				b.Respond("rag", requestID, results)
			}(payload.RequestID, req)
		}
	}
}

// coreBenchmarkProblems dogfoods the Task Executor itself: small prompts
// whose expected substrings exercise the trivial/simple paths, giving the
// RSI Loop a cheap benchmark to iterate against without any network fixture.
func coreBenchmarkProblems() []types.BenchmarkProblem {
	return []types.BenchmarkProblem{
		{ID: "quit-ack", Statement: "quit", ExpectedOutput: "goodbye", Validation: "literal_contains"},
		{ID: "time-ack", Statement: "what time is it", ExpectedOutput: ":", Validation: "literal_contains"},
	}
}

// newRSILoop wires the RSI Loop's benchmark function to the Task Executor
// via the Benchmark Runner, and its hypothesis generator to the brain-tier
// Inference Client using the same brace-balanced JSON extraction idiom as
// the Supervisor.
func newRSILoop(cfg config.Config, brain *llm.Client, exec *taskexec.Executor, runner *bench.Runner, cacheDir string) *rsi.Loop {
	problems := coreBenchmarkProblems()

	benchFn := func(ctx context.Context, name string) (float64, error) {
		run, err := runner.Run(ctx, name, problems, func(ctx context.Context, p types.BenchmarkProblem) (string, int, error) {
			result := exec.Handle(ctx, p.Statement, types.Context{SessionID: "rsi-bench"})
			return result.Output, 0, nil
		})
		if err != nil {
			return 0, err
		}
		return run.AverageScore, nil
	}

	generate := func(ctx context.Context, analysis rsi.Analysis) (*types.ImprovementHypothesis, error) {
		if len(analysis.WeakBenchmarks) == 0 {
			return nil, nil
		}
		system := `You identify one concrete source change that would improve a weak benchmark
score in a Go service. Respond with JSON only:
{"id":"...","target_benchmark":"...","expected_improvement":0.0,"description":"...",
 "rationale":"...","changes":{}}
Leave "changes" empty unless you can name an exact file path and literal text to replace —
an empty "changes" object means "no actionable change found".`
		user := fmt.Sprintf("Weak benchmarks: %v\nScores: %v", analysis.WeakBenchmarks, analysis.Scores)
		resp, err := brain.Chat(ctx, system, user, "default", 0.4, 800)
		if err != nil {
			return nil, fmt.Errorf("rsi: hypothesis generation: %w", err)
		}
		raw := llm.StripFences(resp.Text)
		jsonStr, err := extractJSONObject(raw)
		if err != nil {
			return nil, nil // no usable hypothesis this round, not a hard failure
		}
		var hyp types.ImprovementHypothesis
		if err := json.Unmarshal([]byte(jsonStr), &hyp); err != nil {
			return nil, nil
		}
		if len(hyp.Changes) == 0 {
			return nil, nil
		}
		return &hyp, nil
	}

	return rsi.New(rsi.Config{
		Benchmarks:     []string{"core"},
		MinImprovement: cfg.RSI.MinImprovement,
		MaxRegression:  cfg.RSI.MaxRegression,
	}, benchFn, generate, filepath.Join(cacheDir, "rsi_sandbox"), filepath.Join(cacheDir, "rsi_iterations"))
}

// extractJSONObject finds the first brace-balanced JSON object in s,
// matching the Supervisor's robust-extraction idiom for LLM output that may
// carry surrounding prose despite the system prompt's "JSON only" request.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", fmt.Errorf("no opening brace found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no matching closing brace found")
}

// runREPL drives an interactive session using a readline-backed prompt,
// mirroring the teacher's runREPL: Ctrl+C at the prompt, "exit"/"quit" or
// Ctrl-D ends the session. Queries run synchronously between prompts, and
// SIGINT is not intercepted while one runs, so Ctrl+C does not abort just
// the in-flight query.
func runREPL(ctx context.Context, cancel context.CancelFunc, exec *taskexec.Executor, cacheDir string) {
	fmt.Println("\033[1m\033[36morchestrator\033[0m — agentic local-inference shell  \033[2m(exit/Ctrl-D to quit | debug: ~/.cache/orchestrator/debug.log)\033[0m")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[36m>\033[0m ",
		HistoryFile:       filepath.Join(cacheDir, "history"),
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline init error: %v\n", err)
		cancel()
		return
	}
	defer rl.Close()

	var taskMu sync.Mutex
	var taskCancel context.CancelFunc

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			taskMu.Lock()
			tc := taskCancel
			taskMu.Unlock()
			if tc != nil {
				tc()
				continue
			}
			break
		}
		if err != nil { // io.EOF
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}

		taskCtx, tc := context.WithCancel(ctx)
		taskMu.Lock()
		taskCancel = tc
		taskMu.Unlock()

		result := exec.Handle(taskCtx, line, types.Context{SessionID: "repl"})
		tc()
		taskMu.Lock()
		taskCancel = nil
		taskMu.Unlock()

		if result.Success {
			fmt.Println(result.Output)
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", result.Output)
		}
	}

	cancel()
	time.Sleep(200 * time.Millisecond)
}
