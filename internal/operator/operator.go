// Package operator implements the Operator: it executes a Supervisor-built
// Plan step by step, retrying and falling back per spec.md §4.6. The
// tool-call/shell-fallback dispatch and truncated-output logging idiom are
// carried over from the teacher's internal/roles/executor/executor.go
// (runTool's switch-on-tool-name and headTail truncation); the simple-task
// single-LLM-call tool selection is grounded on the same file's tool-call
// parsing loop, collapsed to one iteration. Each action identifier is
// wrapped in its own sony/gobreaker circuit breaker so a tool that is
// failing repeatedly trips open instead of being retried into the ground.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hcwagner/orchestrator/internal/bus"
	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/types"
)

// Tool is a named action the Operator can dispatch a PlanStep to.
type Tool func(ctx context.Context, params map[string]any) (string, error)

// Operator executes Plans against a registry of Tools, publishing status
// events to the bus as it goes.
type Operator struct {
	llm   *llm.Client
	b     *bus.Bus
	tools map[string]Tool

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates an Operator with the built-in tool registry (shell is always
// present as the catch-all fallback).
func New(client *llm.Client, b *bus.Bus) *Operator {
	o := &Operator{
		llm:      client,
		b:        b,
		tools:    map[string]Tool{},
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
	o.Register("run_command", shellTool)
	o.Register("shell", shellTool)
	return o
}

// Register installs or replaces a named tool.
func (o *Operator) Register(name string, t Tool) {
	o.tools[name] = t
}

func shellTool(ctx context.Context, params map[string]any) (string, error) {
	cmdStr, _ := params["command"].(string)
	if cmdStr == "" {
		return "", fmt.Errorf("operator: shell tool requires a \"command\" param")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (o *Operator) breakerFor(action string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[action]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "operator:" + action,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	o.breakers[action] = cb
	return cb
}

func (o *Operator) dispatch(ctx context.Context, action string, params map[string]any) (string, error) {
	tool, ok := o.tools[action]
	if !ok {
		tool = shellTool
		if params == nil {
			params = map[string]any{}
		}
		if _, has := params["command"]; !has {
			params["command"] = action
		}
	}
	cb := o.breakerFor(action)
	result, err := cb.Execute(func() (interface{}, error) {
		return tool(ctx, params)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// RunPlan loops the entire step sequence up to plan.MaxRetries+1 times,
// per spec.md §4.6: within a pass, steps run in order; a failing step
// immediately retries once via step.Fallback (same params) if one is
// declared, and if that also fails the whole pass is abandoned — the
// remaining steps in that pass do not run — consuming one retry. The
// outer loop exits as soon as a full pass succeeds. Reported fields
// (Success, StepsCompleted, Output, Errors) reflect only the last pass
// attempted ("last pass" semantics, per spec.md §9's open question),
// not an accumulation across passes.
func (o *Operator) RunPlan(ctx context.Context, plan types.Plan) types.TaskResult {
	start := time.Now()
	result := types.TaskResult{PlanUsed: &plan, OperatorCalls: 1}

	passes := plan.MaxRetries + 1
	if passes < 1 {
		passes = 1
	}

	for pass := 0; pass < passes; pass++ {
		var outputs []string
		var errs []string
		completed := 0
		passOK := true

		for _, step := range plan.Steps {
			o.emit("step.start", step)
			sr := o.runStep(ctx, step)
			if sr.Success {
				outputs = append(outputs, sr.Output)
				completed++
				o.emit("step.success", sr)
				continue
			}
			errs = append(errs, fmt.Sprintf("step %d: %s", step.StepNumber, sr.Error))
			o.emit("step.failure", sr)
			passOK = false
			break // abandon the rest of this pass; the fallback already ran inside runStep
		}

		result.StepsCompleted = completed
		result.Output = strings.Join(outputs, "\n")
		result.Errors = errs
		result.Success = passOK

		if passOK {
			break
		}
		if pass < passes-1 {
			o.emit("plan.retrying", map[string]any{"pass": pass + 1, "errors": errs})
		}
	}

	result.Duration = time.Since(start)
	return result
}

// runStep executes step.Action exactly once; on failure, and only if
// step.Fallback is set, it retries exactly once with the fallback action
// under the same params. Per-pass retry of the whole sequence is RunPlan's
// responsibility, not runStep's.
func (o *Operator) runStep(ctx context.Context, step types.PlanStep) types.StepResult {
	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := o.dispatch(stepCtx, step.Action, step.Params)
	if err == nil {
		return types.StepResult{StepNumber: step.StepNumber, Success: true, Output: out, Duration: time.Since(start)}
	}
	log.Printf("[operator] step %d action=%s failed: %v", step.StepNumber, step.Action, err)

	if step.Fallback != "" {
		out, ferr := o.dispatch(stepCtx, step.Fallback, step.Params)
		if ferr == nil {
			return types.StepResult{StepNumber: step.StepNumber, Success: true, Output: out, Duration: time.Since(start)}
		}
		log.Printf("[operator] step %d fallback=%s failed: %v", step.StepNumber, step.Fallback, ferr)
		err = ferr
	}

	return types.StepResult{StepNumber: step.StepNumber, Success: false, Error: err.Error(), Duration: time.Since(start)}
}

const simpleToolPrompt = `Choose exactly one tool to satisfy the request and respond with JSON only:
{"tool":"<name>","params":{...}}
Available tools: %s`

// RunSimple handles the "simple" complexity path: one LLM call selects a
// tool and parameters, which are executed directly without a full Plan.
func (o *Operator) RunSimple(ctx context.Context, query string, agent types.AgentKind) types.TaskResult {
	start := time.Now()
	if o.llm == nil {
		return types.TaskResult{Success: false, Errors: []string{"operator: no inference client configured"}, Duration: time.Since(start), OperatorCalls: 1}
	}
	var names []string
	for name := range o.tools {
		names = append(names, name)
	}
	system := fmt.Sprintf(simpleToolPrompt, strings.Join(names, ", "))

	resp, err := o.llm.Chat(ctx, system, query, "fast", 0.2, 500)
	if err != nil {
		return types.TaskResult{Success: false, Errors: []string{err.Error()}, Duration: time.Since(start), OperatorCalls: 1}
	}

	var choice struct {
		Tool   string         `json:"tool"`
		Params map[string]any `json:"params"`
	}
	raw := llm.StripFences(resp.Text)
	if err := json.Unmarshal([]byte(raw), &choice); err != nil || choice.Tool == "" {
		return types.TaskResult{Success: false, Errors: []string{"operator: could not parse tool selection"}, Duration: time.Since(start), OperatorCalls: 1}
	}
	// normalize common param-name variants the model tends to emit
	normalizeParams(choice.Params)

	out, derr := o.dispatch(ctx, choice.Tool, choice.Params)
	if derr != nil {
		return types.TaskResult{Success: false, Errors: []string{derr.Error()}, Duration: time.Since(start), OperatorCalls: 1}
	}
	return types.TaskResult{Success: true, Output: out, StepsCompleted: 1, Duration: time.Since(start), OperatorCalls: 1}
}

// normalizeParams folds common synonym param names ("cmd" -> "command",
// "path" variants) into the registry's canonical keys.
func normalizeParams(params map[string]any) {
	synonyms := map[string]string{"cmd": "command", "shell_command": "command", "filepath": "path", "file_path": "path"}
	for from, to := range synonyms {
		if v, ok := params[from]; ok {
			if _, exists := params[to]; !exists {
				params[to] = v
			}
			delete(params, from)
		}
	}
}

func (o *Operator) emit(event string, data any) {
	if o.b == nil {
		return
	}
	o.b.Emit("operator."+event, bus.EventSystem, data)
}
