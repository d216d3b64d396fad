// Package taskexec implements the Task Executor: the top-level per-request
// router that sends a query through the Complexity Gate and then down one
// of three paths — a direct trivial handler, a single Operator call for
// simple requests, or a full Supervisor-plan-then-Operator run (with at
// most one rescue pass) for moderate/complex requests. The three-tier
// routing and per-request statistics accumulation are grounded on the
// teacher's cmd/agsh/main.go top-level request loop, which dispatches
// similarly by a classification result before handing off to role
// goroutines.
package taskexec

import (
	"context"
	"strings"
	"time"

	"github.com/hcwagner/orchestrator/internal/gate"
	"github.com/hcwagner/orchestrator/internal/metrics"
	"github.com/hcwagner/orchestrator/internal/operator"
	"github.com/hcwagner/orchestrator/internal/supervisor"
	"github.com/hcwagner/orchestrator/internal/types"
)

// Stats accumulates outcome counts across the Executor's lifetime.
type Stats struct {
	TrivialHandled int
	SimpleHandled  int
	PlannedHandled int
	Rescued        int
	Failures       int
}

// Executor wires the Gate, Supervisor, and Operator into one entry point.
type Executor struct {
	sup *supervisor.Supervisor
	op  *operator.Operator
	reg *metrics.Registry

	stats Stats
}

// New creates an Executor.
func New(sup *supervisor.Supervisor, op *operator.Operator, reg *metrics.Registry) *Executor {
	return &Executor{sup: sup, op: op, reg: reg}
}

// Stats returns a copy of the Executor's accumulated statistics.
func (e *Executor) Stats() Stats { return e.stats }

// Handle routes query through the gate and executes it, producing a
// TaskResult. The Supervisor is invoked at most twice: once for the initial
// plan and once more during rescue, per spec.md §4.7.
func (e *Executor) Handle(ctx context.Context, query string, execCtx types.Context) types.TaskResult {
	decision := gate.Classify(query)

	switch decision.Complexity {
	case types.Trivial:
		return e.handleTrivial(query, decision)
	case types.Simple:
		return e.handleSimple(ctx, query, decision)
	default:
		return e.handlePlanned(ctx, query, execCtx)
	}
}

func (e *Executor) handleTrivial(query string, decision gate.Decision) types.TaskResult {
	e.stats.TrivialHandled++
	start := time.Now()
	switch {
	case strings.EqualFold(strings.TrimSpace(query), "quit"), strings.EqualFold(strings.TrimSpace(query), "exit"):
		return types.TaskResult{Success: true, Output: "goodbye", Duration: time.Since(start)}
	case strings.Contains(strings.ToLower(query), "what time is it"):
		return types.TaskResult{Success: true, Output: time.Now().Format("2006-01-02 15:04:05"), Duration: time.Since(start)}
	default:
		return types.TaskResult{Success: true, Output: "acknowledged", Duration: time.Since(start)}
	}
}

func (e *Executor) handleSimple(ctx context.Context, query string, decision gate.Decision) types.TaskResult {
	e.stats.SimpleHandled++
	result := e.op.RunSimple(ctx, query, decision.Agent)
	if !result.Success {
		e.stats.Failures++
	}
	return result
}

func (e *Executor) handlePlanned(ctx context.Context, query string, execCtx types.Context) types.TaskResult {
	e.stats.PlannedHandled++

	plan := e.sup.Plan(ctx, query, execCtx)
	result := e.op.RunPlan(ctx, plan)
	result.SupervisorCalls = 1

	if result.Success {
		return result
	}

	e.stats.Rescued++
	rescue := e.sup.Rescue(ctx, query, plan, result.Errors)
	result.SupervisorCalls = 2

	switch rescue.Action {
	case supervisor.ActionTakeover:
		result.Success = true
		result.Output = rescue.DirectResult
		return result
	case supervisor.ActionAdjustPlan, supervisor.ActionChangeAgent:
		if rescue.Plan == nil {
			e.stats.Failures++
			return result
		}
		retried := e.op.RunPlan(ctx, *rescue.Plan)
		retried.SupervisorCalls = 2
		retried.Errors = append(result.Errors, retried.Errors...)
		if !retried.Success {
			e.stats.Failures++
		}
		return retried
	default:
		e.stats.Failures++
		return result
	}
}
