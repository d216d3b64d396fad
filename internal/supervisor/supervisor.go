// Package supervisor implements the Supervisor: drives a large model to
// produce a structured Plan, and performs rescue after the Operator
// exhausts its retry budget. The brace-balanced JSON extractor and
// canned-fallback-on-parse-failure idiom are carried over directly from
// the teacher's internal/roles/planner/planner.go (dispatchViaLLM's
// fence-stripped parse with fallback to a single run_command step).
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/types"
)

const systemPrompt = `You are the planning supervisor of an agentic orchestrator. Given a user
query and execution context, produce a JSON object with fields:
{"understanding": "...", "complexity": 1-5, "confidence": 0.0-1.0,
 "steps": [{"step_number":1,"action":"...","params":{...},"description":"...",
            "fallback":"...","capture":true}],
 "agent_type": "file|code|web|shell|rag", "model_size": "default|coder|fast|tiny",
 "operator_prompt": "..."}
Steps must be numbered contiguously starting at 1. Respond with JSON only.`

const rescuePrompt = `The operator exhausted its retry budget executing the plan below against
the original query. Decide one action: ADJUST_PLAN (supply a corrected plan),
CHANGE_AGENT (supply a new plan targeting a different agent_type), or TAKEOVER
(answer the query directly in plain text). Respond with JSON:
{"action":"ADJUST_PLAN|CHANGE_AGENT|TAKEOVER","plan":{...}|null,"direct_result":"..."|null}`

// Supervisor drives plan synthesis and rescue.
type Supervisor struct {
	llm *llm.Client
}

// New creates a Supervisor bound to the large-model Inference Client tier.
func New(client *llm.Client) *Supervisor {
	return &Supervisor{llm: client}
}

// Plan requests a structured plan for query under ctx, given the caller's
// Context. On any parse failure it degrades to a canned single-step plan
// with confidence 0.3, per spec.md §4.5 — never an error return, since a
// plan is always needed downstream.
func (s *Supervisor) Plan(ctx context.Context, query string, execCtx types.Context) types.Plan {
	user := buildPlanningPrompt(query, execCtx)
	resp, err := s.llm.Chat(ctx, systemPrompt, user, "default", 0.3, 2000)
	if err != nil {
		return cannedPlan()
	}
	raw := llm.StripFences(resp.Text)
	plan, perr := extractPlan(raw)
	if perr != nil {
		return cannedPlan()
	}
	return plan
}

func buildPlanningPrompt(query string, execCtx types.Context) string {
	var recent []string
	if n := len(execCtx.History); n > 0 {
		start := 0
		if n > 3 {
			start = n - 3
		}
		recent = execCtx.History[start:]
	}
	lastOutput := execCtx.LastOutput
	if len(lastOutput) > 500 {
		lastOutput = lastOutput[:500] + "...(truncated)"
	}
	return fmt.Sprintf(
		"Working directory: %s\nRecent commands: %v\nLast result (truncated): %s\nLanguage: %s\n\nQuery: %s",
		execCtx.WorkingDir, recent, lastOutput, execCtx.Language, query)
}

// RescueAction is the Supervisor's rescue verdict.
type RescueAction string

const (
	ActionAdjustPlan  RescueAction = "ADJUST_PLAN"
	ActionChangeAgent RescueAction = "CHANGE_AGENT"
	ActionTakeover    RescueAction = "TAKEOVER"
)

// RescueResult carries the rescue decision.
type RescueResult struct {
	Action       RescueAction
	Plan         *types.Plan
	DirectResult string
}

// Rescue is invoked after the Operator exhausts retries. An unparsable
// response defaults to TAKEOVER with a generic failure message, per
// spec.md §4.5.
func (s *Supervisor) Rescue(ctx context.Context, query string, failedPlan types.Plan, errs []string) RescueResult {
	failedJSON, _ := json.Marshal(failedPlan)
	user := fmt.Sprintf("Original query: %s\nFailed plan: %s\nErrors: %v", query, string(failedJSON), errs)
	resp, err := s.llm.Chat(ctx, rescuePrompt, user, "default", 0.3, 1500)
	if err != nil {
		return genericTakeover()
	}
	raw := llm.StripFences(resp.Text)

	var payload struct {
		Action       string     `json:"action"`
		Plan         *types.Plan `json:"plan"`
		DirectResult string     `json:"direct_result"`
	}
	jsonStr, err := extractBraceBalanced(raw)
	if err != nil {
		return genericTakeover()
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return genericTakeover()
	}

	switch RescueAction(payload.Action) {
	case ActionAdjustPlan, ActionChangeAgent:
		if payload.Plan == nil {
			return genericTakeover()
		}
		return RescueResult{Action: RescueAction(payload.Action), Plan: payload.Plan}
	case ActionTakeover:
		return RescueResult{Action: ActionTakeover, DirectResult: payload.DirectResult}
	default:
		return genericTakeover()
	}
}

func genericTakeover() RescueResult {
	return RescueResult{Action: ActionTakeover, DirectResult: "I was unable to complete this request after multiple attempts."}
}

// cannedPlan is the fallback plan used when Supervisor output is unparsable.
func cannedPlan() types.Plan {
	return types.Plan{
		Understanding: "unable to parse a structured plan; falling back to a direct command attempt",
		Complexity:    3,
		Confidence:    0.3,
		Steps: []types.PlanStep{
			{StepNumber: 1, Action: "run_command", Params: map[string]any{}, Capture: true, Timeout: 30 * time.Second},
		},
		AgentType:  types.AgentShell,
		ModelSize:  types.ModelDefault,
		MaxRetries: 2,
		Timeout:    60 * time.Second,
	}
}

// extractPlan strips fencing (already done by caller), finds the first
// brace-balanced JSON object, and unmarshals it into a Plan.
func extractPlan(raw string) (types.Plan, error) {
	jsonStr, err := extractBraceBalanced(raw)
	if err != nil {
		return types.Plan{}, err
	}
	var plan types.Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return types.Plan{}, fmt.Errorf("supervisor: unmarshal plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return types.Plan{}, fmt.Errorf("supervisor: plan has no steps")
	}
	return plan, nil
}

// extractBraceBalanced finds the first '{' and its matching '}' by brace
// balance (ignoring braces inside string literals), matching the teacher's
// robust-extractor idiom.
func extractBraceBalanced(s string) (string, error) {
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
			// inside a string literal, ignore braces
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
