package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/types"
)

func newTestServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, content string) *llm.Client {
	srv := newTestServer(t, content)
	t.Setenv("VLLM_BASE_URL", srv.URL)
	t.Setenv("VLLM_DEFAULT_MODEL", "test-model")
	return llm.New()
}

func TestPlanParsesWellFormedJSON(t *testing.T) {
	content := "```json\n" + `{"understanding":"find a file","complexity":2,"confidence":0.8,
"steps":[{"step_number":1,"action":"find_files","params":{"pattern":"foo.py"}}],
"agent_type":"file","model_size":"fast","operator_prompt":"locate foo.py"}` + "\n```"
	s := New(newTestClient(t, content))
	plan := s.Plan(context.Background(), "find foo.py", types.Context{WorkingDir: "/tmp"})

	if plan.Understanding != "find a file" {
		t.Errorf("understanding = %q", plan.Understanding)
	}
	if plan.Complexity != 2 || plan.Confidence != 0.8 {
		t.Errorf("unexpected complexity/confidence: %+v", plan)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != "find_files" {
		t.Fatalf("unexpected steps: %+v", plan.Steps)
	}
	if plan.AgentType != types.AgentFile {
		t.Errorf("agent_type = %q", plan.AgentType)
	}
}

func TestPlanDegradesToCannedOnUnparsableJSON(t *testing.T) {
	s := New(newTestClient(t, "not json at all, sorry"))
	plan := s.Plan(context.Background(), "do something", types.Context{})

	if plan.Confidence != 0.3 {
		t.Errorf("expected canned-plan confidence 0.3, got %v", plan.Confidence)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != "run_command" {
		t.Fatalf("expected canned single run_command step, got %+v", plan.Steps)
	}
}

func TestPlanDegradesToCannedOnEmptySteps(t *testing.T) {
	s := New(newTestClient(t, `{"understanding":"x","complexity":1,"confidence":0.9,"steps":[]}`))
	plan := s.Plan(context.Background(), "do something", types.Context{})

	if plan.Confidence != 0.3 {
		t.Errorf("expected canned plan for empty steps, got %+v", plan)
	}
}

func TestRescueAdjustPlan(t *testing.T) {
	content := `{"action":"ADJUST_PLAN","plan":{"understanding":"retry","complexity":2,"confidence":0.5,
"steps":[{"step_number":1,"action":"run_command","params":{"cmd":"ls"}}]}}`
	s := New(newTestClient(t, content))
	failed := types.Plan{Steps: []types.PlanStep{{StepNumber: 1, Action: "run_command"}}}
	result := s.Rescue(context.Background(), "query", failed, []string{"boom"})

	if result.Action != ActionAdjustPlan {
		t.Fatalf("expected ADJUST_PLAN, got %v", result.Action)
	}
	if result.Plan == nil || len(result.Plan.Steps) != 1 {
		t.Fatalf("expected a replacement plan, got %+v", result.Plan)
	}
}

func TestRescueTakeover(t *testing.T) {
	content := `{"action":"TAKEOVER","plan":null,"direct_result":"here is your answer"}`
	s := New(newTestClient(t, content))
	result := s.Rescue(context.Background(), "query", types.Plan{}, []string{"err"})

	if result.Action != ActionTakeover || result.DirectResult != "here is your answer" {
		t.Fatalf("unexpected rescue result: %+v", result)
	}
}

func TestRescueDefaultsToGenericTakeoverOnUnparsable(t *testing.T) {
	s := New(newTestClient(t, "garbage response"))
	result := s.Rescue(context.Background(), "query", types.Plan{}, []string{"err"})

	if result.Action != ActionTakeover {
		t.Fatalf("expected default TAKEOVER, got %v", result.Action)
	}
	if result.DirectResult == "" {
		t.Errorf("expected a generic failure message")
	}
}

func TestRescueAdjustPlanWithNilPlanFallsBackToTakeover(t *testing.T) {
	content := `{"action":"ADJUST_PLAN","plan":null}`
	s := New(newTestClient(t, content))
	result := s.Rescue(context.Background(), "query", types.Plan{}, nil)

	if result.Action != ActionTakeover {
		t.Fatalf("expected fallback TAKEOVER when plan is nil, got %v", result.Action)
	}
}

func TestExtractBraceBalancedIgnoresBracesInStrings(t *testing.T) {
	in := `prefix {"a": "{not a brace}", "b": 1} suffix`
	got, err := extractBraceBalanced(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"a": "{not a brace}", "b": 1}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBraceBalancedNoOpeningBrace(t *testing.T) {
	if _, err := extractBraceBalanced("no braces here"); err == nil {
		t.Error("expected error for input with no opening brace")
	}
}
