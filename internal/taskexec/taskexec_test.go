package taskexec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/operator"
	"github.com/hcwagner/orchestrator/internal/supervisor"
	"github.com/hcwagner/orchestrator/internal/types"
)

// sequencedLLMClient returns an *llm.Client whose Chat responses are drawn
// from contents in order, one per call, so a single Supervisor can exercise
// a Plan call followed by a Rescue call with distinct canned outputs.
func sequencedLLMClient(t *testing.T, contents ...string) *llm.Client {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&calls, 1) - 1
		content := contents[len(contents)-1]
		if int(i) < len(contents) {
			content = contents[i]
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("VLLM_BASE_URL", srv.URL)
	t.Setenv("VLLM_DEFAULT_MODEL", "test-model")
	return llm.New()
}

func TestHandleTrivialQuitReturnsDirectly(t *testing.T) {
	e := New(nil, operator.New(nil, nil), nil)
	result := e.Handle(context.Background(), "quit", types.Context{})
	if !result.Success || result.Output != "goodbye" {
		t.Fatalf("expected trivial quit handling, got %+v", result)
	}
	if e.Stats().TrivialHandled != 1 {
		t.Errorf("expected TrivialHandled=1, got %d", e.Stats().TrivialHandled)
	}
}

func TestHandleSimpleRoutesToOperator(t *testing.T) {
	op := operator.New(nil, nil)
	e := New(nil, op, nil)
	// "git status" matches the gate's simple rule set and routes to the
	// Operator's single-call path; with no LLM client wired RunSimple fails
	// before any Chat call, which is itself a valid exercised path.
	result := e.Handle(context.Background(), "git status", types.Context{})
	if e.Stats().SimpleHandled != 1 {
		t.Errorf("expected SimpleHandled=1, got %d", e.Stats().SimpleHandled)
	}
	if result.Success {
		t.Fatal("expected failure with a nil LLM client")
	}
}

func TestHandlePlannedSucceedsOnFirstPass(t *testing.T) {
	planJSON := `{"understanding":"locate a file","complexity":3,"confidence":0.7,
"steps":[{"step_number":1,"action":"noop","params":{}}]}`
	client := sequencedLLMClient(t, planJSON)
	sup := supervisor.New(client)
	op := operator.New(nil, nil)
	op.Register("noop", func(ctx context.Context, params map[string]any) (string, error) {
		return "done", nil
	})
	e := New(sup, op, nil)

	result := e.Handle(context.Background(), "open the hyprland config and then edit it", types.Context{})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.SupervisorCalls != 1 {
		t.Errorf("expected 1 supervisor call, got %d", result.SupervisorCalls)
	}
	if e.Stats().PlannedHandled != 1 || e.Stats().Rescued != 0 {
		t.Errorf("unexpected stats: %+v", e.Stats())
	}
}

func TestHandlePlannedRescuesToTakeoverAfterPlanFails(t *testing.T) {
	planJSON := `{"understanding":"do a thing","complexity":4,"confidence":0.6,
"steps":[{"step_number":1,"action":"always_fails","params":{}}]}`
	rescueJSON := `{"action":"TAKEOVER","plan":null,"direct_result":"handled directly"}`
	client := sequencedLLMClient(t, planJSON, rescueJSON)
	sup := supervisor.New(client)
	op := operator.New(nil, nil)
	op.Register("always_fails", func(ctx context.Context, params map[string]any) (string, error) {
		return "", fmt.Errorf("boom")
	})
	e := New(sup, op, nil)

	result := e.Handle(context.Background(), "refactor and rewrite the entire module and explain how it works", types.Context{})

	if !result.Success {
		t.Fatalf("expected rescue takeover to report success, got %+v", result)
	}
	if result.Output != "handled directly" {
		t.Errorf("expected rescue direct_result as output, got %q", result.Output)
	}
	if result.SupervisorCalls != 2 {
		t.Errorf("expected 2 supervisor calls, got %d", result.SupervisorCalls)
	}
	if e.Stats().Rescued != 1 {
		t.Errorf("expected Rescued=1, got %d", e.Stats().Rescued)
	}
}
