package vram

import (
	"context"
	"testing"
)

type fakeProber struct{ obs Observation }

func (f fakeProber) Probe(ctx context.Context) (Observation, error) { return f.obs, nil }

func TestEstimateFootprintMBTiers(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"llama-13b", 10000},
		{"llama-10b", 8000},
		{"qwen2.5-6b-instruct", 5000},
		{"qwen2.5-2.5b", 3000},
		{"tiny-1b", 1500},
		{"nano-0.5b", 1000},
		{"no-size-here", 5000},
	}
	for _, tc := range cases {
		if got := EstimateFootprintMB(tc.model); got != tc.want {
			t.Errorf("EstimateFootprintMB(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestCanLoadAtExactCeilingRefusesAnyPositiveLoad(t *testing.T) {
	g := New(fakeProber{Observation{TotalMB: 10000, UsedMB: 9000}}, 0.9)
	g.Refresh(context.Background())
	if got := g.Observation().AvailableMB(0.9); got != 0 {
		t.Fatalf("expected 0 available at ceiling, got %d", got)
	}
	decision, _ := g.CanLoad("model-7b")
	if decision == Load {
		t.Errorf("expected non-LOAD decision at exact ceiling, got %s", decision)
	}
}

func TestCanLoadAlreadyLoadedReturnsLoadImmediately(t *testing.T) {
	g := New(fakeProber{Observation{TotalMB: 1000, UsedMB: 900, LoadedModels: []string{"tiny-1b"}}}, 0.9)
	g.Refresh(context.Background())
	decision, _ := g.CanLoad("tiny-1b")
	if decision != Load {
		t.Errorf("expected LOAD for already-loaded model, got %s", decision)
	}
}

func TestCanLoadRefusesWhenNoEvictionHelps(t *testing.T) {
	g := New(fakeProber{Observation{TotalMB: 2000, UsedMB: 1000, LoadedModels: []string{"tiny-1b"}}}, 0.9)
	g.Refresh(context.Background())
	decision, _ := g.CanLoad("huge-70b")
	if decision != Refuse {
		t.Errorf("expected REFUSE for a model that can't fit even after eviction, got %s", decision)
	}
}

func TestCanLoadUnloadFirstPicksSmallestModelsFirst(t *testing.T) {
	g := New(fakeProber{Observation{
		TotalMB:      20000,
		UsedMB:       17000,
		LoadedModels: []string{"big-13b", "small-1b"},
	}}, 0.9)
	g.Refresh(context.Background())
	decision, toUnload := g.CanLoad("medium-6b")
	if decision != UnloadFirst {
		t.Fatalf("expected UNLOAD_FIRST, got %s", decision)
	}
	if len(toUnload) == 0 || toUnload[0] != "small-1b" {
		t.Errorf("expected smallest model evicted first, got %v", toUnload)
	}
}
