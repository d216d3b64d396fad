package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hcwagner/orchestrator/internal/bus"
	"github.com/hcwagner/orchestrator/internal/types"
)

type fakeService struct {
	startErr error
	stopErr  error
	started  bool
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.started = false
	return f.stopErr
}

type healthyService struct {
	fakeService
	healthy bool
}

func (h *healthyService) HealthCheck(ctx context.Context) (bool, error) {
	return h.healthy, nil
}

func TestStartTransitionsToRunning(t *testing.T) {
	r := New(nil)
	svc := &fakeService{}
	r.Register("demo", []string{"x"}, "1.0", svc)
	if err := r.Start(context.Background(), "demo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, ok := r.Get("demo")
	if !ok || info.Status != types.StatusRunning {
		t.Fatalf("expected RUNNING, got %+v ok=%v", info, ok)
	}
}

func TestStartRefusesConcurrentStart(t *testing.T) {
	r := New(nil)
	svc := &fakeService{}
	r.Register("demo", nil, "1.0", svc)
	if err := r.Start(context.Background(), "demo"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := r.Start(context.Background(), "demo"); err == nil {
		t.Fatal("expected second start on an already-running service to be refused")
	}
}

func TestStartFailureSetsErrorStatus(t *testing.T) {
	r := New(nil)
	svc := &fakeService{startErr: errors.New("boom")}
	r.Register("demo", nil, "1.0", svc)
	if err := r.Start(context.Background(), "demo"); err == nil {
		t.Fatal("expected error")
	}
	info, _ := r.Get("demo")
	if info.Status != types.StatusError {
		t.Fatalf("expected ERROR status, got %s", info.Status)
	}
}

func TestHealthMonitorDemotesUnhealthyService(t *testing.T) {
	r := New(nil)
	svc := &healthyService{healthy: false}
	r.Register("demo", nil, "1.0", svc)
	if err := r.Start(context.Background(), "demo"); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	go r.RunHealthMonitor(ctx, 10*time.Millisecond)
	<-ctx.Done()

	info, _ := r.Get("demo")
	if info.Status != types.StatusUnhealthy {
		t.Fatalf("expected UNHEALTHY after failing health checks, got %s", info.Status)
	}
}

func TestListAndGetUnknownService(t *testing.T) {
	r := New(bus.New())
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing service to be absent")
	}
	r.Register("a", nil, "1.0", &fakeService{})
	r.Register("b", nil, "1.0", &fakeService{})
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 services listed, got %d", len(r.List()))
	}
}
