// Package registry implements the Service Registry and its health monitor,
// per spec.md §4.12. The Registry tracks each registered service's lifecycle
// status, refuses concurrent starts, and periodically health-checks running
// services, demoting any that time out or fail to UNHEALTHY. The ticker-
// driven monitor loop and its "select on ctx.Done plus a bus tap" shape are
// grounded on the teacher's internal/roles/auditor/auditor.go Run loop,
// generalized from passive message observation to active per-service
// health polling; status transitions are published onto the Event Bus as
// EventService events rather than the teacher's fixed MessageType enum, so
// the Event Bus absorbs the registry's lifecycle notifications too, per
// spec.md §4.12's framing that the Bus underlies both.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hcwagner/orchestrator/internal/bus"
	"github.com/hcwagner/orchestrator/internal/types"
)

// Service is anything the Registry can start and stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthChecker is an optional capability a Service may implement; services
// that don't are never health-polled and stay in whatever state their own
// lifecycle puts them in.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (bool, error)
}

const healthCheckTimeout = 5 * time.Second

type entry struct {
	info types.ServiceInfo
	svc  Service
}

// Registry owns the lifecycle state of every registered service (spec.md §3
// Ownership: it does not own their internal state).
type Registry struct {
	b *bus.Bus

	mu       sync.Mutex
	services map[string]*entry
}

// New creates a Registry that publishes lifecycle transitions onto b.
func New(b *bus.Bus) *Registry {
	return &Registry{b: b, services: make(map[string]*entry)}
}

// Register adds a service in the STOPPED state. Registering a name twice
// replaces the prior entry's Service binding but keeps its recorded status.
func (r *Registry) Register(name string, capabilities []string, version string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := types.StatusStopped
	if prev, ok := r.services[name]; ok {
		status = prev.info.Status
	}
	r.services[name] = &entry{
		info: types.ServiceInfo{Name: name, Capabilities: capabilities, Status: status, Version: version},
		svc:  svc,
	}
}

// Start transitions name from STOPPED (or ERROR/UNHEALTHY) to RUNNING,
// calling its Start method. Concurrent starts of the same service are
// refused: a service already STARTING or RUNNING returns an error rather
// than being started twice.
func (r *Registry) Start(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown service %q", name)
	}
	if e.info.Status == types.StatusStarting || e.info.Status == types.StatusRunning {
		r.mu.Unlock()
		return fmt.Errorf("registry: service %q already starting or running", name)
	}
	e.info.Status = types.StatusStarting
	r.mu.Unlock()
	r.publish(name, e.info)

	if err := e.svc.Start(ctx); err != nil {
		r.setStatus(name, types.StatusError)
		return fmt.Errorf("registry: start %q: %w", name, err)
	}

	now := time.Now()
	r.mu.Lock()
	e.info.Status = types.StatusRunning
	e.info.StartedAt = &now
	info := e.info
	r.mu.Unlock()
	r.publish(name, info)
	return nil
}

// Stop transitions name to STOPPING then STOPPED, calling its Stop method.
func (r *Registry) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown service %q", name)
	}
	e.info.Status = types.StatusStopping
	r.mu.Unlock()
	r.publish(name, e.info)

	err := e.svc.Stop(ctx)
	r.setStatus(name, types.StatusStopped)
	if err != nil {
		return fmt.Errorf("registry: stop %q: %w", name, err)
	}
	return nil
}

func (r *Registry) setStatus(name string, status types.ServiceStatus) {
	r.mu.Lock()
	e, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.info.Status = status
	info := e.info
	r.mu.Unlock()
	r.publish(name, info)
}

func (r *Registry) publish(name string, info types.ServiceInfo) {
	if r.b == nil {
		return
	}
	r.b.Emit("registry."+name, bus.EventService, info)
}

// Get returns a copy of one service's current info.
func (r *Registry) Get(name string) (types.ServiceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[name]
	if !ok {
		return types.ServiceInfo{}, false
	}
	return e.info, true
}

// List returns a snapshot of every registered service's info.
func (r *Registry) List() []types.ServiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ServiceInfo, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, e.info)
	}
	return out
}

// RunHealthMonitor blocks, calling HealthCheck on every RUNNING service
// that implements HealthChecker once per interval, under a 5-second
// per-check timeout. A timed-out or negative check demotes the service to
// UNHEALTHY; it is not stopped or restarted — spec.md §7 treats a health
// timeout as a status change only.
func (r *Registry) RunHealthMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAll(ctx)
		}
	}
}

func (r *Registry) checkAll(ctx context.Context) {
	r.mu.Lock()
	var checkable []*entry
	for _, e := range r.services {
		if e.info.Status == types.StatusRunning {
			if _, ok := e.svc.(HealthChecker); ok {
				checkable = append(checkable, e)
			}
		}
	}
	r.mu.Unlock()

	for _, e := range checkable {
		hc := e.svc.(HealthChecker)
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		healthy, err := hc.HealthCheck(cctx)
		cancel()
		if err != nil || !healthy {
			slog.Warn("service unhealthy", "service", e.info.Name, "error", err)
			r.setStatus(e.info.Name, types.StatusUnhealthy)
		}
	}
}
