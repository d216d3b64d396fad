// Package metrics implements the Metrics Registry: per-model success/
// latency/quality rollups that drive Worker Pool promotion and firing, per
// spec.md §4.10. Persistence follows a single-writer lock, the same
// discipline the teacher's auditor.go applies to its window-stats file;
// fire/promote decision-table framing is grounded on the teacher's GGS
// (internal/roles/ggs/ggs.go) loss/threshold decision table.
package metrics

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hcwagner/orchestrator/internal/types"
)

// Thresholds configures the fire/promote rules (defaults match spec.md §4.10).
type Thresholds struct {
	FireMinTasks       int
	FireSuccessRate    float64
	FireAvgQuality     float64
	PromoteMinTasks    int
	PromoteSuccessRate float64
	PromoteAvgQuality  float64
}

// DefaultThresholds returns the thresholds named explicitly in spec.md §4.10.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FireMinTasks: 10, FireSuccessRate: 0.5, FireAvgQuality: 3,
		PromoteMinTasks: 20, PromoteSuccessRate: 0.9, PromoteAvgQuality: 7,
	}
}

const qualityHistoryCap = 50

// Registry owns all ModelStats (spec.md §3 Ownership). Single-writer
// discipline via mu, matching the teacher's persistence-lock idiom.
type Registry struct {
	mu      sync.Mutex
	stats   map[string]*types.ModelStats
	thresh  Thresholds
	path    string

	promGauge  *prometheus.GaugeVec
	promCounter *prometheus.CounterVec
}

// New creates a Registry persisting its JSON rollup to path, optionally
// registering Prometheus gauges/counters against reg (pass nil to skip
// exposition, e.g. in tests).
func New(path string, thresh Thresholds, reg prometheus.Registerer) *Registry {
	r := &Registry{
		stats:  make(map[string]*types.ModelStats),
		thresh: thresh,
		path:   path,
	}
	if reg != nil {
		r.promGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_model_composite_score",
			Help: "Composite quality/success/latency score per model.",
		}, []string{"model"})
		r.promCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_model_tasks_total",
			Help: "Total tasks recorded per model, partitioned by outcome.",
		}, []string{"model", "outcome"})
		reg.MustRegister(r.promGauge, r.promCounter)
	}
	if err := r.load(); err != nil && !os.IsNotExist(err) {
		// A corrupt or unreadable metrics file degrades to a fresh registry
		// rather than blocking startup; spec.md §7 treats persistence
		// failures as best-effort in-memory behavior.
	}
	return r
}

// Record applies one task completion to model's rollup and evaluates the
// fire/promote rules, per spec.md §4.10.
func (r *Registry) Record(model string, success bool, latency time.Duration, quality *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.stats[model]
	if !ok {
		m = &types.ModelStats{Model: model}
		r.stats[model] = m
	}
	m.TotalTasks++
	if success {
		m.SuccessfulTasks++
	} else {
		m.FailedTasks++
	}
	m.TotalLatencyMs += latency.Milliseconds()
	m.LastUsed = time.Now()
	if quality != nil {
		m.QualityScores = append(m.QualityScores, *quality)
		if len(m.QualityScores) > qualityHistoryCap {
			m.QualityScores = m.QualityScores[len(m.QualityScores)-qualityHistoryCap:]
		}
	}

	r.applyThresholds(m)
	r.exposeLocked(model, success, *m)
	_ = r.save()
}

func (r *Registry) applyThresholds(m *types.ModelStats) {
	if m.TotalTasks >= r.thresh.FireMinTasks &&
		(m.SuccessRate() < r.thresh.FireSuccessRate || m.AvgQuality() < r.thresh.FireAvgQuality) {
		m.Fired = true
	}
	if m.TotalTasks >= r.thresh.PromoteMinTasks &&
		m.SuccessRate() > r.thresh.PromoteSuccessRate && m.AvgQuality() > r.thresh.PromoteAvgQuality {
		m.Promoted = true
	}
}

func (r *Registry) exposeLocked(model string, success bool, m types.ModelStats) {
	if r.promGauge == nil {
		return
	}
	r.promGauge.WithLabelValues(model).Set(m.Composite())
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.promCounter.WithLabelValues(model, outcome).Inc()
}

// Get returns a copy of model's current rollup.
func (r *Registry) Get(model string) (types.ModelStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.stats[model]
	if !ok {
		return types.ModelStats{}, false
	}
	return *m, true
}

// GetBestModels returns up to count model identities sorted by composite
// score, excluding fired models when excludeFired is true.
func (r *Registry) GetBestModels(count int, excludeFired bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	type scored struct {
		model string
		score float64
	}
	var list []scored
	for name, m := range r.stats {
		if excludeFired && m.Fired {
			continue
		}
		list = append(list, scored{name, m.Composite()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].score > list[j].score })
	if count > 0 && len(list) > count {
		list = list[:count]
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.model
	}
	return out
}

// WorstPerformer returns the model with the lowest (success rate, avg
// quality) pair, used by the Worker Pool to pick a firing candidate.
func (r *Registry) WorstPerformer() (string, types.ModelStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var worstName string
	var worst types.ModelStats
	found := false
	for name, m := range r.stats {
		if !found || m.SuccessRate() < worst.SuccessRate() ||
			(m.SuccessRate() == worst.SuccessRate() && m.AvgQuality() < worst.AvgQuality()) {
			worstName, worst, found = name, *m, true
		}
	}
	return worstName, worst, found
}

type onDiskFile struct {
	Models map[string]*types.ModelStats `json:"models"`
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var f onDiskFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Models != nil {
		r.stats = f.Models
	}
	return nil
}

// save persists the registry to its JSON file. Caller must hold r.mu.
func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(onDiskFile{Models: r.stats}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}
