// Package vram implements the VRAM Guard: an admission controller that
// advises whether a model load would exceed a safe GPU memory ceiling. It
// never loads or unloads a model itself — it advises a Model Manager that
// drives the inference server, per spec.md §4.2.
package vram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Decision is the VRAM Guard's tagged admission verdict.
type Decision string

const (
	Load         Decision = "LOAD"
	UnloadFirst  Decision = "UNLOAD_FIRST"
	OffloadCPU   Decision = "OFFLOAD_CPU"
	Refuse       Decision = "REFUSE"
)

// Observation is one GPU-memory sample.
type Observation struct {
	TotalMB     int
	UsedMB      int
	LoadedModels []string // names the inference server currently reports as loaded
	TakenAt     time.Time
}

// AvailableMB is the headroom under the safe ceiling, never negative.
func (o Observation) AvailableMB(safeCeilingPercent float64) int {
	safe := int(float64(o.TotalMB) * safeCeilingPercent)
	avail := safe - o.UsedMB
	if avail < 0 {
		return 0
	}
	return avail
}

// sizeTable is the exact-match model → footprint-MB table; unmatched names
// fall through to regex-based tiered estimation.
var sizeTable = map[string]int{}

var paramSizeRe = regexp.MustCompile(`[:\-_](\d+(?:\.\d+)?)b\b`)

// EstimateFootprintMB estimates a model's GPU footprint: (a) exact table
// lookup, (b) parameter-count extraction from the name via regex with a
// tiered estimate, (c) a 5000MB default.
func EstimateFootprintMB(model string) int {
	if mb, ok := sizeTable[model]; ok {
		return mb
	}
	m := paramSizeRe.FindStringSubmatch(model)
	if m == nil {
		return 5000
	}
	b, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 5000
	}
	switch {
	case b >= 13:
		return 10000
	case b >= 10:
		return 8000
	case b >= 6:
		return 5000
	case b >= 2.5:
		return 3000
	case b >= 1:
		return 1500
	default:
		return 1000
	}
}

// SetExactFootprint installs an exact-match override for model, used when a
// caller knows a model's true footprint and wants to bypass the regex tier.
func SetExactFootprint(model string, mb int) {
	sizeTable[model] = mb
}

// Prober observes current GPU memory usage; Guard caches each result until
// the next Refresh.
type Prober interface {
	Probe(ctx context.Context) (Observation, error)
}

// SysfsProber reads total and used VRAM, in bytes, from two sysfs-style
// files. An empty path falls back to the Linux amdgpu layout under
// /sys/class/drm/card0/device; Probe returns an error if a file is absent.
type SysfsProber struct {
	TotalPath string
	UsedPath  string
}

func (p SysfsProber) Probe(ctx context.Context) (Observation, error) {
	totalPath, usedPath := p.TotalPath, p.UsedPath
	if totalPath == "" {
		totalPath = "/sys/class/drm/card0/device/mem_info_vram_total"
	}
	if usedPath == "" {
		usedPath = "/sys/class/drm/card0/device/mem_info_vram_used"
	}
	total, err := readIntFile(totalPath)
	if err != nil {
		return Observation{}, fmt.Errorf("vram: read total: %w", err)
	}
	used, err := readIntFile(usedPath)
	if err != nil {
		return Observation{}, fmt.Errorf("vram: read used: %w", err)
	}
	return Observation{TotalMB: total / (1024 * 1024), UsedMB: used / (1024 * 1024), TakenAt: time.Now()}, nil
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// ToolProber shells out to an external tool (e.g. nvidia-smi wrapped in a
// JSON-emitting helper) and parses its JSON stdout.
type ToolProber struct {
	Command string
	Args    []string
}

func (p ToolProber) Probe(ctx context.Context) (Observation, error) {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return Observation{}, fmt.Errorf("vram: probe tool: %w", err)
	}
	var payload struct {
		TotalMB int      `json:"total_mb"`
		UsedMB  int      `json:"used_mb"`
		Loaded  []string `json:"loaded_models"`
	}
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		return Observation{}, fmt.Errorf("vram: parse probe output: %w", err)
	}
	return Observation{TotalMB: payload.TotalMB, UsedMB: payload.UsedMB, LoadedModels: payload.Loaded, TakenAt: time.Now()}, nil
}

// Guard is the VRAM admission controller. It caches the last Observation
// until the next explicit Refresh, per spec.md §4.2.
type Guard struct {
	prober             Prober
	safeCeilingPercent float64

	mu   sync.RWMutex
	last Observation
}

// New creates a Guard backed by prober, with the given safe-ceiling
// fraction of total VRAM (e.g. 0.9 for 90%).
func New(prober Prober, safeCeilingPercent float64) *Guard {
	return &Guard{prober: prober, safeCeilingPercent: safeCeilingPercent}
}

// Refresh re-probes GPU memory and updates the cached observation.
func (g *Guard) Refresh(ctx context.Context) error {
	obs, err := g.prober.Probe(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.last = obs
	g.mu.Unlock()
	return nil
}

// Observation returns the last cached probe result.
func (g *Guard) Observation() Observation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last
}

func (g *Guard) isLoaded(model string) bool {
	for _, m := range g.last.LoadedModels {
		if m == model {
			return true
		}
	}
	return false
}

// CanLoad returns a tagged decision for loading model, plus (for
// UNLOAD_FIRST) the minimal set of currently-loaded models — smallest
// footprint first — that would need to be freed.
func (g *Guard) CanLoad(model string) (Decision, []string) {
	g.mu.RLock()
	obs := g.last
	g.mu.RUnlock()

	if g.isLoaded(model) {
		return Load, nil
	}

	need := EstimateFootprintMB(model)
	available := obs.AvailableMB(g.safeCeilingPercent)
	if need <= available {
		return Load, nil
	}

	// Total footprint of all currently loaded models, smallest first, to
	// find the minimal eviction set that frees enough headroom.
	type loaded struct {
		name string
		mb   int
	}
	var candidates []loaded
	for _, m := range obs.LoadedModels {
		candidates = append(candidates, loaded{m, EstimateFootprintMB(m)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mb < candidates[j].mb })

	freed := available
	var toUnload []string
	for _, c := range candidates {
		if freed >= need {
			break
		}
		freed += c.mb
		toUnload = append(toUnload, c.name)
	}
	if freed >= need {
		return UnloadFirst, toUnload
	}

	absoluteCeiling := obs.TotalMB
	if need <= absoluteCeiling {
		return OffloadCPU, nil
	}
	return Refuse, nil
}
