// Package types defines the shared data model for the orchestrator: the
// request-execution pipeline's Plan/Step/Task records, the worker fleet's
// task/result and rollup types, the persistent memory record shapes, and the
// council/benchmark/RSI record shapes. Every exported type here corresponds
// to a record named in section 3 of the specification this repository
// implements.
package types

import "time"

// Complexity is the Complexity Gate's routing tier.
type Complexity int

const (
	Trivial Complexity = iota + 1
	Simple
	Moderate
	Complex
)

func (c Complexity) String() string {
	switch c {
	case Trivial:
		return "TRIVIAL"
	case Simple:
		return "SIMPLE"
	case Moderate:
		return "MODERATE"
	case Complex:
		return "COMPLEX"
	default:
		return "UNKNOWN"
	}
}

// AgentKind is the routing target a gate or plan assigns to a request.
type AgentKind string

const (
	AgentFile  AgentKind = "file"
	AgentCode  AgentKind = "code"
	AgentWeb   AgentKind = "web"
	AgentShell AgentKind = "shell"
	AgentRAG   AgentKind = "rag"
)

// ModelSize names a worker-pool model tier, independent of the concrete model
// identity an alias resolves to.
type ModelSize string

const (
	ModelDefault ModelSize = "default"
	ModelCoder   ModelSize = "coder"
	ModelFast    ModelSize = "fast"
	ModelTiny    ModelSize = "tiny"
)

// Context is the caller-provided execution context. Passed by value down the
// pipeline; no callee mutates it.
type Context struct {
	WorkingDir   string
	LastOutput   string
	History      []string // ring of the last 5 commands, oldest first
	Language     string
	SessionID    string
	Turn         int
	EnabledTools map[string]bool
}

// PlanStep is one action within a Plan.
type PlanStep struct {
	StepNumber  int            `json:"step_number"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description,omitempty"`
	Fallback    string         `json:"fallback,omitempty"`
	Timeout     time.Duration  `json:"timeout"`
	Capture     bool           `json:"capture"`
}

// Plan is produced by the Supervisor and consumed read-only by the Operator.
type Plan struct {
	Understanding  string        `json:"understanding"`
	Complexity     int           `json:"complexity"` // 1-5
	Confidence     float64       `json:"confidence"` // 0.0-1.0
	Steps          []PlanStep    `json:"steps"`
	AgentType      AgentKind     `json:"agent_type"`
	ModelSize      ModelSize     `json:"model_size"`
	OperatorPrompt string        `json:"operator_prompt"`
	Timeout        time.Duration `json:"timeout"`
	MaxRetries     int           `json:"max_retries"`
}

// StepResult is the Operator's record of one executed PlanStep.
type StepResult struct {
	StepNumber int           `json:"step_number"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// TaskResult aggregates an Operator run across a whole plan (or the
// single-step "simple" path).
type TaskResult struct {
	Success         bool          `json:"success"`
	Output          string        `json:"output"`
	PlanUsed        *Plan         `json:"plan_used,omitempty"`
	StepsCompleted  int           `json:"steps_completed"`
	Duration        time.Duration `json:"duration"`
	SupervisorCalls int           `json:"supervisor_calls"`
	OperatorCalls   int           `json:"operator_calls"`
	Errors          []string      `json:"errors,omitempty"`
}

// WorkerTaskKind is the typed shape of work a Worker accepts.
type WorkerTaskKind string

const (
	TaskSearch    WorkerTaskKind = "search"
	TaskSummarize WorkerTaskKind = "summarize"
	TaskExtract   WorkerTaskKind = "extract"
	TaskValidate  WorkerTaskKind = "validate"
	TaskGeneral   WorkerTaskKind = "general"
)

// WorkerTask is submitted to the Worker Pool.
type WorkerTask struct {
	ID       string            `json:"id"`
	Kind     WorkerTaskKind    `json:"kind"`
	Prompt   string            `json:"prompt"`
	Params   map[string]string `json:"params,omitempty"`
	Timeout  time.Duration     `json:"timeout"`
	Priority int               `json:"priority"` // 1-10
}

// WorkerResult is a Worker's outcome for one WorkerTask.
type WorkerResult struct {
	TaskID  string        `json:"task_id"`
	Success bool          `json:"success"`
	Text    string        `json:"text,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
	Model   string        `json:"model"`
	Quality float64       `json:"quality"` // filled in later by the dispatcher
}

// ModelStats is the Metrics Registry's per-model rollup.
type ModelStats struct {
	Model           string    `json:"model"`
	TotalTasks      int       `json:"total_tasks"`
	SuccessfulTasks int       `json:"successful_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
	TotalLatencyMs  int64     `json:"total_latency_ms"`
	QualityScores   []float64 `json:"quality_scores"` // retained last 50
	LastUsed        time.Time `json:"last_used"`
	Fired           bool      `json:"fired"`
	Promoted        bool      `json:"promoted"`
}

// SuccessRate is successes/total, or 0 when no tasks have run.
func (m ModelStats) SuccessRate() float64 {
	if m.TotalTasks == 0 {
		return 0
	}
	return float64(m.SuccessfulTasks) / float64(m.TotalTasks)
}

// AvgLatencyMs is the mean latency across all recorded tasks.
func (m ModelStats) AvgLatencyMs() float64 {
	if m.TotalTasks == 0 {
		return 0
	}
	return float64(m.TotalLatencyMs) / float64(m.TotalTasks)
}

// AvgQuality averages over the most recent 20 quality scores (or fewer).
func (m ModelStats) AvgQuality() float64 {
	n := len(m.QualityScores)
	if n == 0 {
		return 0
	}
	start := 0
	if n > 20 {
		start = n - 20
	}
	window := m.QualityScores[start:]
	var sum float64
	for _, q := range window {
		sum += q
	}
	return sum / float64(len(window))
}

// Composite is the Metrics Registry's ranking score: 0.6*(avgQuality/10) + 0.3*success + 0.1*(1-clamp(latency/5000)),
// with quality scores on a 0-10 scale.
func (m ModelStats) Composite() float64 {
	latencyPenalty := m.AvgLatencyMs() / 5000.0
	if latencyPenalty > 1 {
		latencyPenalty = 1
	}
	if latencyPenalty < 0 {
		latencyPenalty = 0
	}
	return 0.6*(m.AvgQuality()/10.0) + 0.3*m.SuccessRate() + 0.1*(1-latencyPenalty)
}

// MemoryType distinguishes the five persistent-store record kinds.
type MemoryType string

const (
	MemFact       MemoryType = "fact"
	MemPreference MemoryType = "preference"
	MemSession    MemoryType = "session"
	MemSkill      MemoryType = "skill"
	MemError      MemoryType = "error"
)

// MemoryEntry is a (type, key)-unique persisted record.
type MemoryEntry struct {
	ID           string     `json:"id"` // content-derived hash
	Type         MemoryType `json:"type"`
	Key          string     `json:"key"`
	Value        string     `json:"value"` // opaque, JSON-encoded by the caller
	Importance   float64    `json:"importance"` // [0,1]
	AccessCount  int        `json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastAccessed time.Time  `json:"last_accessed"`
	Tags         []string   `json:"tags,omitempty"`
	Embedding    []float32  `json:"embedding,omitempty"`
}

// UserPreferences is the fixed-schema singleton preference record.
type UserPreferences struct {
	Language         string            `json:"language"`
	DeviceLabel      string            `json:"device_label"`
	VRAMCapacityMB   int               `json:"vram_capacity_mb"`
	VRAMSafePercent  float64           `json:"vram_safe_percent"`
	SidebarAutoload  bool              `json:"sidebar_autoload"`
	PreferredModels  map[string]string `json:"preferred_models"`
	ConciseResponses bool              `json:"concise_responses"`
	Theme            string            `json:"theme"`
	KeyboardFirst    bool              `json:"keyboard_first"`
}

// SessionRecord tracks one interactive session's lifetime and outcome counts.
type SessionRecord struct {
	SessionID      string     `json:"session_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Summary        string     `json:"summary"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
}

// ErrorPattern is a learned error-signature -> fix record.
type ErrorPattern struct {
	ID             string    `json:"id"`
	ErrorSignature string    `json:"error_signature"`
	FixPattern     string    `json:"fix_pattern"`
	SuccessCount   int       `json:"success_count"`
	FailCount      int       `json:"fail_count"`
	LastSeen       time.Time `json:"last_seen"`
}

// ChunkKind classifies a CodeChunk's syntactic granularity.
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkClass    ChunkKind = "class"
	ChunkModule   ChunkKind = "module"
	ChunkBlock    ChunkKind = "block"
)

// CodeChunk is a unit of indexable source text.
type CodeChunk struct {
	ID        string            `json:"id"` // file:start:end
	Content   string            `json:"content"`
	File      string            `json:"file"`
	StartLine int               `json:"start_line"`
	EndLine   int               `json:"end_line"`
	Language  string            `json:"language"`
	Kind      ChunkKind         `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EmbeddedChunk binds a CodeChunk to its vector and a content hash for
// cache invalidation.
type EmbeddedChunk struct {
	Chunk       CodeChunk `json:"chunk"`
	Vector      []float32 `json:"vector"`
	ContentHash string    `json:"content_hash"`
}

// CouncilResponse is one member's reply in a Council round.
type CouncilResponse struct {
	Member  string        `json:"member"`
	Text    string        `json:"text,omitempty"`
	Rating  *float64      `json:"rating,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CouncilResult aggregates a Council round.
type CouncilResult struct {
	Responses     []CouncilResponse `json:"responses"`
	Consensus     string            `json:"consensus"`
	AverageRating float64           `json:"average_rating"`
	Agreement     float64           `json:"agreement"` // [0,1]
	TotalLatency  time.Duration     `json:"total_latency"`
}

// RSIPhase is a state in the RSI Loop's state machine.
type RSIPhase string

const (
	PhaseIdle           RSIPhase = "IDLE"
	PhaseBenchmarking   RSIPhase = "BENCHMARKING"
	PhaseAnalyzing      RSIPhase = "ANALYZING"
	PhasePlanning       RSIPhase = "PLANNING"
	PhaseImplementing   RSIPhase = "IMPLEMENTING"
	PhaseReBenchmarking RSIPhase = "RE-BENCHMARKING"
	PhaseDeciding       RSIPhase = "DECIDING"
	PhaseAccepted       RSIPhase = "ACCEPTED"
	PhaseRejected       RSIPhase = "REJECTED"
)

// ImprovementHypothesis is a candidate RSI change.
type ImprovementHypothesis struct {
	ID                  string            `json:"id"`
	TargetBenchmark     string            `json:"target_benchmark"`
	TargetProblem       string            `json:"target_problem,omitempty"`
	ExpectedImprovement float64           `json:"expected_improvement"`
	Description         string            `json:"description"`
	Rationale           string            `json:"rationale"`
	Changes             map[string]string `json:"changes"` // file path -> proposed change text
	Implemented         bool              `json:"implemented"`
	Tested              bool              `json:"tested"`
	Accepted            bool              `json:"accepted"`
	RejectionReason     string            `json:"rejection_reason,omitempty"`
}

// RSIIteration is one pass of the RSI Loop.
type RSIIteration struct {
	ID            int                    `json:"id"`
	Phase         RSIPhase               `json:"phase"`
	BaselineScore float64                `json:"baseline_score"`
	NewScore      float64                `json:"new_score"`
	Hypothesis    *ImprovementHypothesis `json:"hypothesis,omitempty"`
	Accepted      bool                   `json:"accepted"`
	Delta         float64                `json:"delta"`
}

// BenchmarkProblem is one scoring unit the Benchmark Runner executes.
type BenchmarkProblem struct {
	ID             string        `json:"id"`
	Statement      string        `json:"statement"`
	ExpectedOutput string        `json:"expected_output,omitempty"`
	Validation     string        `json:"validation"` // "literal_contains" | "test_runner"
	Difficulty     int           `json:"difficulty"`
	Timeout        time.Duration `json:"timeout"`
	Tags           []string      `json:"tags,omitempty"`
}

// ProblemOutcome is the Benchmark Runner's per-problem result.
type ProblemOutcome struct {
	ProblemID string        `json:"problem_id"`
	Passed    bool          `json:"passed"`
	Score     float64       `json:"score"`
	Output    string        `json:"output,omitempty"`
	Tokens    int           `json:"tokens"`
	Duration  time.Duration `json:"duration"`
}

// BenchmarkRun aggregates one run of a benchmark's problem set.
type BenchmarkRun struct {
	RunID         string                    `json:"run_id"`
	BenchmarkName string                    `json:"benchmark_name"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	Results       map[string]ProblemOutcome `json:"results"`
	PassCount     int                       `json:"pass_count"`
	AverageScore  float64                   `json:"average_score"`
	TotalTokens   int                       `json:"total_tokens"`
	TotalDuration time.Duration             `json:"total_duration"`
}

// BenchmarkBaseline is the pointer file tracking a benchmark's best known run.
type BenchmarkBaseline struct {
	RunID         string    `json:"run_id"`
	SetAt         time.Time `json:"set_at"`
	AverageScore  float64   `json:"average_score"`
	PassedCount   int       `json:"passed_count"`
	TotalProblems int       `json:"total_problems"`
}

// ServiceStatus is a Service Registry lifecycle state.
type ServiceStatus string

const (
	StatusStopped   ServiceStatus = "stopped"
	StatusStarting  ServiceStatus = "starting"
	StatusRunning   ServiceStatus = "running"
	StatusStopping  ServiceStatus = "stopping"
	StatusError     ServiceStatus = "error"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// ServiceInfo is the Registry's view of one registered service.
type ServiceInfo struct {
	Name         string        `json:"name"`
	Capabilities []string      `json:"capabilities"`
	Status       ServiceStatus `json:"status"`
	Version      string        `json:"version"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
}
