package domain

// RunStatus represents the execution state of a pipeline run
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions happen from this status.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunError || s == RunCancelled
}

// Resumable reports whether a checkpoint in this status may be resumed.
// Cancellation is terminal, unlike pause.
func (s RunStatus) Resumable() bool {
	return s != RunCompleted && s != RunCancelled
}

// RoleStatus represents the lifecycle state of a single role
type RoleStatus string

const (
	RolePending    RoleStatus = "pending"
	RoleGenerating RoleStatus = "generating"
	RoleReviewing  RoleStatus = "reviewing"
	RoleOptimizing RoleStatus = "optimizing"
	RoleCompleted  RoleStatus = "completed"
	RoleError      RoleStatus = "error"
)

// IsTerminal reports whether the role has resolved.
func (s RoleStatus) IsTerminal() bool {
	return s == RoleCompleted || s == RoleError
}

// RoleCategory groups roles by their function in the generated system
type RoleCategory string

const (
	CategoryCore    RoleCategory = "core"
	CategoryQuality RoleCategory = "quality"
	CategorySupport RoleCategory = "support"
)

// Valid reports whether c is one of the known categories.
func (c RoleCategory) Valid() bool {
	switch c {
	case CategoryCore, CategoryQuality, CategorySupport:
		return true
	}
	return false
}

// Stage is the index of the pipeline stage a run is in
type Stage int

const (
	StageIdle Stage = iota
	StageAnalyze
	StageGenerate
	StageRefine
	StageTest
	StageAssemble
)

var stageNames = map[Stage]string{
	StageIdle:     "idle",
	StageAnalyze:  "analyze",
	StageGenerate: "generate",
	StageRefine:   "refine",
	StageTest:     "test",
	StageAssemble: "assemble",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Agent names one of the five fixed pipeline stages backed by an LLM call
type Agent string

const (
	AgentAnalyzer  Agent = "analyzer"
	AgentGenerator Agent = "generator"
	AgentReviewer  Agent = "reviewer"
	AgentOptimizer Agent = "optimizer"
	AgentTester    Agent = "tester"
)

// Agents lists every agent in pipeline order.
var Agents = []Agent{AgentAnalyzer, AgentGenerator, AgentReviewer, AgentOptimizer, AgentTester}
