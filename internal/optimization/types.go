// Package optimization defines the core types shared by the task hub,
// the solver library and the fitness evaluators: problems, tasks,
// results and the solver contract.
package optimization

import (
	"time"
)

// ProblemKind identifies the problem family a submitted problem belongs to.
// The family selects the fitness evaluator and the shape of the decoded
// solution vector.
type ProblemKind string

const (
	// PortfolioAllocation optimizes asset weights for a Sharpe-like score.
	// Decoded solutions are normalized so the weights sum to one.
	PortfolioAllocation ProblemKind = "portfolio_allocation"
	// Clustering optimizes centroid coordinates for cluster cohesion.
	Clustering ProblemKind = "clustering"
	// RiskScoring optimizes factor exposures for a composite risk score.
	RiskScoring ProblemKind = "risk_scoring"
	// Generic is an arbitrary continuous objective over [0,1]^n.
	Generic ProblemKind = "generic"
)

// Direction states whether the objective is minimized or maximized.
type Direction string

const (
	Minimize Direction = "MIN"
	Maximize Direction = "MAX"
)

// ConstraintKind classifies a problem constraint.
type ConstraintKind string

const (
	ConstraintEquality   ConstraintKind = "eq"
	ConstraintUpperBound ConstraintKind = "le"
	ConstraintLowerBound ConstraintKind = "ge"
)

// Constraint is a single soft constraint attached to a problem. The engine
// treats constraints as penalty terms supplied to the evaluator; it does not
// interpret Expression itself.
type Constraint struct {
	Kind       ConstraintKind `json:"kind"`
	Expression string         `json:"expression"`
	Bound      float64        `json:"bound"`
	Weight     float64        `json:"weight"`
}

// Problem is an abstract optimization problem. It is immutable once
// submitted; the hub and the solvers only ever read it.
//
// Parameters is an opaque bag interpreted by the problem family's evaluator
// (expected returns, data points, factor weights) and by the solvers for
// per-problem tuning overrides (seed, population size, iteration caps).
type Problem struct {
	Kind          ProblemKind    `json:"kind"`
	VariableCount int            `json:"variableCount"`
	Constraints   []Constraint   `json:"constraints,omitempty"`
	Direction     Direction      `json:"objectiveDirection"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// Validate checks the structural shape of the problem. Semantic validation
// (parameter contents, constraint expressions) is the domain adapter's job
// and is deliberately not repeated here.
func (p *Problem) Validate() error {
	if p == nil {
		return &Error{Kind: KindInvalidProblem, Message: "problem is nil"}
	}
	if p.VariableCount <= 0 {
		return &Error{Kind: KindInvalidProblem, Message: "variableCount must be positive"}
	}
	switch p.Kind {
	case PortfolioAllocation, Clustering, RiskScoring, Generic:
	default:
		return &Error{Kind: KindInvalidProblem, Message: "unknown problem kind: " + string(p.Kind)}
	}
	switch p.Direction {
	case Minimize, Maximize, "":
	default:
		return &Error{Kind: KindInvalidProblem, Message: "unknown objective direction: " + string(p.Direction)}
	}
	return nil
}

// AlgorithmKind identifies one of the solvers in the algorithm library.
type AlgorithmKind string

const (
	AlgorithmGenetic       AlgorithmKind = "genetic"
	AlgorithmParticleSwarm AlgorithmKind = "particle_swarm"
	AlgorithmAnnealing     AlgorithmKind = "simulated_annealing"
	AlgorithmAntColony     AlgorithmKind = "ant_colony"
	AlgorithmLayered       AlgorithmKind = "layered"
	// AlgorithmEnsemble runs every enabled solver and combines their
	// outcomes weighted by confidence and quality.
	AlgorithmEnsemble AlgorithmKind = "ensemble"
)

// Priority orders tasks in the hub's queue. Higher values are dequeued
// first; ties are broken by submission order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ParsePriority maps the wire name of a priority to its level, defaulting
// to medium for unknown names.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ParseAlgorithm validates a wire algorithm name.
func ParseAlgorithm(s string) (AlgorithmKind, bool) {
	switch k := AlgorithmKind(s); k {
	case AlgorithmGenetic, AlgorithmParticleSwarm, AlgorithmAnnealing,
		AlgorithmAntColony, AlgorithmLayered, AlgorithmEnsemble:
		return k, true
	default:
		return "", false
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Task is a unit of work owned exclusively by the hub from enqueue to
// completion.
type Task struct {
	ID          string        `json:"id"`
	Problem     *Problem      `json:"problem"`
	Algorithm   AlgorithmKind `json:"algorithm"`
	Priority    Priority      `json:"priority"`
	SubmittedAt time.Time     `json:"submittedAt"`
	// EstimatedDuration is advisory scheduling telemetry, not a limit.
	EstimatedDuration time.Duration `json:"estimatedDuration"`
}

// TaskStatus is the hub-visible lifecycle state of a task.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	// StatusNotFound is reported for unknown task ids and for results
	// already evicted from the cache.
	StatusNotFound TaskStatus = "not_found"
)

// Diagnostics carries per-run solver telemetry attached to a result.
type Diagnostics struct {
	Iterations         int       `json:"iterations"`
	ConvergenceHistory []float64 `json:"convergenceHistory,omitempty"`
	Diversity          float64   `json:"diversity"`
	// Advantage estimates how much better the solver's score is than the
	// classical baseline for the same problem. Diagnostic only.
	Advantage float64 `json:"advantage"`
}

// Result is the terminal output of a task. It is immutable once produced;
// the hub caches it by task id and hands the same instance to every poll.
type Result struct {
	TaskID        string        `json:"taskId"`
	Algorithm     AlgorithmKind `json:"algorithm"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	Solution      []float64     `json:"solution,omitempty"`
	Score         float64       `json:"score"`
	Confidence    float64       `json:"confidence"`
	ExecutionTime time.Duration `json:"-"`
	ExecutionMs   int64         `json:"executionTimeMs"`
	FallbackUsed  bool          `json:"fallbackUsed"`
	CacheHit      bool          `json:"cacheHit"`
	Diagnostics   Diagnostics   `json:"diagnostics"`
}

// Outcome is a single solver run's output, before the hub wraps it into a
// Result. Solution is the decoded vector; Quality is the solver-specific
// weighting term used by the ensemble combiner.
type Outcome struct {
	Solution           []float64
	Score              float64
	Confidence         float64
	Quality            float64
	Iterations         int
	ConvergenceHistory []float64
	Diversity          float64
}
