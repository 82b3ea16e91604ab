package optimization

import (
	"context"
	"math"
)

// Evaluator scores decoded solutions for one problem family. Implementations
// are created per task, so they may memoize freely without synchronization.
type Evaluator interface {
	// Score returns the raw objective value for a decoded solution.
	// Higher is better for MAX problems, lower for MIN.
	Score(solution []float64) float64

	// Decode maps a genome in [0,1]^n to the problem's solution space
	// (e.g. normalizing portfolio weights to sum to one). Decode must not
	// retain or mutate the genome.
	Decode(genome []float64) []float64
}

// Solver is a single metaheuristic algorithm. Implementations assume a
// well-formed problem; input validation happens at submit time and runtime
// faults are recovered by the hub, not by the solver.
type Solver interface {
	Kind() AlgorithmKind
	Solve(ctx context.Context, problem *Problem, eval Evaluator, params Params) (*Outcome, error)
}

// DirectedScore folds the objective direction into a maximization-oriented
// fitness value. Solvers always maximize the directed score.
func DirectedScore(d Direction, score float64) float64 {
	if d == Minimize {
		return -score
	}
	return score
}

// Clamp01 snaps a genome component back into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Converged reports whether the trailing window of a best-fitness trajectory
// has flattened out: the spread of the last window values is below tol.
// A trajectory shorter than the window never counts as converged.
func Converged(history []float64, window int, tol float64) bool {
	if window <= 0 || len(history) < window {
		return false
	}
	tail := history[len(history)-window:]
	lo, hi := tail[0], tail[0]
	for _, v := range tail[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi-lo < tol
}

// TailStability maps the flatness of the trailing convergence window to a
// [0,1] confidence term: 1 for a perfectly flat tail, approaching 0 as the
// tail keeps moving relative to its magnitude.
func TailStability(history []float64, window int) float64 {
	if len(history) < 2 {
		return 0
	}
	if window > len(history) {
		window = len(history)
	}
	tail := history[len(history)-window:]
	lo, hi := tail[0], tail[0]
	for _, v := range tail[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	if scale == 0 {
		return 1
	}
	s := 1 - (hi-lo)/scale
	if s < 0 {
		return 0
	}
	return s
}
