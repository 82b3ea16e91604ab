// Package fitness provides the pluggable scoring functions for each problem
// family. An evaluator is created per task and memoizes scores by solution
// signature, since metaheuristics revisit near-identical candidates often.
package fitness

import (
	"hash/fnv"
	"math"

	"github.com/quantadev/optimhub/internal/optimization"
)

// New builds the evaluator for a problem's family. The returned evaluator is
// already memoized. Generic problems with no registered objective use a
// target-distance surrogate, which is enough for the engine's own contract;
// domain adapters supply real objectives through NewWithObjective.
func New(p *optimization.Problem) (optimization.Evaluator, error) {
	var inner optimization.Evaluator
	var err error
	switch p.Kind {
	case optimization.PortfolioAllocation:
		inner, err = newPortfolio(p)
	case optimization.Clustering:
		inner, err = newClustering(p)
	case optimization.RiskScoring:
		inner, err = newRisk(p)
	case optimization.Generic:
		inner = newGeneric(p)
	default:
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.New",
			"no evaluator for problem kind %q", p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return Memoize(inner), nil
}

// Objective is the numeric contract a domain adapter fulfils for generic
// problems: solution vector in, scalar score out.
type Objective func(solution []float64) float64

// NewWithObjective wraps a caller-supplied objective for a generic problem.
func NewWithObjective(p *optimization.Problem, fn Objective) optimization.Evaluator {
	return Memoize(&objectiveEvaluator{problem: p, fn: fn})
}

type objectiveEvaluator struct {
	problem *optimization.Problem
	fn      Objective
}

func (e *objectiveEvaluator) Score(solution []float64) float64 {
	return e.fn(solution) - constraintPenalty(e.problem, solution)
}

func (e *objectiveEvaluator) Decode(genome []float64) []float64 {
	return clampCopy(genome)
}

// Memoized wraps an evaluator with a score cache keyed by a quantized
// solution signature. Not safe for concurrent use; solver runs are
// single-goroutine by design.
type Memoized struct {
	inner  optimization.Evaluator
	scores map[uint64]float64
	hits   int
	misses int
}

// Memoize wraps an evaluator with signature-based score caching.
func Memoize(inner optimization.Evaluator) *Memoized {
	return &Memoized{inner: inner, scores: make(map[uint64]float64)}
}

func (m *Memoized) Score(solution []float64) float64 {
	key := signature(solution)
	if s, ok := m.scores[key]; ok {
		m.hits++
		return s
	}
	m.misses++
	s := m.inner.Score(solution)
	m.scores[key] = s
	return s
}

func (m *Memoized) Decode(genome []float64) []float64 {
	return m.inner.Decode(genome)
}

// Hits reports how many evaluations were served from the memo.
func (m *Memoized) Hits() int { return m.hits }

// Misses reports how many evaluations reached the underlying scorer.
func (m *Memoized) Misses() int { return m.misses }

// signature hashes a solution quantized to 1e-9, so float noise below the
// engine's tolerance maps to the same key.
func signature(solution []float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range solution {
		q := int64(math.Round(v * 1e9))
		for i := 0; i < 8; i++ {
			buf[i] = byte(q >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

// constraintPenalty folds the problem's soft constraints into a non-negative
// penalty. The engine interprets only aggregate expression ids; anything
// else belongs to the domain adapter and contributes nothing here.
func constraintPenalty(p *optimization.Problem, solution []float64) float64 {
	if p == nil || len(p.Constraints) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range p.Constraints {
		val, ok := aggregate(c.Expression, solution)
		if !ok {
			continue
		}
		var violation float64
		switch c.Kind {
		case optimization.ConstraintEquality:
			violation = math.Abs(val - c.Bound)
		case optimization.ConstraintUpperBound:
			violation = math.Max(0, val-c.Bound)
		case optimization.ConstraintLowerBound:
			violation = math.Max(0, c.Bound-val)
		}
		w := c.Weight
		if w == 0 {
			w = 1
		}
		total += w * violation
	}
	if p.Direction == optimization.Minimize {
		return -total
	}
	return total
}

func aggregate(expr string, solution []float64) (float64, bool) {
	if len(solution) == 0 {
		return 0, false
	}
	switch expr {
	case "sum":
		s := 0.0
		for _, v := range solution {
			s += v
		}
		return s, true
	case "mean":
		s := 0.0
		for _, v := range solution {
			s += v
		}
		return s / float64(len(solution)), true
	case "max":
		m := solution[0]
		for _, v := range solution[1:] {
			if v > m {
				m = v
			}
		}
		return m, true
	case "min":
		m := solution[0]
		for _, v := range solution[1:] {
			if v < m {
				m = v
			}
		}
		return m, true
	default:
		return 0, false
	}
}

func clampCopy(genome []float64) []float64 {
	out := make([]float64, len(genome))
	for i, v := range genome {
		out[i] = optimization.Clamp01(v)
	}
	return out
}

// floatSlice extracts a float vector from the opaque parameter map,
// tolerating the []any shape JSON decoding produces.
func floatSlice(params map[string]any, key string) []float64 {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]float64, 0, len(v))
		for _, e := range v {
			switch f := e.(type) {
			case float64:
				out = append(out, f)
			case int:
				out = append(out, float64(f))
			default:
				return nil
			}
		}
		return out
	default:
		return nil
	}
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	return int(floatParam(params, key, float64(fallback)))
}
