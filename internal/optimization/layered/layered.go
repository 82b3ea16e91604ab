// Package layered implements the layered heuristic solver: each candidate is
// pushed through p alternating phase/mix layers, where phase layers pull
// toward the incumbent best with increasing strength and mix layers add
// random exploration with decreasing strength. The layering mimics a
// QAOA-style schedule but is a purely classical randomized search.
package layered

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/quantadev/optimhub/internal/optimization"
)

// Solver runs the layered heuristic over [0,1]^n.
type Solver struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Solver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Solver{log: log}
}

func (s *Solver) Kind() optimization.AlgorithmKind {
	return optimization.AlgorithmLayered
}

func (s *Solver) Solve(ctx context.Context, problem *optimization.Problem, eval optimization.Evaluator, params optimization.Params) (*optimization.Outcome, error) {
	n := problem.VariableCount
	layers := params.Layers
	if layers <= 0 {
		layers = 3
	}
	batch := params.BatchSize
	if batch < 2 {
		batch = 20
	}
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	window := params.ConvergenceWindow
	if window <= 0 {
		window = 10
	}

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	directed := func(x []float64) float64 {
		return optimization.DirectedScore(problem.Direction, eval.Score(eval.Decode(x)))
	}

	pool := make([]*candidate, batch)
	best := make([]float64, n)
	bestFitness := math.Inf(-1)
	for i := range pool {
		c := &candidate{genome: make([]float64, n)}
		for d := range c.genome {
			c.genome[d] = rng.Float64()
		}
		c.fitness = directed(c.genome)
		if c.fitness > bestFitness {
			bestFitness = c.fitness
			copy(best, c.genome)
		}
		pool[i] = c
	}

	history := make([]float64, 0, maxIter)
	iter := 0
	for ; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, optimization.WrapError(err, optimization.KindTimeout, "layered.Solve", "iteration loop interrupted")
		}

		// exploration anneals away as iterations accumulate
		anneal := 1 - float64(iter)/float64(maxIter)

		for _, c := range pool {
			for l := 0; l < layers; l++ {
				// phase layer: strengthening pull toward the incumbent
				gamma := 0.3 * float64(l+1) / float64(layers)
				for d := range c.genome {
					c.genome[d] += gamma * (best[d] - c.genome[d])
				}
				// mix layer: weakening random rotation
				beta := 0.4 * anneal * (1 - float64(l)/float64(layers))
				for d := range c.genome {
					c.genome[d] = optimization.Clamp01(c.genome[d] + beta*(rng.Float64()*2-1))
				}
			}
			c.fitness = directed(c.genome)
			if c.fitness > bestFitness {
				bestFitness = c.fitness
				copy(best, c.genome)
			}
		}

		// keep the top half, reseed the bottom half near survivors
		sort.Slice(pool, func(i, j int) bool { return pool[i].fitness > pool[j].fitness })
		half := batch / 2
		for i := half; i < batch; i++ {
			src := pool[i-half]
			for d := range pool[i].genome {
				pool[i].genome[d] = optimization.Clamp01(src.genome[d] + 0.15*anneal*rng.NormFloat64())
			}
			pool[i].fitness = directed(pool[i].genome)
			if pool[i].fitness > bestFitness {
				bestFitness = pool[i].fitness
				copy(best, pool[i].genome)
			}
		}

		history = append(history, bestFitness)
		if optimization.Converged(history, window, params.ConvergenceThreshold) {
			iter++
			break
		}
	}

	solution := eval.Decode(best)
	stability := optimization.TailStability(history, window)
	return &optimization.Outcome{
		Solution:           solution,
		Score:              eval.Score(solution),
		Confidence:         optimization.Clamp01(0.4 + 0.6*stability),
		Quality:            optimization.Clamp01(stability * float64(min(layers, 5)) / 5),
		Iterations:         iter,
		ConvergenceHistory: history,
		Diversity:          poolSpread(pool),
	}, nil
}

type candidate struct {
	genome  []float64
	fitness float64
}

// poolSpread is the mean pairwise distance between surviving candidates.
func poolSpread(pool []*candidate) float64 {
	if len(pool) < 2 {
		return 0
	}
	total := 0.0
	pairs := 0
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			total += floats.Distance(pool[i].genome, pool[j].genome, 2)
			pairs++
		}
	}
	return total / float64(pairs)
}
