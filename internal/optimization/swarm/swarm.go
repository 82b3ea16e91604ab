// Package swarm implements the particle-swarm solver: inertia-weighted
// velocity updates with cognitive and social pulls, momentum smoothing, and
// reflecting boundaries on the unit hypercube.
package swarm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/quantadev/optimhub/internal/optimization"
)

// particle is one swarm member. momentum is the exponentially smoothed
// velocity used to damp oscillation near the global best.
type particle struct {
	position     []float64
	velocity     []float64
	momentum     []float64
	bestPosition []float64
	bestFitness  float64
}

// Solver runs particle-swarm optimization over [0,1]^n.
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
	return optimization.AlgorithmParticleSwarm
}

func (s *Solver) Solve(ctx context.Context, problem *optimization.Problem, eval optimization.Evaluator, params optimization.Params) (*optimization.Outcome, error) {
	n := problem.VariableCount
	size := params.SwarmSize
	if size < 2 {
		size = 30
	}
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	window := params.ConvergenceWindow
	if window <= 0 {
		window = 10
	}
	inertia := orDefault(params.Inertia, 0.72)
	cognitive := orDefault(params.Cognitive, 1.49)
	social := orDefault(params.Social, 1.49)
	momentum := orDefault(params.Momentum, 0.90)

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	directed := func(pos []float64) float64 {
		return optimization.DirectedScore(problem.Direction, eval.Score(eval.Decode(pos)))
	}

	swarm := make([]*particle, size)
	globalBest := make([]float64, n)
	globalBestFitness := math.Inf(-1)
	for i := range swarm {
		p := &particle{
			position:     make([]float64, n),
			velocity:     make([]float64, n),
			momentum:     make([]float64, n),
			bestPosition: make([]float64, n),
		}
		for d := 0; d < n; d++ {
			p.position[d] = rng.Float64()
			p.velocity[d] = 0.1 * (rng.Float64()*2 - 1)
		}
		p.bestFitness = directed(p.position)
		copy(p.bestPosition, p.position)
		if p.bestFitness > globalBestFitness {
			globalBestFitness = p.bestFitness
			copy(globalBest, p.position)
		}
		swarm[i] = p
	}

	history := make([]float64, 0, maxIter)
	iter := 0
	for ; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, optimization.WrapError(err, optimization.KindTimeout, "swarm.Solve", "iteration loop interrupted")
		}

		for _, p := range swarm {
			for d := 0; d < n; d++ {
				v := inertia*p.velocity[d] +
					cognitive*rng.Float64()*(p.bestPosition[d]-p.position[d]) +
					social*rng.Float64()*(globalBest[d]-p.position[d])
				// momentum smoothing damps the raw velocity update
				p.momentum[d] = momentum*p.momentum[d] + (1-momentum)*v
				p.velocity[d] = p.momentum[d]
				p.position[d] += p.velocity[d]

				// reflect off the unit-cube walls and invert the
				// offending velocity component
				if p.position[d] < 0 {
					p.position[d] = -p.position[d]
					p.velocity[d] = -p.velocity[d]
				}
				if p.position[d] > 1 {
					p.position[d] = 2 - p.position[d]
					p.velocity[d] = -p.velocity[d]
				}
				p.position[d] = optimization.Clamp01(p.position[d])
			}

			fit := directed(p.position)
			if fit > p.bestFitness {
				p.bestFitness = fit
				copy(p.bestPosition, p.position)
			}
			if fit > globalBestFitness {
				globalBestFitness = fit
				copy(globalBest, p.position)
			}
		}

		history = append(history, globalBestFitness)
		if optimization.Converged(history, window, params.ConvergenceThreshold) {
			iter++
			break
		}
	}

	solution := eval.Decode(globalBest)
	stability := optimization.TailStability(history, window)
	return &optimization.Outcome{
		Solution:           solution,
		Score:              eval.Score(solution),
		Confidence:         optimization.Clamp01(0.5 + 0.5*stability),
		Quality:            optimization.Clamp01(0.5*stability + 0.5*consistency(swarm)),
		Iterations:         iter,
		ConvergenceHistory: history,
		Diversity:          swarmDiversity(swarm),
	}, nil
}

func orDefault(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

// consistency measures how tightly the personal bests agree: low spread of
// personal-best fitness means the swarm converged to one basin.
func consistency(swarm []*particle) float64 {
	fits := make([]float64, len(swarm))
	for i, p := range swarm {
		fits[i] = p.bestFitness
	}
	sd := stat.StdDev(fits, nil)
	mean := stat.Mean(fits, nil)
	scale := math.Abs(mean)
	if scale < 1e-12 {
		scale = 1e-12
	}
	return optimization.Clamp01(1 - sd/scale)
}

// swarmDiversity is the mean pairwise distance between particle positions.
func swarmDiversity(swarm []*particle) float64 {
	if len(swarm) < 2 {
		return 0
	}
	total := 0.0
	pairs := 0
	for i := 0; i < len(swarm); i++ {
		for j := i + 1; j < len(swarm); j++ {
			total += floats.Distance(swarm[i].position, swarm[j].position, 2)
			pairs++
		}
	}
	return total / float64(pairs)
}
