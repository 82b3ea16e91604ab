// Package genetic implements the genetic-algorithm solver: tournament
// selection, single-point crossover, adaptive per-gene mutation, elitism with
// fitness-proportional refill, and diversity injection against premature
// convergence.
package genetic

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

const (
	mutationFloor = 0.01
	mutationCeil  = 0.50
	// stagnationWindow is how many generations without improvement trigger
	// a mutation-rate increase.
	stagnationWindow = 5
	// injectionFraction of non-elite individuals re-randomized when
	// diversity drops below the floor.
	injectionFraction = 0.25
)

// individual is one population member. auxiliary keeps per-gene mutation
// momentum so consecutive mutations of the same gene drift rather than
// jitter.
type individual struct {
	chromosome    []float64
	fitness       float64
	evaluated     bool
	auxiliary     []float64
	selectionProb float64
}

// Solver runs the genetic algorithm over the [0,1]^n genome space.
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
	return optimization.AlgorithmGenetic
}

func (s *Solver) Solve(ctx context.Context, problem *optimization.Problem, eval optimization.Evaluator, params optimization.Params) (*optimization.Outcome, error) {
	n := problem.VariableCount
	popSize := params.PopulationSize
	if popSize < 2 {
		popSize = 50
	}
	maxGen := params.MaxIterations
	if maxGen <= 0 {
		maxGen = 100
	}
	tournament := params.TournamentSize
	if tournament <= 0 {
		tournament = 3
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

	directed := func(genome []float64) float64 {
		return optimization.DirectedScore(problem.Direction, eval.Score(eval.Decode(genome)))
	}

	pop := make([]*individual, popSize)
	for i := range pop {
		ind := &individual{
			chromosome: make([]float64, n),
			auxiliary:  make([]float64, n),
		}
		for g := range ind.chromosome {
			ind.chromosome[g] = rng.Float64()
		}
		pop[i] = ind
	}

	mutationRate := params.MutationRate
	if mutationRate <= 0 {
		mutationRate = 0.10
	}
	crossoverRate := params.CrossoverRate
	if crossoverRate <= 0 {
		crossoverRate = 0.80
	}
	eliteCount := int(params.ElitismRate * float64(popSize))
	if eliteCount < 1 {
		eliteCount = 1
	}

	bestFitness := math.Inf(-1)
	bestGenome := make([]float64, n)
	history := make([]float64, 0, maxGen)
	noImprove := 0
	diversity := 0.0
	gen := 0

	for ; gen < maxGen; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, optimization.WrapError(err, optimization.KindTimeout, "genetic.Solve", "generation loop interrupted")
		}

		improved := false
		for _, ind := range pop {
			if !ind.evaluated {
				ind.fitness = directed(ind.chromosome)
				ind.evaluated = true
			}
			if ind.fitness > bestFitness {
				bestFitness = ind.fitness
				copy(bestGenome, ind.chromosome)
				improved = true
			}
		}
		history = append(history, bestFitness)

		if improved {
			noImprove = 0
		} else {
			noImprove++
		}
		mutationRate = adaptMutation(mutationRate, noImprove)

		if optimization.Converged(history, window, params.ConvergenceThreshold) {
			gen++
			break
		}

		offspring := s.breed(pop, rng, tournament, crossoverRate, mutationRate)
		for _, child := range offspring {
			child.fitness = directed(child.chromosome)
			child.evaluated = true
		}
		pop = nextGeneration(pop, offspring, popSize, eliteCount, rng)

		diversity = meanPairwiseDistance(pop)
		if diversity < params.DiversityFloor {
			s.inject(pop, eliteCount, rng)
		}
	}

	solution := eval.Decode(bestGenome)
	stability := optimization.TailStability(history, window)
	return &optimization.Outcome{
		Solution:           solution,
		Score:              eval.Score(solution),
		Confidence:         optimization.Clamp01(0.5 + 0.5*stability),
		Quality:            optimization.Clamp01(0.6*stability + 0.4*(1-(mutationRate-mutationFloor)/(mutationCeil-mutationFloor))),
		Iterations:         gen,
		ConvergenceHistory: history,
		Diversity:          diversity,
	}, nil
}

// adaptMutation widens the mutation rate by 10% once a stagnation streak
// reaches the window, and tightens it by 10% on every other generation, both
// bounded to [mutationFloor, mutationCeil].
func adaptMutation(rate float64, noImprove int) float64 {
	if noImprove >= stagnationWindow {
		return math.Min(mutationCeil, rate*1.1)
	}
	return math.Max(mutationFloor, rate*0.9)
}

// breed produces popSize offspring via tournament selection, single-point
// crossover and per-gene mutation.
func (s *Solver) breed(pop []*individual, rng *rand.Rand, tournament int, crossoverRate, mutationRate float64) []*individual {
	n := len(pop[0].chromosome)
	offspring := make([]*individual, 0, len(pop))
	for len(offspring) < len(pop) {
		p1 := tournamentSelect(pop, tournament, rng)
		p2 := tournamentSelect(pop, tournament, rng)

		c1 := &individual{chromosome: make([]float64, n), auxiliary: make([]float64, n)}
		c2 := &individual{chromosome: make([]float64, n), auxiliary: make([]float64, n)}
		if rng.Float64() < crossoverRate && n > 1 {
			point := 1 + rng.Intn(n-1)
			copy(c1.chromosome[:point], p1.chromosome[:point])
			copy(c1.chromosome[point:], p2.chromosome[point:])
			copy(c2.chromosome[:point], p2.chromosome[:point])
			copy(c2.chromosome[point:], p1.chromosome[point:])
		} else {
			copy(c1.chromosome, p1.chromosome)
			copy(c2.chromosome, p2.chromosome)
		}
		copy(c1.auxiliary, p1.auxiliary)
		copy(c2.auxiliary, p2.auxiliary)

		mutate(c1, mutationRate, rng)
		mutate(c2, mutationRate, rng)

		offspring = append(offspring, c1)
		if len(offspring) < len(pop) {
			offspring = append(offspring, c2)
		}
	}
	return offspring
}

// tournamentSelect picks the fittest of k uniformly sampled individuals.
func tournamentSelect(pop []*individual, k int, rng *rand.Rand) *individual {
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < k; i++ {
		cand := pop[rng.Intn(len(pop))]
		if cand.fitness > best.fitness {
			best = cand
		}
	}
	return best
}

// mutate perturbs each gene with probability rate, blending fresh gaussian
// noise with the gene's auxiliary momentum and clamping back into [0,1].
func mutate(ind *individual, rate float64, rng *rand.Rand) {
	for g := range ind.chromosome {
		if rng.Float64() >= rate {
			continue
		}
		noise := 0.5*ind.auxiliary[g] + 0.1*rng.NormFloat64()
		ind.auxiliary[g] = noise
		ind.chromosome[g] = optimization.Clamp01(ind.chromosome[g] + noise)
	}
}

// nextGeneration merges parents and offspring, carries the elite slice
// unconditionally and fills the rest by fitness-proportional sampling.
// Population size is invariant across generations.
func nextGeneration(parents, offspring []*individual, popSize, eliteCount int, rng *rand.Rand) []*individual {
	merged := make([]*individual, 0, len(parents)+len(offspring))
	merged = append(merged, parents...)
	merged = append(merged, offspring...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].fitness > merged[j].fitness })

	next := make([]*individual, 0, popSize)
	next = append(next, merged[:eliteCount]...)

	rest := merged[eliteCount:]
	minFit := rest[len(rest)-1].fitness
	total := 0.0
	for _, ind := range rest {
		ind.selectionProb = ind.fitness - minFit + 1e-12
		total += ind.selectionProb
	}
	for _, ind := range rest {
		ind.selectionProb /= total
	}
	for len(next) < popSize {
		r := rng.Float64()
		acc := 0.0
		pick := rest[len(rest)-1]
		for _, ind := range rest {
			acc += ind.selectionProb
			if r <= acc {
				pick = ind
				break
			}
		}
		next = append(next, pick)
	}
	return next
}

// inject re-randomizes a fraction of the non-elite population.
func (s *Solver) inject(pop []*individual, eliteCount int, rng *rand.Rand) {
	count := int(injectionFraction * float64(len(pop)))
	for i := 0; i < count; i++ {
		idx := eliteCount + rng.Intn(len(pop)-eliteCount)
		fresh := &individual{
			chromosome: make([]float64, len(pop[idx].chromosome)),
			auxiliary:  make([]float64, len(pop[idx].auxiliary)),
		}
		for g := range fresh.chromosome {
			fresh.chromosome[g] = rng.Float64()
		}
		pop[idx] = fresh
	}
	s.log.Debug("diversity injection", zap.Int("individuals", count))
}

// meanPairwiseDistance is the population diversity measure.
func meanPairwiseDistance(pop []*individual) float64 {
	if len(pop) < 2 {
		return 0
	}
	total := 0.0
	pairs := 0
	for i := 0; i < len(pop); i++ {
		for j := i + 1; j < len(pop); j++ {
			total += floats.Distance(pop[i].chromosome, pop[j].chromosome, 2)
			pairs++
		}
	}
	return total / float64(pairs)
}
