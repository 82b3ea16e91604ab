package optimization

import "time"

// Params bundles the tunables of every solver in the library. Each solver
// reads only its own fields; zero values are replaced by that solver's
// defaults. A single struct keeps the hub's task pipeline free of
// per-algorithm plumbing.
type Params struct {
	// Seed drives the solver's private rand.Rand. Zero means "derive from
	// the clock"; tests fix it to make trajectories reproducible.
	Seed          int64
	MaxIterations int

	// Genetic algorithm.
	PopulationSize       int
	CrossoverRate        float64
	MutationRate         float64
	ElitismRate          float64
	TournamentSize       int
	ConvergenceWindow    int
	ConvergenceThreshold float64
	DiversityFloor       float64

	// Particle swarm.
	SwarmSize int
	Inertia   float64
	Cognitive float64
	Social    float64
	Momentum  float64

	// Simulated annealing.
	InitialTemperature float64
	FinalTemperature   float64
	CoolingRate        float64
	NeighborsPerTemp   int

	// Ant colony.
	Ants           int
	Bins           int
	Alpha          float64
	Beta           float64
	Evaporation    float64
	InitialTau     float64
	DepositScale   float64

	// Layered heuristic.
	Layers    int
	BatchSize int
}

// DefaultParams returns the engine-wide solver defaults. Per-problem
// overrides come from the problem's opaque parameter map, see
// ParamsFromProblem.
func DefaultParams() Params {
	return Params{
		MaxIterations:        100,
		PopulationSize:       50,
		CrossoverRate:        0.80,
		MutationRate:         0.10,
		ElitismRate:          0.10,
		TournamentSize:       3,
		ConvergenceWindow:    10,
		ConvergenceThreshold: 1e-6,
		DiversityFloor:       0.05,
		SwarmSize:            30,
		Inertia:              0.72,
		Cognitive:            1.49,
		Social:               1.49,
		Momentum:             0.90,
		InitialTemperature:   100,
		FinalTemperature:     1e-3,
		CoolingRate:          0.95,
		NeighborsPerTemp:     5,
		Ants:                 20,
		Bins:                 10,
		Alpha:                1.0,
		Beta:                 2.0,
		Evaporation:          0.10,
		InitialTau:           1.0,
		DepositScale:         1.0,
		Layers:               3,
		BatchSize:            20,
	}
}

// ParamsFromProblem overlays per-problem tuning overrides from the opaque
// parameter map onto the supplied defaults. Unknown keys are ignored; the
// map belongs to the evaluator as much as to the solvers.
func ParamsFromProblem(p *Problem, defaults Params) Params {
	out := defaults
	if p == nil || p.Parameters == nil {
		return out
	}
	if v, ok := paramInt64(p.Parameters, "seed"); ok {
		out.Seed = v
	}
	if v, ok := paramInt(p.Parameters, "maxIterations"); ok {
		out.MaxIterations = v
	}
	if v, ok := paramInt(p.Parameters, "generations"); ok {
		out.MaxIterations = v
	}
	if v, ok := paramInt(p.Parameters, "populationSize"); ok {
		out.PopulationSize = v
	}
	if v, ok := paramFloat(p.Parameters, "crossoverRate"); ok {
		out.CrossoverRate = v
	}
	if v, ok := paramFloat(p.Parameters, "mutationRate"); ok {
		out.MutationRate = v
	}
	if v, ok := paramFloat(p.Parameters, "elitismRate"); ok {
		out.ElitismRate = v
	}
	if v, ok := paramFloat(p.Parameters, "convergenceThreshold"); ok {
		out.ConvergenceThreshold = v
	}
	if v, ok := paramFloat(p.Parameters, "coolingRate"); ok {
		out.CoolingRate = v
	}
	if v, ok := paramInt(p.Parameters, "ants"); ok {
		out.Ants = v
	}
	if v, ok := paramInt(p.Parameters, "layers"); ok {
		out.Layers = v
	}
	return out
}

func paramFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func paramInt(m map[string]any, key string) (int, bool) {
	v, ok := paramFloat(m, key)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func paramInt64(m map[string]any, key string) (int64, bool) {
	v, ok := paramFloat(m, key)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// EstimateDuration is a coarse upper-bound estimate used for scheduling
// telemetry only; the real cap is the hub's execution timeout.
func EstimateDuration(kind AlgorithmKind, p Params) time.Duration {
	iters := p.MaxIterations
	if iters <= 0 {
		iters = 100
	}
	perIter := time.Millisecond
	if kind == AlgorithmEnsemble {
		perIter = 5 * time.Millisecond
	}
	return time.Duration(iters) * perIter
}
