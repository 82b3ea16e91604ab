package fitness

import (
	"gonum.org/v1/gonum/floats"

	"github.com/quantadev/optimhub/internal/optimization"
)

// clusteringEvaluator scores centroid placements by cohesion: the negated
// mean distance from each data point to its nearest centroid, so tighter
// clusters score higher.
//
// Parameters:
//
//	points      row-major flattened data points, required
//	dimensions  point dimensionality, required; VariableCount must be a
//	            multiple of it (VariableCount / dimensions centroids)
type clusteringEvaluator struct {
	problem *optimization.Problem
	points  [][]float64
	dims    int
}

func newClustering(p *optimization.Problem) (*clusteringEvaluator, error) {
	dims := intParam(p.Parameters, "dimensions", 0)
	if dims <= 0 {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newClustering",
			"dimensions parameter must be positive")
	}
	if p.VariableCount%dims != 0 {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newClustering",
			"variableCount %d is not a multiple of dimensions %d", p.VariableCount, dims)
	}
	flat := floatSlice(p.Parameters, "points")
	if len(flat) == 0 || len(flat)%dims != 0 {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newClustering",
			"points must be a non-empty multiple of dimensions %d, got %d values", dims, len(flat))
	}
	points := make([][]float64, len(flat)/dims)
	for i := range points {
		points[i] = flat[i*dims : (i+1)*dims]
	}
	return &clusteringEvaluator{problem: p, points: points, dims: dims}, nil
}

func (e *clusteringEvaluator) Decode(genome []float64) []float64 {
	return clampCopy(genome)
}

func (e *clusteringEvaluator) Score(solution []float64) float64 {
	k := len(solution) / e.dims
	total := 0.0
	for _, pt := range e.points {
		nearest := floats.Distance(pt, solution[:e.dims], 2)
		for c := 1; c < k; c++ {
			d := floats.Distance(pt, solution[c*e.dims:(c+1)*e.dims], 2)
			if d < nearest {
				nearest = d
			}
		}
		total += nearest
	}
	cohesion := -total / float64(len(e.points))
	return cohesion - constraintPenalty(e.problem, solution)
}
