package fitness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantadev/optimhub/internal/optimization"
)

func portfolioProblem(returns []float64) *optimization.Problem {
	return &optimization.Problem{
		Kind:          optimization.PortfolioAllocation,
		VariableCount: len(returns),
		Direction:     optimization.Maximize,
		Parameters: map[string]any{
			"expectedReturns": returns,
		},
	}
}

func TestPortfolioDecodeNormalizes(t *testing.T) {
	ev, err := New(portfolioProblem([]float64{0.10, 0.15, 0.05}))
	require.NoError(t, err)

	tests := []struct {
		name   string
		genome []float64
	}{
		{"uniform", []float64{0.5, 0.5, 0.5}},
		{"skewed", []float64{0.9, 0.05, 0.05}},
		{"out of range", []float64{1.5, -0.3, 0.2}},
		{"degenerate zeros", []float64{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ev.Decode(tt.genome)
			sum := 0.0
			for _, v := range w {
				require.GreaterOrEqual(t, v, 0.0)
				sum += math.Abs(v)
			}
			assert.InDelta(t, 1.0, sum, 1e-6)
		})
	}
}

func TestPortfolioScorePrefersHigherReturn(t *testing.T) {
	ev, err := New(portfolioProblem([]float64{0.10, 0.15, 0.05}))
	require.NoError(t, err)

	tangencyLike := ev.Decode([]float64{0.33, 0.54, 0.13})
	equal := ev.Decode([]float64{1, 1, 1})
	assert.Greater(t, ev.Score(tangencyLike), ev.Score(equal))
}

func TestPortfolioRejectsShapeMismatch(t *testing.T) {
	p := portfolioProblem([]float64{0.1, 0.2})
	p.VariableCount = 3
	_, err := New(p)
	require.Error(t, err)
	assert.Equal(t, optimization.KindInvalidProblem, optimization.KindOf(err))
}

func TestPortfolioCovarianceModel(t *testing.T) {
	p := portfolioProblem([]float64{0.10, 0.12})
	p.VariableCount = 2
	p.Parameters["covariance"] = []float64{
		0.04, 0.01,
		0.01, 0.04,
	}
	ev, err := New(p)
	require.NoError(t, err)

	score := ev.Score(ev.Decode([]float64{0.5, 0.5}))
	assert.False(t, math.IsNaN(score))
	assert.False(t, math.IsInf(score, 0))
}

func TestClusteringCohesion(t *testing.T) {
	// two obvious clusters around 0.2 and 0.8
	p := &optimization.Problem{
		Kind:          optimization.Clustering,
		VariableCount: 2, // two 1-d centroids
		Direction:     optimization.Maximize,
		Parameters: map[string]any{
			"dimensions": 1,
			"points":     []float64{0.18, 0.2, 0.22, 0.78, 0.8, 0.82},
		},
	}
	ev, err := New(p)
	require.NoError(t, err)

	good := ev.Score([]float64{0.2, 0.8})
	bad := ev.Score([]float64{0.5, 0.5})
	assert.Greater(t, good, bad)
}

func TestClusteringRejectsBadShapes(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.Clustering,
		VariableCount: 3,
		Parameters:    map[string]any{"dimensions": 2, "points": []float64{0.1, 0.2}},
	}
	_, err := New(p)
	assert.Error(t, err, "variableCount not a multiple of dimensions")
}

func TestRiskPrefersTargetExposures(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.RiskScoring,
		VariableCount: 3,
		Direction:     optimization.Maximize,
		Parameters: map[string]any{
			"targetExposures": []float64{0.3, 0.3, 0.3},
		},
	}
	ev, err := New(p)
	require.NoError(t, err)

	onTarget := ev.Score([]float64{0.3, 0.3, 0.3})
	offTarget := ev.Score([]float64{0.9, 0.1, 0.5})
	assert.Greater(t, onTarget, offTarget)
}

func TestGenericTargetSurrogate(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.Generic,
		VariableCount: 2,
		Direction:     optimization.Maximize,
		Parameters:    map[string]any{"target": []float64{0.25, 0.75}},
	}
	ev, err := New(p)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, ev.Score([]float64{0.25, 0.75}), 1e-12)
	assert.Less(t, ev.Score([]float64{0.9, 0.1}), 0.0)
}

func TestNewWithObjective(t *testing.T) {
	p := &optimization.Problem{Kind: optimization.Generic, VariableCount: 1}
	ev := NewWithObjective(p, func(x []float64) float64 { return 10 - x[0] })
	assert.InDelta(t, 9.5, ev.Score([]float64{0.5}), 1e-12)
}

func TestMemoization(t *testing.T) {
	calls := 0
	inner := &countingEvaluator{fn: func([]float64) float64 { calls++; return 1 }}
	m := Memoize(inner)

	x := []float64{0.1, 0.2}
	m.Score(x)
	m.Score(x)
	m.Score([]float64{0.1, 0.2})
	assert.Equal(t, 1, calls, "identical solutions evaluate once")
	assert.Equal(t, 2, m.Hits())
	assert.Equal(t, 1, m.Misses())

	// below quantization tolerance maps to the same signature
	m.Score([]float64{0.1 + 1e-12, 0.2})
	assert.Equal(t, 1, calls)

	m.Score([]float64{0.3, 0.2})
	assert.Equal(t, 2, calls)
}

func TestConstraintPenalty(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.Generic,
		VariableCount: 2,
		Direction:     optimization.Maximize,
		Parameters:    map[string]any{"target": []float64{0.5, 0.5}},
		Constraints: []optimization.Constraint{
			{Kind: optimization.ConstraintUpperBound, Expression: "sum", Bound: 0.8, Weight: 2},
		},
	}
	ev, err := New(p)
	require.NoError(t, err)

	within := ev.Score([]float64{0.4, 0.4})
	violating := ev.Score([]float64{0.5, 0.5})
	// the on-target point violates sum<=0.8 and must be penalized below
	// a slightly off-target feasible point
	assert.Greater(t, within, violating)
}

type countingEvaluator struct {
	fn func([]float64) float64
}

func (c *countingEvaluator) Score(x []float64) float64    { return c.fn(x) }
func (c *countingEvaluator) Decode(g []float64) []float64 { return clampCopy(g) }
