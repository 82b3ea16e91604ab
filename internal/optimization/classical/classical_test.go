package classical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantadev/optimhub/internal/optimization"
	"github.com/quantadev/optimhub/internal/optimization/fitness"
)

func evaluatorFor(t *testing.T, p *optimization.Problem) optimization.Evaluator {
	t.Helper()
	ev, err := fitness.New(p)
	require.NoError(t, err)
	return ev
}

func TestPortfolioBaselineIsEqualWeight(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.PortfolioAllocation,
		VariableCount: 4,
		Direction:     optimization.Maximize,
		Parameters: map[string]any{
			"expectedReturns": []float64{0.1, 0.1, 0.1, 0.1},
		},
	}
	out := Solve(p, evaluatorFor(t, p))

	require.Len(t, out.Solution, 4)
	for _, w := range out.Solution {
		assert.InDelta(t, 0.25, w, 1e-9)
	}
	assert.Equal(t, fallbackConfidence, out.Confidence)
	assert.Equal(t, fallbackConfidence, out.Quality)
	assert.Equal(t, 1, out.Iterations)
}

func TestClusteringBaselineIsEvenlySpaced(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.Clustering,
		VariableCount: 4,
		Direction:     optimization.Maximize,
		Parameters: map[string]any{
			"points":     []float64{0.1, 0.1, 0.9, 0.9},
			"dimensions": 2,
		},
	}
	out := Solve(p, evaluatorFor(t, p))

	require.Len(t, out.Solution, 4)
	assert.InDelta(t, 0.125, out.Solution[0], 1e-9)
	assert.InDelta(t, 0.375, out.Solution[1], 1e-9)
	assert.InDelta(t, 0.625, out.Solution[2], 1e-9)
	assert.InDelta(t, 0.875, out.Solution[3], 1e-9)
}

func TestDefaultBaselineIsMidpoint(t *testing.T) {
	for _, kind := range []optimization.ProblemKind{optimization.RiskScoring, optimization.Generic} {
		p := &optimization.Problem{
			Kind:          kind,
			VariableCount: 3,
			Direction:     optimization.Minimize,
		}
		genome := baseline(p)
		require.Len(t, genome, 3)
		for _, x := range genome {
			assert.Equal(t, 0.5, x)
		}
	}
}

func TestSolveIsDeterministic(t *testing.T) {
	p := &optimization.Problem{
		Kind:          optimization.Generic,
		VariableCount: 5,
		Direction:     optimization.Maximize,
	}
	ev := evaluatorFor(t, p)
	a := Solve(p, ev)
	b := Solve(p, ev)
	assert.Equal(t, a.Solution, b.Solution)
	assert.Equal(t, a.Score, b.Score)
}
