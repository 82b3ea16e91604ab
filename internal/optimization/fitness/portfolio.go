package fitness

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/quantadev/optimhub/internal/optimization"
)

// portfolioEvaluator scores asset allocations with a Sharpe-like ratio:
// (expected portfolio return - risk free rate) / portfolio volatility.
//
// Parameters:
//
//	expectedReturns  per-asset expected return, required, len == VariableCount
//	volatility       per-asset volatility, optional (default 0.1 each)
//	covariance       row-major n*n covariance matrix, optional; when present
//	                 it replaces the independent-asset volatility model
//	riskFreeRate     optional, default 0.02
type portfolioEvaluator struct {
	problem  *optimization.Problem
	returns  []float64
	vol      []float64
	cov      *mat.SymDense
	riskFree float64
}

func newPortfolio(p *optimization.Problem) (*portfolioEvaluator, error) {
	n := p.VariableCount
	returns := floatSlice(p.Parameters, "expectedReturns")
	if len(returns) != n {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newPortfolio",
			"expectedReturns must have %d entries, got %d", n, len(returns))
	}
	vol := floatSlice(p.Parameters, "volatility")
	if vol == nil {
		vol = make([]float64, n)
		for i := range vol {
			vol[i] = 0.1
		}
	} else if len(vol) != n {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newPortfolio",
			"volatility must have %d entries, got %d", n, len(vol))
	}

	ev := &portfolioEvaluator{
		problem:  p,
		returns:  returns,
		vol:      vol,
		riskFree: floatParam(p.Parameters, "riskFreeRate", 0.02),
	}
	if cov := floatSlice(p.Parameters, "covariance"); cov != nil {
		if len(cov) != n*n {
			return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newPortfolio",
				"covariance must have %d entries, got %d", n*n, len(cov))
		}
		sym := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				sym.SetSym(i, j, cov[i*n+j])
			}
		}
		ev.cov = sym
	}
	return ev, nil
}

// Decode normalizes the genome into portfolio weights summing to one. A
// degenerate all-zero genome decodes to the equal-weight portfolio.
func (e *portfolioEvaluator) Decode(genome []float64) []float64 {
	w := clampCopy(genome)
	total := floats.Sum(w)
	if total <= 0 {
		for i := range w {
			w[i] = 1 / float64(len(w))
		}
		return w
	}
	floats.Scale(1/total, w)
	return w
}

func (e *portfolioEvaluator) Score(weights []float64) float64 {
	ret := floats.Dot(weights, e.returns)
	risk := e.volatilityOf(weights)
	if risk < 1e-9 {
		risk = 1e-9
	}
	sharpe := (ret - e.riskFree) / risk
	return sharpe - constraintPenalty(e.problem, weights)
}

func (e *portfolioEvaluator) volatilityOf(weights []float64) float64 {
	if e.cov != nil {
		w := mat.NewVecDense(len(weights), weights)
		var sw mat.VecDense
		sw.MulVec(e.cov, w)
		return math.Sqrt(math.Abs(mat.Dot(w, &sw)))
	}
	variance := 0.0
	for i, w := range weights {
		variance += (w * e.vol[i]) * (w * e.vol[i])
	}
	return math.Sqrt(variance)
}
