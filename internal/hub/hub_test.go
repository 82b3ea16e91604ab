package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantadev/optimhub/internal/optimization"
)

// scriptedSolver is a deterministic stand-in for the metaheuristics: it
// returns a fixed genome, records the order it saw tasks in, and can block
// on a gate or fail on demand.
type scriptedSolver struct {
	kind     optimization.AlgorithmKind
	genome   []float64
	failWith error
	waitCtx  bool

	gate    chan struct{}
	started chan struct{}

	mu    sync.Mutex
	order []string
}

func newScripted(genome []float64) *scriptedSolver {
	return &scriptedSolver{
		kind:    optimization.AlgorithmGenetic,
		genome:  genome,
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
}

func (s *scriptedSolver) Kind() optimization.AlgorithmKind { return s.kind }

func (s *scriptedSolver) Solve(ctx context.Context, p *optimization.Problem, eval optimization.Evaluator, _ optimization.Params) (*optimization.Outcome, error) {
	if marker, ok := p.Parameters["marker"].(string); ok {
		s.mu.Lock()
		s.order = append(s.order, marker)
		s.mu.Unlock()
	}
	if block, _ := p.Parameters["block"].(bool); block {
		s.started <- struct{}{}
		<-s.gate
	}
	if s.waitCtx {
		<-ctx.Done()
		return nil, optimization.WrapError(ctx.Err(), optimization.KindTimeout, "scriptedSolver.Solve", "run cancelled")
	}
	if s.failWith != nil {
		return nil, s.failWith
	}
	solution := eval.Decode(append([]float64(nil), s.genome...))
	score := eval.Score(solution)
	return &optimization.Outcome{
		Solution:           solution,
		Score:              score,
		Confidence:         0.9,
		Quality:            0.9,
		Iterations:         1,
		ConvergenceHistory: []float64{score},
	}, nil
}

func (s *scriptedSolver) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func portfolioProblem(params map[string]any) *optimization.Problem {
	merged := map[string]any{
		"expectedReturns": []float64{0.10, 0.15, 0.05},
	}
	for k, v := range params {
		merged[k] = v
	}
	return &optimization.Problem{
		Kind:          optimization.PortfolioAllocation,
		VariableCount: 3,
		Direction:     optimization.Maximize,
		Parameters:    merged,
	}
}

func waitCompleted(t *testing.T, h *Hub, taskID string) *optimization.Result {
	t.Helper()
	var res *optimization.Result
	require.Eventually(t, func() bool {
		r, status := h.Poll(taskID)
		if status == optimization.StatusCompleted {
			res = r
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return res
}

func TestSubmitAndPollLifecycle(t *testing.T) {
	solver := newScripted([]float64{0.333, 0.542, 0.125})
	h := New(Config{}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res := waitCompleted(t, h, id)
	assert.Equal(t, id, res.TaskID)
	assert.Equal(t, optimization.AlgorithmGenetic, res.Algorithm)
	assert.True(t, res.Success)
	assert.False(t, res.FallbackUsed)
	assert.InDelta(t, 1.555, res.Score, 0.01)

	sum := 0.0
	for _, w := range res.Solution {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	// repeated polls return the same immutable result
	again, status := h.Poll(id)
	assert.Equal(t, optimization.StatusCompleted, status)
	assert.Same(t, res, again)
}

func TestPriorityOrdering(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	h := New(Config{WorkerCount: 1}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	submit := func(marker string, priority optimization.Priority, block bool) string {
		p := portfolioProblem(map[string]any{"marker": marker, "block": block})
		id, err := h.Submit(p, optimization.AlgorithmGenetic, priority)
		require.NoError(t, err)
		return id
	}

	// occupy the single worker so the rest queue up behind it
	blocker := submit("blocker", optimization.PriorityMedium, true)
	<-solver.started

	ids := []string{
		submit("low", optimization.PriorityLow, false),
		submit("high-1", optimization.PriorityHigh, false),
		submit("medium", optimization.PriorityMedium, false),
		submit("critical", optimization.PriorityCritical, false),
		submit("high-2", optimization.PriorityHigh, false),
	}
	close(solver.gate)

	waitCompleted(t, h, blocker)
	for _, id := range ids {
		waitCompleted(t, h, id)
	}

	assert.Equal(t,
		[]string{"blocker", "critical", "high-1", "high-2", "medium", "low"},
		solver.seen())
}

func TestFallbackOnSolverFailure(t *testing.T) {
	solver := newScripted(nil)
	solver.failWith = optimization.NewError(optimization.KindSolverFailure, "scriptedSolver.Solve", "induced failure")
	h := New(Config{FallbackToClassical: true}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)

	res := waitCompleted(t, h, id)
	assert.True(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, 0.3, res.Confidence)
	for _, w := range res.Solution {
		assert.InDelta(t, 1.0/3.0, w, 1e-9)
	}
}

func TestSolverFailureWithoutFallback(t *testing.T) {
	solver := newScripted(nil)
	solver.failWith = optimization.NewError(optimization.KindSolverFailure, "scriptedSolver.Solve", "induced failure")
	h := New(Config{FallbackToClassical: false}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)

	res := waitCompleted(t, h, id)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "induced failure")
	assert.Nil(t, res.Solution)
	assert.False(t, res.FallbackUsed)
}

func TestAdvantageThresholdGate(t *testing.T) {
	t.Run("below threshold falls back", func(t *testing.T) {
		// all-in on the lowest-return asset scores well under the
		// equal-weight baseline
		solver := newScripted([]float64{0, 0, 1})
		h := New(Config{FallbackToClassical: true, AdvantageThreshold: 0.1},
			zap.NewNop(), WithSolver(solver))
		defer h.Shutdown()

		id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
		require.NoError(t, err)

		res := waitCompleted(t, h, id)
		assert.True(t, res.Success)
		assert.True(t, res.FallbackUsed)
		for _, w := range res.Solution {
			assert.InDelta(t, 1.0/3.0, w, 1e-9)
		}
	})

	t.Run("above threshold keeps solver result", func(t *testing.T) {
		solver := newScripted([]float64{0.333, 0.542, 0.125})
		h := New(Config{FallbackToClassical: true, AdvantageThreshold: 0.1},
			zap.NewNop(), WithSolver(solver))
		defer h.Shutdown()

		id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
		require.NoError(t, err)

		res := waitCompleted(t, h, id)
		assert.True(t, res.Success)
		assert.False(t, res.FallbackUsed)
		assert.Greater(t, res.Diagnostics.Advantage, 0.1)
	})
}

func TestRepeatSubmissionServedFromCache(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.4, 0.2})
	h := New(Config{CacheResults: true, CacheTTL: time.Minute}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	problem := portfolioProblem(map[string]any{"marker": "repeat"})
	first, err := h.Submit(problem, optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	firstRes := waitCompleted(t, h, first)
	assert.False(t, firstRes.CacheHit)

	second, err := h.Submit(problem, optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	secondRes := waitCompleted(t, h, second)

	assert.True(t, secondRes.CacheHit)
	assert.Equal(t, second, secondRes.TaskID)
	assert.Equal(t, firstRes.Solution, secondRes.Solution)
	assert.Equal(t, firstRes.Score, secondRes.Score)

	// only one solver run happened
	assert.Equal(t, []string{"repeat"}, solver.seen())
	st := h.Stats()
	assert.InDelta(t, 0.5, st.CacheHitRate, 1e-9)
}

func TestCancelQueuedTask(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	h := New(Config{WorkerCount: 1}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	blocker, err := h.Submit(portfolioProblem(map[string]any{"block": true}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	<-solver.started

	victim, err := h.Submit(portfolioProblem(map[string]any{"marker": "victim"}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)

	assert.True(t, h.Cancel(victim))
	assert.False(t, h.Cancel(victim), "cancel is not idempotent on unknown tasks")
	_, status := h.Poll(victim)
	assert.Equal(t, optimization.StatusNotFound, status)

	close(solver.gate)
	waitCompleted(t, h, blocker)

	assert.NotContains(t, solver.seen(), "victim")
}

func TestPollNeverReportsNotFoundForLiveTasks(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	h := New(Config{WorkerCount: 4}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	// hammer Poll against tasks racing through completion; a live task must
	// only ever report queued, processing or completed
	for i := 0; i < 500; i++ {
		p := portfolioProblem(map[string]any{"marker": fmt.Sprintf("task-%d", i)})
		id, err := h.Submit(p, optimization.AlgorithmGenetic, optimization.PriorityMedium)
		require.NoError(t, err)

		for {
			res, status := h.Poll(id)
			require.NotEqual(t, optimization.StatusNotFound, status,
				"task %s reported not_found while live", id)
			if status == optimization.StatusCompleted {
				require.NotNil(t, res)
				break
			}
		}
	}
}

func TestCancelUpdatesQueueDepthGauge(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	h := New(Config{WorkerCount: 1}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	blocker, err := h.Submit(portfolioProblem(map[string]any{"block": true}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	<-solver.started

	a, err := h.Submit(portfolioProblem(map[string]any{"marker": "a"}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	b, err := h.Submit(portfolioProblem(map[string]any{"marker": "b"}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.prom.queueDepth))
	require.True(t, h.Cancel(a))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.prom.queueDepth))
	assert.Equal(t, 1, h.Stats().QueueDepth)

	close(solver.gate)
	waitCompleted(t, h, blocker)
	waitCompleted(t, h, b)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.prom.queueDepth))
}

func TestCancelRunningTaskRefused(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	h := New(Config{WorkerCount: 1}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(map[string]any{"block": true}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	<-solver.started

	assert.False(t, h.Cancel(id))
	close(solver.gate)
	waitCompleted(t, h, id)
}

func TestPollUnknownTask(t *testing.T) {
	h := New(Config{}, zap.NewNop())
	defer h.Shutdown()

	res, status := h.Poll("no-such-task")
	assert.Nil(t, res)
	assert.Equal(t, optimization.StatusNotFound, status)
}

func TestSubmitRejectsInvalidProblem(t *testing.T) {
	h := New(Config{}, zap.NewNop())
	defer h.Shutdown()

	_, err := h.Submit(&optimization.Problem{Kind: optimization.Generic}, optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.Error(t, err)
	assert.Equal(t, optimization.KindInvalidProblem, optimization.KindOf(err))
}

func TestSubmitRejectsDisabledAlgorithm(t *testing.T) {
	h := New(Config{EnabledAlgorithms: []optimization.AlgorithmKind{optimization.AlgorithmGenetic}}, zap.NewNop())
	defer h.Shutdown()

	_, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmParticleSwarm, optimization.PriorityMedium)
	require.Error(t, err)
	assert.Equal(t, optimization.KindInvalidProblem, optimization.KindOf(err))
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	h := New(Config{WorkerCount: 1, QueueCapacity: 1}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	blocker, err := h.Submit(portfolioProblem(map[string]any{"block": true}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	<-solver.started

	_, err = h.Submit(portfolioProblem(map[string]any{"marker": "fits"}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)

	_, err = h.Submit(portfolioProblem(map[string]any{"marker": "overflow"}),
		optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.Error(t, err)
	assert.Equal(t, optimization.KindQueueFull, optimization.KindOf(err))

	close(solver.gate)
	waitCompleted(t, h, blocker)
}

func TestSubmitAfterShutdown(t *testing.T) {
	h := New(Config{}, zap.NewNop())
	h.Shutdown()

	_, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.Error(t, err)
	assert.Equal(t, optimization.KindShutdown, optimization.KindOf(err))
}

func TestExecutionTimeCap(t *testing.T) {
	solver := newScripted(nil)
	solver.waitCtx = true
	h := New(Config{MaxExecutionTime: 20 * time.Millisecond, FallbackToClassical: false},
		zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)

	res := waitCompleted(t, h, id)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "run cancelled")
}

func TestEnsembleUsesEnabledSolvers(t *testing.T) {
	solver := newScripted([]float64{0.333, 0.542, 0.125})
	h := New(Config{EnabledAlgorithms: []optimization.AlgorithmKind{optimization.AlgorithmGenetic}},
		zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmEnsemble, optimization.PriorityHigh)
	require.NoError(t, err)

	res := waitCompleted(t, h, id)
	assert.True(t, res.Success)
	assert.Equal(t, optimization.AlgorithmEnsemble, res.Algorithm)
	assert.InDelta(t, 1.555, res.Score, 0.01)
}

func TestStatsAggregates(t *testing.T) {
	solver := newScripted([]float64{0.333, 0.542, 0.125})
	h := New(Config{}, zap.NewNop(), WithSolver(solver))
	defer h.Shutdown()

	for i := 0; i < 3; i++ {
		p := portfolioProblem(map[string]any{"marker": string(rune('a' + i))})
		id, err := h.Submit(p, optimization.AlgorithmGenetic, optimization.PriorityMedium)
		require.NoError(t, err)
		waitCompleted(t, h, id)
	}

	st := h.Stats()
	assert.Equal(t, int64(3), st.TasksSubmitted)
	assert.Equal(t, int64(3), st.TasksCompleted)
	assert.Equal(t, 0, st.QueueDepth)
	assert.Equal(t, 1.0, st.SuccessRate)
	assert.InDelta(t, 0.9, st.MeanConfidence, 1e-9)
	assert.Equal(t, 0.0, st.FallbackRate)
	assert.Equal(t, int64(3), st.PerAlgorithm[optimization.AlgorithmGenetic])
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingSink) Record(_ context.Context, ev AuditEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Event
	}
	return out
}

func TestAuditTrail(t *testing.T) {
	solver := newScripted([]float64{0.4, 0.3, 0.3})
	sink := &recordingSink{}
	h := New(Config{}, zap.NewNop(), WithSolver(solver), WithAuditSink(sink))
	defer h.Shutdown()

	id, err := h.Submit(portfolioProblem(nil), optimization.AlgorithmGenetic, optimization.PriorityMedium)
	require.NoError(t, err)
	waitCompleted(t, h, id)

	assert.Equal(t, []string{"task.submitted", "task.started", "task.completed"}, sink.names())
}
