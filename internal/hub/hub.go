// Package hub is the task-orchestration core: a priority queue of submitted
// problems, worker goroutines that run the solver library, a TTL result
// cache, a classical fallback policy and rolling performance aggregates.
//
// Submit and Poll are safe for any number of concurrent callers. Tasks are
// dequeued strictly by priority, FIFO within a priority level. Workers are
// woken by channel signal on enqueue; there is no polling tick.
package hub

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quantadev/optimhub/internal/optimization"
	"github.com/quantadev/optimhub/internal/optimization/annealing"
	"github.com/quantadev/optimhub/internal/optimization/classical"
	"github.com/quantadev/optimhub/internal/optimization/colony"
	"github.com/quantadev/optimhub/internal/optimization/ensemble"
	"github.com/quantadev/optimhub/internal/optimization/fitness"
	"github.com/quantadev/optimhub/internal/optimization/genetic"
	"github.com/quantadev/optimhub/internal/optimization/layered"
	"github.com/quantadev/optimhub/internal/optimization/swarm"
)

// Config carries the engine options recognized by the hub.
type Config struct {
	// EnabledAlgorithms restricts the solver library; empty enables all.
	EnabledAlgorithms []optimization.AlgorithmKind
	// FallbackToClassical runs the deterministic heuristic when a solver
	// fails or misses the advantage threshold.
	FallbackToClassical bool
	// AdvantageThreshold is the minimum advantage over the classical
	// baseline required to accept a solver result. Zero disables the gate.
	AdvantageThreshold float64
	// MaxExecutionTime caps one solver run. Zero means no cap.
	MaxExecutionTime time.Duration
	CacheResults     bool
	CacheTTL         time.Duration
	// QueueCapacity bounds the queue; Submit rejects when full. Zero means
	// unbounded.
	QueueCapacity int
	// WorkerCount defaults to 1, the baseline single-active-task model.
	// Solver state is per-task, so more workers only contend on the queue.
	WorkerCount int
	// SolverDefaults seed the per-task parameters; problems override
	// individual fields through their parameter map.
	SolverDefaults optimization.Params
}

// EvaluatorFactory builds the fitness evaluator for a problem. Swappable so
// domain adapters can wire their own objectives.
type EvaluatorFactory func(*optimization.Problem) (optimization.Evaluator, error)

// Option customizes hub construction.
type Option func(*Hub)

// WithAuditSink wires the external audit collaborator.
func WithAuditSink(sink AuditSink) Option {
	return func(h *Hub) { h.audit = sink }
}

// WithEvaluatorFactory replaces the built-in fitness factory.
func WithEvaluatorFactory(f EvaluatorFactory) Option {
	return func(h *Hub) { h.evalFactory = f }
}

// WithRegisterer sets where prometheus collectors register.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.registerer = reg }
}

// WithStatsSink pushes aggregate snapshots to the metrics collaborator at
// the given interval.
func WithStatsSink(sink StatsSink, interval time.Duration) Option {
	return func(h *Hub) {
		h.statsSink = sink
		h.statsInterval = interval
	}
}

// WithSolver registers or replaces a solver, for tests and external
// algorithm plugins.
func WithSolver(s optimization.Solver) Option {
	return func(h *Hub) { h.solvers[s.Kind()] = s }
}

// Hub orchestrates task execution. Construct with New, stop with Shutdown.
type Hub struct {
	cfg         Config
	log         *zap.Logger
	solvers     map[optimization.AlgorithmKind]optimization.Solver
	evalFactory EvaluatorFactory
	audit       AuditSink
	registerer  prometheus.Registerer

	stats         *aggregates
	prom          *collectors
	statsSink     StatsSink
	statsInterval time.Duration

	mu        sync.Mutex
	queue     taskQueue
	seq       uint64
	statuses  map[string]optimization.TaskStatus
	cancelled map[string]struct{}
	closed    bool

	// results maps task id to its immutable *optimization.Result, and a
	// problem-signature key to the task id that first solved it.
	results *gocache.Cache

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a hub and starts its workers.
func New(cfg Config, log *zap.Logger, opts ...Option) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if zeroParams(cfg.SolverDefaults) {
		cfg.SolverDefaults = optimization.DefaultParams()
	}

	h := &Hub{
		cfg:         cfg,
		log:         log,
		solvers:     make(map[optimization.AlgorithmKind]optimization.Solver),
		evalFactory: fitness.New,
		audit:       LogAuditSink{Log: log},
		registerer:  prometheus.NewRegistry(),
		stats:       newAggregates(),
		statuses:    make(map[string]optimization.TaskStatus),
		cancelled:   make(map[string]struct{}),
		results:     gocache.New(cfg.CacheTTL, cfg.CacheTTL),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}

	for _, s := range []optimization.Solver{
		genetic.New(log),
		swarm.New(log),
		annealing.New(log),
		colony.New(log),
		layered.New(log),
	} {
		if h.algorithmEnabled(s.Kind()) {
			h.solvers[s.Kind()] = s
		}
	}

	for _, opt := range opts {
		opt(h)
	}
	h.prom = newCollectors(h.registerer)

	for i := 0; i < cfg.WorkerCount; i++ {
		h.wg.Add(1)
		go h.worker(i)
	}
	if h.statsSink != nil && h.statsInterval > 0 {
		h.wg.Add(1)
		go h.pushStats()
	}
	return h
}

func zeroParams(p optimization.Params) bool {
	return p == (optimization.Params{})
}

func (h *Hub) algorithmEnabled(kind optimization.AlgorithmKind) bool {
	if len(h.cfg.EnabledAlgorithms) == 0 {
		return true
	}
	for _, k := range h.cfg.EnabledAlgorithms {
		if k == kind {
			return true
		}
	}
	return false
}

// Submit validates the problem's structural shape, enqueues a task and
// returns its id. It never blocks on task execution.
func (h *Hub) Submit(problem *optimization.Problem, algorithm optimization.AlgorithmKind, priority optimization.Priority) (string, error) {
	if err := problem.Validate(); err != nil {
		return "", err
	}
	if algorithm == optimization.AlgorithmEnsemble {
		if len(h.solvers) == 0 {
			return "", optimization.NewError(optimization.KindInvalidProblem, "hub.Submit", "ensemble requires at least one enabled solver")
		}
	} else if _, ok := h.solvers[algorithm]; !ok {
		return "", optimization.NewError(optimization.KindInvalidProblem, "hub.Submit", "algorithm %q is not enabled", algorithm)
	}

	params := optimization.ParamsFromProblem(problem, h.cfg.SolverDefaults)
	task := &optimization.Task{
		ID:                uuid.NewString(),
		Problem:           problem,
		Algorithm:         algorithm,
		Priority:          priority,
		SubmittedAt:       time.Now().UTC(),
		EstimatedDuration: optimization.EstimateDuration(algorithm, params),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", optimization.NewError(optimization.KindShutdown, "hub.Submit", "hub is shut down")
	}
	if h.cfg.QueueCapacity > 0 && h.depthLocked() >= h.cfg.QueueCapacity {
		h.mu.Unlock()
		return "", optimization.NewError(optimization.KindQueueFull, "hub.Submit", "queue is full (%d tasks)", h.cfg.QueueCapacity)
	}
	h.seq++
	heap.Push(&h.queue, &queueItem{task: task, seq: h.seq})
	h.statuses[task.ID] = optimization.StatusQueued
	depth := h.depthLocked()
	h.mu.Unlock()

	h.stats.observeSubmit()
	h.prom.queueDepth.Set(float64(depth))
	h.signal()
	h.recordAudit(task.ID, "task.submitted", map[string]any{
		"algorithm": string(algorithm),
		"priority":  priority.String(),
		"kind":      string(problem.Kind),
	})
	return task.ID, nil
}

// Poll reports a task's state. For completed tasks it returns the same
// immutable result on every call; results evicted from the cache report
// StatusNotFound.
func (h *Hub) Poll(taskID string) (*optimization.Result, optimization.TaskStatus) {
	if v, ok := h.results.Get(taskID); ok {
		return v.(*optimization.Result), optimization.StatusCompleted
	}
	h.mu.Lock()
	status, ok := h.statuses[taskID]
	h.mu.Unlock()
	if ok {
		return nil, status
	}
	// completion stores the result before releasing the status entry, so a
	// task that just left the status map may have landed in the cache between
	// the two reads above
	if v, ok := h.results.Get(taskID); ok {
		return v.(*optimization.Result), optimization.StatusCompleted
	}
	return nil, optimization.StatusNotFound
}

// Cancel removes a still-queued task in O(1) by marking it; the worker skips
// marked tasks when it pops them. Running or completed tasks cannot be
// cancelled.
func (h *Hub) Cancel(taskID string) bool {
	h.mu.Lock()
	if h.statuses[taskID] != optimization.StatusQueued {
		h.mu.Unlock()
		return false
	}
	h.cancelled[taskID] = struct{}{}
	delete(h.statuses, taskID)
	depth := h.depthLocked()
	h.mu.Unlock()
	h.prom.queueDepth.Set(float64(depth))
	return true
}

// depthLocked is the effective queue depth: items still in the heap minus
// those cancelled but not yet popped. Callers hold h.mu.
func (h *Hub) depthLocked() int {
	return len(h.queue) - len(h.cancelled)
}

// Stats snapshots the rolling aggregates.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	depth := h.depthLocked()
	h.mu.Unlock()
	return h.stats.snapshot(depth)
}

// Shutdown stops the workers after their in-flight tasks finish. Queued
// tasks stay queued and are reported as pending forever; callers decide
// whether to resubmit on restart.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	close(h.stop)
	h.wg.Wait()
}

func (h *Hub) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// worker drains the queue whenever woken, then sleeps on the wake channel.
func (h *Hub) worker(id int) {
	defer h.wg.Done()
	log := h.log.With(zap.Int("worker", id))
	for {
		select {
		case <-h.stop:
			return
		case <-h.wake:
		}
		for {
			task := h.pop()
			if task == nil {
				break
			}
			h.process(log, task)
			select {
			case <-h.stop:
				return
			default:
			}
		}
	}
}

// pop returns the highest-priority queued task, discarding cancelled ones.
func (h *Hub) pop() *optimization.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.queue) > 0 {
		item := heap.Pop(&h.queue).(*queueItem)
		if _, dropped := h.cancelled[item.task.ID]; dropped {
			delete(h.cancelled, item.task.ID)
			continue
		}
		h.statuses[item.task.ID] = optimization.StatusProcessing
		h.prom.queueDepth.Set(float64(h.depthLocked()))
		return item.task
	}
	h.prom.queueDepth.Set(0)
	return nil
}

// process runs one task to its terminal result. Every path ends in exactly
// one call to complete, so a task is never left without a result.
func (h *Hub) process(log *zap.Logger, task *optimization.Task) {
	start := time.Now()
	h.recordAudit(task.ID, "task.started", nil)

	if h.cfg.CacheResults {
		if cached := h.lookupBySignature(task); cached != nil {
			h.complete(log, task, cached, start)
			return
		}
	}

	eval, err := h.evalFactory(task.Problem)
	if err != nil {
		// no evaluator means no fallback either; surface the failure
		h.complete(log, task, h.failedResult(task, err), start)
		return
	}

	params := optimization.ParamsFromProblem(task.Problem, h.cfg.SolverDefaults)
	outcome, err := h.runSolver(task, eval, params)

	baseline := classical.Solve(task.Problem, eval)
	fallbackUsed := false

	if err == nil && h.cfg.AdvantageThreshold > 0 && h.cfg.FallbackToClassical {
		if advantage(task.Problem.Direction, outcome, baseline) < h.cfg.AdvantageThreshold {
			log.Debug("solver result below advantage threshold, using classical fallback",
				zap.String("task_id", task.ID))
			outcome = baseline
			fallbackUsed = true
		}
	}
	if err != nil {
		if !h.cfg.FallbackToClassical {
			h.complete(log, task, h.failedResult(task, err), start)
			return
		}
		log.Warn("solver failed, using classical fallback",
			zap.String("task_id", task.ID),
			zap.String("algorithm", string(task.Algorithm)),
			zap.Error(err))
		outcome = baseline
		fallbackUsed = true
	}

	res := &optimization.Result{
		TaskID:        task.ID,
		Algorithm:     task.Algorithm,
		Success:       true,
		Solution:      outcome.Solution,
		Score:         outcome.Score,
		Confidence:    outcome.Confidence,
		ExecutionTime: time.Since(start),
		FallbackUsed:  fallbackUsed,
		Diagnostics: optimization.Diagnostics{
			Iterations:         outcome.Iterations,
			ConvergenceHistory: outcome.ConvergenceHistory,
			Diversity:          outcome.Diversity,
			Advantage:          advantage(task.Problem.Direction, outcome, baseline),
		},
	}
	res.ExecutionMs = res.ExecutionTime.Milliseconds()
	h.complete(log, task, res, start)
}

// runSolver executes the task's algorithm under the execution cap,
// converting panics inside solver code into solver failures.
func (h *Hub) runSolver(task *optimization.Task, eval optimization.Evaluator, params optimization.Params) (out *optimization.Outcome, err error) {
	ctx := context.Background()
	if h.cfg.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.MaxExecutionTime)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = optimization.NewError(optimization.KindSolverFailure, "hub.runSolver", "solver panicked: %v", r)
		}
	}()

	if task.Algorithm == optimization.AlgorithmEnsemble {
		return h.runEnsemble(ctx, task, eval, params)
	}
	solver := h.solvers[task.Algorithm]
	return solver.Solve(ctx, task.Problem, eval, params)
}

// runEnsemble runs every enabled solver sequentially and combines the
// outcomes. Individual solver failures are tolerated as long as one member
// succeeds.
func (h *Hub) runEnsemble(ctx context.Context, task *optimization.Task, eval optimization.Evaluator, params optimization.Params) (*optimization.Outcome, error) {
	members := make([]ensemble.Member, 0, len(h.solvers))
	var lastErr error
	for _, solver := range h.solvers {
		out, err := solver.Solve(ctx, task.Problem, eval, params)
		if err != nil {
			lastErr = err
			h.log.Warn("ensemble member failed",
				zap.String("task_id", task.ID),
				zap.String("algorithm", string(solver.Kind())),
				zap.Error(err))
			continue
		}
		members = append(members, ensemble.Member{Kind: solver.Kind(), Outcome: out})
	}
	if len(members) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, optimization.NewError(optimization.KindSolverFailure, "hub.runEnsemble", "no enabled solvers")
	}
	return ensemble.Combine(task.Problem, eval, members)
}

func (h *Hub) failedResult(task *optimization.Task, err error) *optimization.Result {
	return &optimization.Result{
		TaskID:    task.ID,
		Algorithm: task.Algorithm,
		Success:   false,
		Error:     err.Error(),
	}
}

// complete writes the terminal result, updates metrics and releases the
// task. Cache write failures are logged and do not affect the caller.
func (h *Hub) complete(log *zap.Logger, task *optimization.Task, res *optimization.Result, start time.Time) {
	if res.ExecutionTime == 0 {
		res.ExecutionTime = time.Since(start)
		res.ExecutionMs = res.ExecutionTime.Milliseconds()
	}

	if err := h.results.Add(task.ID, res, gocache.DefaultExpiration); err != nil {
		werr := optimization.WrapError(err, optimization.KindCacheWrite, "hub.complete", "result cache write failed")
		log.Error("result cache write failed", zap.String("task_id", task.ID), zap.Error(werr))
	}
	if h.cfg.CacheResults && res.Success && !res.CacheHit {
		h.results.Set(signatureKey(task), task.ID, gocache.DefaultExpiration)
	}

	h.mu.Lock()
	delete(h.statuses, task.ID)
	h.mu.Unlock()

	h.stats.observe(res)
	h.prom.observe(res)
	h.recordAudit(task.ID, "task.completed", map[string]any{
		"success":  res.Success,
		"fallback": res.FallbackUsed,
		"cacheHit": res.CacheHit,
		"score":    res.Score,
	})
	log.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("algorithm", string(task.Algorithm)),
		zap.Bool("success", res.Success),
		zap.Bool("fallback", res.FallbackUsed),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Duration("duration", res.ExecutionTime))
}

// lookupBySignature reuses an earlier result for an identical problem and
// algorithm, rebadged under the new task id.
func (h *Hub) lookupBySignature(task *optimization.Task) *optimization.Result {
	v, ok := h.results.Get(signatureKey(task))
	if !ok {
		return nil
	}
	prior, ok := h.results.Get(v.(string))
	if !ok {
		return nil
	}
	src := prior.(*optimization.Result)
	dup := *src
	dup.TaskID = task.ID
	dup.CacheHit = true
	dup.ExecutionTime = 0
	dup.ExecutionMs = 0
	return &dup
}

// signatureKey fingerprints a problem and algorithm choice. Encoding the
// problem to JSON keeps the fingerprint stable: struct fields are ordered
// and map keys are sorted.
func signatureKey(task *optimization.Task) string {
	h64 := fnv.New64a()
	h64.Write([]byte(task.Algorithm))
	if data, err := json.Marshal(task.Problem); err == nil {
		h64.Write(data)
	}
	return fmt.Sprintf("sig:%x", h64.Sum64())
}

// advantage estimates how much better an outcome is than the classical
// baseline, in the problem's objective direction, relative to the baseline's
// magnitude.
func advantage(dir optimization.Direction, out, baseline *optimization.Outcome) float64 {
	a := optimization.DirectedScore(dir, out.Score)
	b := optimization.DirectedScore(dir, baseline.Score)
	scale := math.Max(math.Abs(b), 1e-9)
	return (a - b) / scale
}

// pushStats delivers periodic snapshots to the metrics collaborator.
func (h *Hub) pushStats() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.statsSink.Observe(h.Stats())
		}
	}
}
