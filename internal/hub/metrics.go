package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/quantadev/optimhub/internal/optimization"
)

// Stats is a point-in-time snapshot of the hub's rolling aggregates. All
// means are computed incrementally; the hub keeps no per-task history.
type Stats struct {
	TasksSubmitted int64   `json:"tasksSubmitted"`
	TasksCompleted int64   `json:"tasksCompleted"`
	QueueDepth     int     `json:"queueDepth"`
	SuccessRate    float64 `json:"successRate"`
	MeanConfidence float64 `json:"meanConfidence"`
	MeanExecMs     float64 `json:"meanExecutionMs"`
	MeanAdvantage  float64 `json:"meanAdvantage"`
	FallbackRate   float64 `json:"fallbackRate"`
	CacheHitRate   float64 `json:"cacheHitRate"`

	PerAlgorithm map[optimization.AlgorithmKind]int64 `json:"perAlgorithm"`
}

// StatsSink receives periodic aggregate snapshots, the metrics collaborator
// of the engine.
type StatsSink interface {
	Observe(Stats)
}

// LogStatsSink writes aggregate snapshots to the structured log, the default
// collaborator when no external metrics pipeline is wired in.
type LogStatsSink struct {
	Log *zap.Logger
}

func (s LogStatsSink) Observe(st Stats) {
	s.Log.Info("engine stats",
		zap.Int64("tasks_submitted", st.TasksSubmitted),
		zap.Int64("tasks_completed", st.TasksCompleted),
		zap.Int("queue_depth", st.QueueDepth),
		zap.Float64("success_rate", st.SuccessRate),
		zap.Float64("fallback_rate", st.FallbackRate),
		zap.Float64("cache_hit_rate", st.CacheHitRate),
		zap.Float64("mean_confidence", st.MeanConfidence),
	)
}

// aggregates folds completed results into online means.
type aggregates struct {
	mu             sync.Mutex
	submitted      int64
	completed      int64
	successes      int64
	fallbacks      int64
	cacheHits      int64
	meanConfidence float64
	meanExecMs     float64
	meanAdvantage  float64
	perAlgorithm   map[optimization.AlgorithmKind]int64
}

func newAggregates() *aggregates {
	return &aggregates{perAlgorithm: make(map[optimization.AlgorithmKind]int64)}
}

func (a *aggregates) observeSubmit() {
	a.mu.Lock()
	a.submitted++
	a.mu.Unlock()
}

func (a *aggregates) observe(res *optimization.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.completed++
	n := float64(a.completed)
	if res.Success {
		a.successes++
	}
	if res.FallbackUsed {
		a.fallbacks++
	}
	if res.CacheHit {
		a.cacheHits++
	}
	a.meanConfidence += (res.Confidence - a.meanConfidence) / n
	a.meanExecMs += (float64(res.ExecutionMs) - a.meanExecMs) / n
	a.meanAdvantage += (res.Diagnostics.Advantage - a.meanAdvantage) / n
	a.perAlgorithm[res.Algorithm]++
}

func (a *aggregates) snapshot(queueDepth int) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TasksSubmitted: a.submitted,
		TasksCompleted: a.completed,
		QueueDepth:     queueDepth,
		MeanConfidence: a.meanConfidence,
		MeanExecMs:     a.meanExecMs,
		MeanAdvantage:  a.meanAdvantage,
		PerAlgorithm:   make(map[optimization.AlgorithmKind]int64, len(a.perAlgorithm)),
	}
	if a.completed > 0 {
		n := float64(a.completed)
		s.SuccessRate = float64(a.successes) / n
		s.FallbackRate = float64(a.fallbacks) / n
		s.CacheHitRate = float64(a.cacheHits) / n
	}
	for k, v := range a.perAlgorithm {
		s.PerAlgorithm[k] = v
	}
	return s
}

// collectors holds the prometheus instruments mirroring the aggregates.
type collectors struct {
	tasksTotal    *prometheus.CounterVec
	fallbackTotal prometheus.Counter
	cacheHits     prometheus.Counter
	solveDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
}

func newCollectors(reg prometheus.Registerer) *collectors {
	factory := promauto.With(reg)
	return &collectors{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optimhub",
			Name:      "tasks_total",
			Help:      "Completed tasks by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		fallbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "optimhub",
			Name:      "fallback_total",
			Help:      "Tasks answered by the classical fallback.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "optimhub",
			Name:      "cache_hits_total",
			Help:      "Tasks served from the result cache.",
		}),
		solveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "optimhub",
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock solver execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "optimhub",
			Name:      "queue_depth",
			Help:      "Tasks currently queued.",
		}),
	}
}

func (c *collectors) observe(res *optimization.Result) {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	c.tasksTotal.WithLabelValues(string(res.Algorithm), outcome).Inc()
	if res.FallbackUsed {
		c.fallbackTotal.Inc()
	}
	if res.CacheHit {
		c.cacheHits.Inc()
	}
	c.solveDuration.Observe(res.ExecutionTime.Seconds())
}
