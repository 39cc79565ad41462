package observers

import (
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pro_search_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage", "outcome"},
	)

	searchTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pro_search_search_tasks_total",
			Help: "Search tasks by kind and outcome (ok, degraded)",
		},
		[]string{"kind", "outcome"},
	)

	waveSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pro_search_wave_size",
			Help:    "Number of search tasks dispatched per wave",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		},
		[]string{"kind"},
	)

	runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pro_search_runs_total",
			Help: "Completed runs by terminal stage (error for failed runs)",
		},
		[]string{"terminal_stage"},
	)

	researchLoops = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pro_search_research_loops",
		Help:    "Reflection passes per researched run",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	modelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pro_search_model_call_duration_seconds",
			Help:    "Latency of chat model calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"component"},
	)

	modelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pro_search_model_call_errors_total",
			Help: "Failed chat model calls",
		},
		[]string{"component"},
	)

	modelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pro_search_model_tokens_total",
			Help: "Tokens consumed by model and direction (prompt, completion)",
		},
		[]string{"model", "direction"},
	)

	modelCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pro_search_model_cost_usd_total",
			Help: "Estimated model spend in USD",
		},
		[]string{"model"},
	)
)

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// RecordSearchTask counts one finished search task.
func RecordSearchTask(kind string, degraded bool) {
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	searchTasks.WithLabelValues(kind, outcome).Inc()
}

// ObserveWave records the size of a dispatched wave.
func ObserveWave(kind string, size int) {
	waveSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordRun counts a finished run and its reflection passes.
func RecordRun(terminalStage string, loops int) {
	runs.WithLabelValues(terminalStage).Inc()
	if loops > 0 {
		researchLoops.Observe(float64(loops))
	}
}

// RecordModelUsage adds token usage and cost of one model call.
func RecordModelUsage(model string, usage *schema.TokenUsage, costUSD float64) {
	if usage == nil {
		return
	}
	modelTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	modelTokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	if costUSD > 0 {
		modelCost.WithLabelValues(model).Add(costUSD)
	}
}
