package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SubmissionsTotal counts finished submission pipeline runs by outcome.
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicwatch",
		Subsystem: "pipeline",
		Name:      "submissions_total",
		Help:      "Total number of submission pipeline runs, labeled by outcome.",
	}, []string{"outcome"})

	// StageFailuresTotal counts stage-level failures by stage.
	StageFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicwatch",
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Total number of submission pipeline stage failures, labeled by stage.",
	}, []string{"stage"})

	// RedactionFallbacksTotal counts redacted-variant fetches that degraded
	// to the original bytes.
	RedactionFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "civicwatch",
		Subsystem: "pipeline",
		Name:      "redaction_fallbacks_total",
		Help:      "Total number of submissions that fell back to unredacted media after a failed variant fetch.",
	})

	// SubmissionDurationSeconds is end-to-end pipeline time per run.
	SubmissionDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "civicwatch",
		Subsystem: "pipeline",
		Name:      "submission_duration_seconds",
		Help:      "End-to-end time of one submission pipeline run.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	})

	// ChangeEventsTotal counts published change-feed events by kind.
	ChangeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicwatch",
		Subsystem: "changefeed",
		Name:      "events_total",
		Help:      "Total number of change events published, labeled by kind.",
	}, []string{"kind"})

	// ListenerRefetchesTotal counts list refetches triggered by change events.
	ListenerRefetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicwatch",
		Subsystem: "listener",
		Name:      "refetches_total",
		Help:      "Total number of report list refetches, labeled by result.",
	}, []string{"result"})
)

// Register registers all metrics with the default registry. Safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			StageFailuresTotal,
			RedactionFallbacksTotal,
			SubmissionDurationSeconds,
			ChangeEventsTotal,
			ListenerRefetchesTotal,
		)
	})
}
