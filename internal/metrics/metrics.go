package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckpointDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpoint_downloads_total",
		Help: "Checkpoint download attempts by family and result",
	}, []string{"family", "result"})

	CheckpointDownloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpoint_download_bytes_total",
		Help: "Bytes fetched while provisioning checkpoints",
	}, []string{"family"})

	CheckpointDownloadDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "checkpoint_download_duration_seconds",
		Help: "Duration of checkpoint provisioning",
	}, []string{"family"})

	EvalDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "eval_duration_seconds",
		Help: "Duration of single-pass loss evaluations",
	}, []string{"scenario"})

	ScenarioRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_runs_total",
		Help: "Regression scenario runs by scenario and result",
	}, []string{"scenario", "result"})

	ScenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scenario_duration_seconds",
		Help:    "End-to-end duration of regression scenarios",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"scenario"})

	LossMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loss_mismatches_total",
		Help: "Loss terms that fell outside tolerance, by scenario and term",
	}, []string{"scenario", "loss"})

	LossTermsCompared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loss_terms_compared_total",
		Help: "Total loss terms checked against expected values",
	})
)

// RecordDownload records the outcome of one provisioning attempt.
// result is "fetched", "cached", or "error".
func RecordDownload(family, result string, bytes int64, d time.Duration) {
	CheckpointDownloads.WithLabelValues(family, result).Inc()
	if bytes > 0 {
		CheckpointDownloadBytes.WithLabelValues(family).Add(float64(bytes))
	}
	CheckpointDownloadDuration.WithLabelValues(family).Observe(d.Seconds())
}

// RecordEval records the duration of one evaluation pass.
func RecordEval(scenario string, d time.Duration) {
	EvalDuration.WithLabelValues(scenario).Observe(d.Seconds())
}

// RecordScenario records one completed scenario run.
// result is "pass", "fail", or "rebaselined".
func RecordScenario(scenario, result string, d time.Duration) {
	ScenarioRuns.WithLabelValues(scenario, result).Inc()
	ScenarioDuration.WithLabelValues(scenario).Observe(d.Seconds())
}

// RecordLossMismatch records one loss term outside tolerance.
func RecordLossMismatch(scenario, loss string) {
	LossMismatches.WithLabelValues(scenario, loss).Inc()
}
